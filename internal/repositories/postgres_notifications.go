package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobreel/backend/internal/db"
	"github.com/jobreel/backend/internal/models"
)

// PostgresNotificationRepository provides PostgreSQL-backed persistence for notification records.
type PostgresNotificationRepository struct {
	pool db.Pool
}

// NewPostgresNotificationRepository constructs a notification repository backed by PostgreSQL.
func NewPostgresNotificationRepository(pool db.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

const notificationColumns = `id, user_id, type, payload, dedupe_key, status, attempts, last_error, created_at, updated_at`

func scanNotification(row pgx.Row) (models.NotificationRecord, error) {
	var record models.NotificationRecord
	var kind, status string
	var payload map[string]string
	if err := row.Scan(&record.ID, &record.UserID, &kind, &payload, &record.DedupeKey, &status, &record.Attempts, &record.LastError, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return models.NotificationRecord{}, err
	}
	record.Type = models.NotificationType(kind)
	record.Status = models.NotificationStatus(status)
	record.Payload = payload
	return record, nil
}

// CreatePending inserts a pending record unless its dedupe key already exists.
func (r *PostgresNotificationRepository) CreatePending(ctx context.Context, record models.NotificationRecord) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	payload := record.Payload
	if payload == nil {
		payload = map[string]string{}
	}

	tag, err := conn.Exec(ctx, `
        INSERT INTO notifications (id, user_id, type, payload, dedupe_key, status, attempts, last_error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', 0, '', $6, $6)
        ON CONFLICT (dedupe_key) DO NOTHING
    `, record.ID, record.UserID, string(record.Type), payload, record.DedupeKey, record.CreatedAt)
	if err != nil {
		return false, mapWriteError(err, "insert notification")
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateDelivery records the outcome of a delivery attempt.
func (r *PostgresNotificationRepository) UpdateDelivery(ctx context.Context, id string, status models.NotificationStatus, attempts int, lastError string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE notifications
        SET status = $2, attempts = $3, last_error = $4, updated_at = $5
        WHERE id = $1
    `, id, string(status), attempts, lastError, at)
	if err != nil {
		return fmt.Errorf("update notification delivery: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListPending returns the oldest pending notifications.
func (r *PostgresNotificationRepository) ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+notificationColumns+`
        FROM notifications
        WHERE status = 'pending'
        ORDER BY created_at
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		record, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending notifications: %w", err)
	}

	return records, nil
}

// GetByDedupeKey fetches the record stored under key.
func (r *PostgresNotificationRepository) GetByDedupeKey(ctx context.Context, key string) (models.NotificationRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	record, err := scanNotification(conn.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE dedupe_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NotificationRecord{}, ErrNotFound
		}
		return models.NotificationRecord{}, fmt.Errorf("select notification: %w", err)
	}

	return record, nil
}

var _ NotificationRepository = (*PostgresNotificationRepository)(nil)
