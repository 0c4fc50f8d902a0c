package repositories

import (
	"context"
	"errors"
	"fmt"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/jobreel/backend/internal/db"
	"github.com/jobreel/backend/internal/models"
)

// PostgresComplaintRepository provides PostgreSQL-backed persistence for complaints.
type PostgresComplaintRepository struct {
	pool db.Pool
}

// NewPostgresComplaintRepository constructs a complaint repository backed by PostgreSQL.
func NewPostgresComplaintRepository(pool db.Pool) *PostgresComplaintRepository {
	return &PostgresComplaintRepository{pool: pool}
}

const complaintColumns = `id, video_id, reporter_id, reported_id, reason, status, block_video, resolution, moderator_id, created_at, resolved_at`

func scanComplaint(row pgx.Row) (models.Complaint, error) {
	var (
		complaint models.Complaint
		status    string
	)
	if err := row.Scan(&complaint.ID, &complaint.VideoID, &complaint.ReporterID, &complaint.ReportedID, &complaint.Reason, &status, &complaint.BlockVideo, &complaint.Resolution, &complaint.ModeratorID, &complaint.CreatedAt, &complaint.ResolvedAt); err != nil {
		return models.Complaint{}, err
	}
	complaint.Status = models.ComplaintStatus(status)
	return complaint, nil
}

// Create stores a new pending complaint.
func (r *PostgresComplaintRepository) Create(ctx context.Context, complaint models.Complaint) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO complaints (id, video_id, reporter_id, reported_id, reason, status, created_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6)
    `, complaint.ID, complaint.VideoID, complaint.ReporterID, complaint.ReportedID, complaint.Reason, complaint.CreatedAt)
	if err != nil {
		return mapWriteError(err, "insert complaint")
	}

	return nil
}

// Get fetches a complaint by id.
func (r *PostgresComplaintRepository) Get(ctx context.Context, id string) (models.Complaint, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Complaint{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	complaint, err := scanComplaint(conn.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Complaint{}, ErrNotFound
		}
		return models.Complaint{}, fmt.Errorf("select complaint: %w", err)
	}

	return complaint, nil
}

// Resolve settles the complaint and optionally blocks the video inside one
// retried transaction.
func (r *PostgresComplaintRepository) Resolve(ctx context.Context, resolution ComplaintResolution) (ResolveOutcome, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return ResolveOutcome{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var outcome ResolveOutcome
	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		outcome = ResolveOutcome{}

		complaint, err := scanComplaint(tx.QueryRow(ctx, `
            UPDATE complaints
            SET status = $2, block_video = $3, resolution = $4, moderator_id = $5, resolved_at = $6
            WHERE id = $1 AND status = 'pending'
            RETURNING `+complaintColumns,
			resolution.ComplaintID, string(resolution.Status), resolution.BlockVideo,
			resolution.Resolution, resolution.ModeratorID, resolution.ResolvedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM complaints WHERE id = $1)`, resolution.ComplaintID).Scan(&exists); err != nil {
				return fmt.Errorf("check complaint: %w", err)
			}
			if exists {
				return ErrConflict
			}
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("resolve complaint: %w", err)
		}
		outcome.Complaint = complaint

		if complaint.Status == models.ComplaintStatusApproved && complaint.BlockVideo {
			tag, err := tx.Exec(ctx, `
                UPDATE video_resumes
                SET status = 'blocked', updated_at = $2
                WHERE id = $1 AND status = 'active'
            `, complaint.VideoID, resolution.ResolvedAt)
			if err != nil {
				return fmt.Errorf("block video: %w", err)
			}
			outcome.VideoBlocked = tag.RowsAffected() == 1
		}

		video, err := scanVideo(tx.QueryRow(ctx, `SELECT `+videoColumns+` FROM video_resumes WHERE id = $1`, complaint.VideoID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select complaint video: %w", err)
		}
		outcome.Video = video

		return nil
	})
	if err != nil {
		return ResolveOutcome{}, err
	}

	return outcome, nil
}

var _ ComplaintRepository = (*PostgresComplaintRepository)(nil)
