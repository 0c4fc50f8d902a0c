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

// PostgresGrantRepository provides PostgreSQL-backed persistence for view grants.
type PostgresGrantRepository struct {
	pool db.Pool
}

// NewPostgresGrantRepository constructs a grant repository backed by PostgreSQL.
func NewPostgresGrantRepository(pool db.Pool) *PostgresGrantRepository {
	return &PostgresGrantRepository{pool: pool}
}

const grantColumns = `id, video_id, application_id, viewer_id, views_consumed, max_views, active_session_id, last_token_expires_at, created_at, updated_at`

func scanGrant(row pgx.Row) (models.ViewGrant, error) {
	var (
		grant   models.ViewGrant
		session *string
	)
	if err := row.Scan(&grant.ID, &grant.VideoID, &grant.ApplicationID, &grant.ViewerID, &grant.ViewsConsumed, &grant.MaxViews, &session, &grant.LastTokenExpiresAt, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
		return models.ViewGrant{}, err
	}
	if session != nil {
		grant.ActiveSessionID = *session
	}
	return grant, nil
}

// Ensure inserts the grant if the (video, application) pair has none and
// returns the stored row either way.
func (r *PostgresGrantRepository) Ensure(ctx context.Context, grant models.ViewGrant) (models.ViewGrant, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ViewGrant{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	maxViews := grant.MaxViews
	if maxViews <= 0 {
		maxViews = models.DefaultMaxViews
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO view_grants (id, video_id, application_id, viewer_id, views_consumed, max_views, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
        ON CONFLICT (video_id, application_id) DO NOTHING
    `, grant.ID, grant.VideoID, grant.ApplicationID, grant.ViewerID, maxViews, grant.CreatedAt)
	if err != nil {
		return models.ViewGrant{}, mapWriteError(err, "insert view grant")
	}

	stored, err := scanGrant(conn.QueryRow(ctx, `
        SELECT `+grantColumns+`
        FROM view_grants
        WHERE video_id = $1 AND application_id = $2
    `, grant.VideoID, grant.ApplicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ViewGrant{}, ErrNotFound
		}
		return models.ViewGrant{}, fmt.Errorf("select view grant: %w", err)
	}

	return stored, nil
}

// Get fetches a grant by id.
func (r *PostgresGrantRepository) Get(ctx context.Context, id string) (models.ViewGrant, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ViewGrant{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	grant, err := scanGrant(conn.QueryRow(ctx, `SELECT `+grantColumns+` FROM view_grants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ViewGrant{}, ErrNotFound
		}
		return models.ViewGrant{}, fmt.Errorf("select view grant: %w", err)
	}

	return grant, nil
}

// FindByPair fetches the grant for a (video, application) pair.
func (r *PostgresGrantRepository) FindByPair(ctx context.Context, videoID, applicationID string) (models.ViewGrant, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ViewGrant{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	grant, err := scanGrant(conn.QueryRow(ctx, `
        SELECT `+grantColumns+`
        FROM view_grants
        WHERE video_id = $1 AND application_id = $2
    `, videoID, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ViewGrant{}, ErrNotFound
		}
		return models.ViewGrant{}, fmt.Errorf("select view grant by pair: %w", err)
	}

	return grant, nil
}

// IncrementIfEqual consumes one view with a single conditional write.
func (r *PostgresGrantRepository) IncrementIfEqual(ctx context.Context, grantID string, expected int, at time.Time) (models.ViewGrant, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.ViewGrant{}, false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	grant, err := scanGrant(conn.QueryRow(ctx, `
        UPDATE view_grants AS g
        SET views_consumed = g.views_consumed + 1,
            updated_at = $3
        WHERE g.id = $1
          AND g.views_consumed = $2
          AND g.views_consumed < g.max_views
          AND EXISTS (
              SELECT 1 FROM video_resumes v
              WHERE v.id = g.video_id AND v.status = 'active'
          )
        RETURNING `+grantColumns, grantID, expected, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ViewGrant{}, false, nil
		}
		return models.ViewGrant{}, false, fmt.Errorf("increment view grant: %w", err)
	}

	return grant, true, nil
}

// BindSession records the most recently issued session for the grant.
func (r *PostgresGrantRepository) BindSession(ctx context.Context, grantID, sessionID string, expiresAt, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE view_grants
        SET active_session_id = $2, last_token_expires_at = $3, updated_at = $4
        WHERE id = $1
    `, grantID, sessionID, expiresAt, at)
	if err != nil {
		return fmt.Errorf("bind grant session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SwapSession replaces the active session only if it still matches expected.
func (r *PostgresGrantRepository) SwapSession(ctx context.Context, grantID, expected, next string, expiresAt, at time.Time) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE view_grants
        SET active_session_id = $3, last_token_expires_at = $4, updated_at = $5
        WHERE id = $1 AND active_session_id = $2
    `, grantID, expected, next, expiresAt, at)
	if err != nil {
		return false, fmt.Errorf("swap grant session: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

var _ GrantRepository = (*PostgresGrantRepository)(nil)
