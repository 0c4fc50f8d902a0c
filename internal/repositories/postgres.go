package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobreel/backend/internal/db"
	"github.com/jobreel/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapWriteError converts constraint violations into repository errors.
func mapWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrConflict
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for video resumes.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

const videoColumns = `id, owner_id, storage_key, status, purge_after, purged_at, created_at, updated_at`

func scanVideo(row pgx.Row) (models.VideoResume, error) {
	var (
		video  models.VideoResume
		status string
	)
	if err := row.Scan(&video.ID, &video.OwnerID, &video.StorageKey, &status, &video.PurgeAfter, &video.PurgedAt, &video.CreatedAt, &video.UpdatedAt); err != nil {
		return models.VideoResume{}, err
	}
	video.Status = models.VideoStatus(status)
	return video, nil
}

// Create stores a new video resume.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.VideoResume) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	status := video.Status
	if status == "" {
		status = models.VideoStatusActive
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO video_resumes (id, owner_id, storage_key, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, video.ID, video.OwnerID, video.StorageKey, string(status), video.CreatedAt, video.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "insert video resume")
	}

	return nil
}

// Get fetches a video resume by id.
func (r *PostgresVideoRepository) Get(ctx context.Context, id string) (models.VideoResume, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.VideoResume{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	video, err := scanVideo(conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM video_resumes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoResume{}, ErrNotFound
		}
		return models.VideoResume{}, fmt.Errorf("select video resume: %w", err)
	}

	return video, nil
}

// Transition performs a compare-and-set on the video status.
func (r *PostgresVideoRepository) Transition(ctx context.Context, id string, from, to models.VideoStatus, purgeAfter *time.Time, at time.Time) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE video_resumes
        SET status = $3,
            purge_after = COALESCE($4, purge_after),
            updated_at = $5
        WHERE id = $1 AND status = $2
    `, id, string(from), string(to), purgeAfter, at)
	if err != nil {
		return false, fmt.Errorf("transition video status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListPurgeable returns deleted videos whose purge deadline passed and whose
// object has not been removed yet.
func (r *PostgresVideoRepository) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]models.VideoResume, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+videoColumns+`
        FROM video_resumes
        WHERE status = 'deleted'
          AND purged_at IS NULL
          AND purge_after IS NOT NULL
          AND purge_after <= $1
        ORDER BY purge_after
        LIMIT $2
    `, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query purgeable videos: %w", err)
	}
	defer rows.Close()

	var videos []models.VideoResume
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purgeable video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purgeable videos: %w", err)
	}

	return videos, nil
}

// MarkPurged records that the video's object was removed from storage.
func (r *PostgresVideoRepository) MarkPurged(ctx context.Context, id string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE video_resumes
        SET purged_at = $2, updated_at = $2
        WHERE id = $1
    `, id, at)
	if err != nil {
		return fmt.Errorf("mark video purged: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresApplicationRepository reads job applications from PostgreSQL.
type PostgresApplicationRepository struct {
	pool db.Pool
}

// NewPostgresApplicationRepository constructs an application repository backed by PostgreSQL.
func NewPostgresApplicationRepository(pool db.Pool) *PostgresApplicationRepository {
	return &PostgresApplicationRepository{pool: pool}
}

// Create stores a job application.
func (r *PostgresApplicationRepository) Create(ctx context.Context, application models.Application) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO job_applications (id, video_resume_id, job_seeker_id, employer_id, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, application.ID, application.VideoResumeID, application.JobSeekerID, application.EmployerID, application.CreatedAt)
	if err != nil {
		return mapWriteError(err, "insert job application")
	}

	return nil
}

// CanView reports whether the viewer is the employer on the application and
// the application references the video.
func (r *PostgresApplicationRepository) CanView(ctx context.Context, viewerID, applicationID, videoID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var allowed bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM job_applications
            WHERE id = $1 AND employer_id = $2 AND video_resume_id = $3
        )
    `, applicationID, viewerID, videoID).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check job application: %w", err)
	}

	return allowed, nil
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
var _ ApplicationRepository = (*PostgresApplicationRepository)(nil)
