package repositories

import (
	"context"
	"time"

	"github.com/jobreel/backend/internal/models"
)

// VideoRepository exposes data access for video resumes.
type VideoRepository interface {
	Create(ctx context.Context, video models.VideoResume) error
	Get(ctx context.Context, id string) (models.VideoResume, error)
	// Transition moves a video from one status to another only if it is
	// currently in the from status. It reports whether the row changed.
	Transition(ctx context.Context, id string, from, to models.VideoStatus, purgeAfter *time.Time, at time.Time) (bool, error)
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]models.VideoResume, error)
	MarkPurged(ctx context.Context, id string, at time.Time) error
}

// ApplicationRepository reads the job application records that authorize
// employers to view a video resume.
type ApplicationRepository interface {
	Create(ctx context.Context, application models.Application) error
	CanView(ctx context.Context, viewerID, applicationID, videoID string) (bool, error)
}
