package repositories

import (
	"context"
	"time"

	"github.com/jobreel/backend/internal/models"
)

// ComplaintResolution describes a moderator decision on a pending complaint.
type ComplaintResolution struct {
	ComplaintID string
	Status      models.ComplaintStatus
	BlockVideo  bool
	Resolution  string
	ModeratorID string
	ResolvedAt  time.Time
}

// ResolveOutcome is the state left behind by a successful resolution.
type ResolveOutcome struct {
	Complaint models.Complaint
	Video     models.VideoResume
	// VideoBlocked is true when this resolution moved the video from active
	// to blocked.
	VideoBlocked bool
}

// ComplaintRepository persists complaints and applies moderator decisions.
type ComplaintRepository interface {
	Create(ctx context.Context, complaint models.Complaint) error
	Get(ctx context.Context, id string) (models.Complaint, error)
	// Resolve atomically settles a pending complaint and, when requested,
	// blocks its video. It returns ErrConflict when the complaint was already
	// resolved and ErrNotFound when it does not exist.
	Resolve(ctx context.Context, resolution ComplaintResolution) (ResolveOutcome, error)
}
