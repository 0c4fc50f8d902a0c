// Package moderation applies moderator decisions on complaints, including
// hard revocation of a video's outstanding playback tokens.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/notify"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/revocation"
)

var (
	// ErrAlreadyResolved is returned when the complaint has already been settled.
	ErrAlreadyResolved = errors.New("complaint already resolved")
	// ErrComplaintNotFound is returned when no complaint matches the id.
	ErrComplaintNotFound = errors.New("complaint not found")
	// ErrInvalidResolution is returned for decisions other than approved or rejected.
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Resolution is a moderator's decision on a complaint.
type Resolution struct {
	Status      models.ComplaintStatus
	BlockVideo  bool
	Comment     string
	ModeratorID string
}

// Notifier enqueues owner notifications.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

// Recorder observes resolution outcomes.
type Recorder interface {
	ComplaintResolved(status models.ComplaintStatus, blocked bool)
}

// Override settles complaints and revokes blocked videos.
type Override struct {
	Complaints  repositories.ComplaintRepository
	Revocations revocation.List
	Notifier    Notifier
	Recorder    Recorder
	NowFunc     func() time.Time
}

func (o *Override) now() time.Time {
	if o.NowFunc != nil {
		return o.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// Resolve moves a pending complaint to approved or rejected. An approved
// complaint that asks for a block moves an active video to blocked, writes
// the revocation marker and tells the owner. Resolving twice returns
// ErrAlreadyResolved and changes nothing.
func (o *Override) Resolve(ctx context.Context, complaintID string, resolution Resolution) (complaint models.Complaint, err error) {
	ctx, span := logging.StartSpan(ctx, "moderation.resolve")
	defer func() { span.End(err) }()

	if resolution.Status != models.ComplaintStatusApproved && resolution.Status != models.ComplaintStatusRejected {
		return models.Complaint{}, ErrInvalidResolution
	}
	block := resolution.BlockVideo && resolution.Status == models.ComplaintStatusApproved

	outcome, err := o.Complaints.Resolve(ctx, repositories.ComplaintResolution{
		ComplaintID: complaintID,
		Status:      resolution.Status,
		BlockVideo:  block,
		Resolution:  strings.TrimSpace(resolution.Comment),
		ModeratorID: resolution.ModeratorID,
		ResolvedAt:  o.now(),
	})
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return models.Complaint{}, ErrComplaintNotFound
	case errors.Is(err, repositories.ErrConflict):
		o.repairMarker(ctx, complaintID)
		return models.Complaint{}, ErrAlreadyResolved
	case err != nil:
		return models.Complaint{}, fmt.Errorf("resolve complaint: %w", err)
	}

	logger := logging.FromContext(ctx).With("complaint_id", complaintID, "video_id", outcome.Complaint.VideoID)

	if block {
		if err := o.Revocations.Revoke(ctx, outcome.Complaint.VideoID); err != nil {
			logger.Error("complaint approved but revocation marker failed", "error", err)
			return outcome.Complaint, fmt.Errorf("write revocation marker: %w", err)
		}
		if o.Notifier != nil {
			o.Notifier.Notify(ctx, notify.Notification{
				UserID:    outcome.Video.OwnerID,
				Type:      models.NotificationVideoBlocked,
				VideoID:   outcome.Complaint.VideoID,
				DedupeKey: fmt.Sprintf("%s:%s", models.NotificationVideoBlocked, outcome.Complaint.VideoID),
				Payload:   map[string]string{"complaintId": complaintID},
			})
		}
	}

	if o.Recorder != nil {
		o.Recorder.ComplaintResolved(outcome.Complaint.Status, outcome.VideoBlocked)
	}
	logger.Info("complaint resolved", "status", outcome.Complaint.Status, "video_blocked", outcome.VideoBlocked, "video_status", outcome.Video.Status)

	return outcome.Complaint, nil
}

// repairMarker re-asserts the marker for an approved block whose first
// resolve committed but failed to write it. Writing a marker twice is a no-op.
func (o *Override) repairMarker(ctx context.Context, complaintID string) {
	existing, err := o.Complaints.Get(ctx, complaintID)
	if err != nil || existing.Status != models.ComplaintStatusApproved || !existing.BlockVideo {
		return
	}
	if err := o.Revocations.Revoke(ctx, existing.VideoID); err != nil {
		logging.FromContext(ctx).Warn("revocation marker repair failed", "complaint_id", complaintID, "error", err)
	}
}
