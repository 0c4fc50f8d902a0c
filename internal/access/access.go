// Package access decides whether a viewer may play a video resume and issues
// or refreshes the signed playback URL.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/notify"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/signing"
)

// ApplicationDirectory answers whether a viewer holds the application that
// references a video.
type ApplicationDirectory interface {
	CanView(ctx context.Context, viewerID, applicationID, videoID string) (bool, error)
}

// VideoStore reads and transitions video resumes.
type VideoStore interface {
	Get(ctx context.Context, id string) (models.VideoResume, error)
	Transition(ctx context.Context, id string, from, to models.VideoStatus, purgeAfter *time.Time, at time.Time) (bool, error)
}

// GrantStore reads grants and manages their bound session.
type GrantStore interface {
	Get(ctx context.Context, id string) (models.ViewGrant, error)
	BindSession(ctx context.Context, grantID, sessionID string, expiresAt, at time.Time) error
	SwapSession(ctx context.Context, grantID, expected, next string, expiresAt, at time.Time) (bool, error)
}

// Ledger consumes quota.
type Ledger interface {
	TryConsume(ctx context.Context, videoID, applicationID, viewerID string) (quota.Consumption, error)
}

// TokenIssuer mints and inspects stream tokens.
type TokenIssuer interface {
	Mint(ctx context.Context, videoID, grantID string, ttl time.Duration) (signing.Token, error)
	Inspect(token string) (signing.Claims, error)
}

// RevocationChecker reports revoked videos.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, videoID string) (bool, error)
}

// Notifier schedules owner notifications.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

// Recorder observes access and refresh outcomes.
type Recorder interface {
	AccessOutcome(outcome string)
	RefreshOutcome(outcome string)
}

// Grant is the playback URL handed to the viewer.
type Grant struct {
	URL            string
	ExpiresAt      time.Time
	ViewsRemaining int
}

// OutcomeLabel names an access or refresh result for metrics.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, quota.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, quota.ErrVideoUnavailable):
		return "video_unavailable"
	case errors.Is(err, signing.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrSessionExpiredTooLong):
		return "session_expired"
	case errors.Is(err, ErrRefreshTooEarly):
		return "too_early"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
