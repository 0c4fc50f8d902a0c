package repositories

import (
	"context"
	"time"

	"github.com/jobreel/backend/internal/models"
)

// GrantRepository persists per-application view grants.
type GrantRepository interface {
	// Ensure returns the grant for (VideoID, ApplicationID), inserting the
	// provided grant when none exists yet.
	Ensure(ctx context.Context, grant models.ViewGrant) (models.ViewGrant, error)
	Get(ctx context.Context, id string) (models.ViewGrant, error)
	FindByPair(ctx context.Context, videoID, applicationID string) (models.ViewGrant, error)
	// IncrementIfEqual adds one view when the grant still has expected views
	// consumed, has views left and its video is active. ok is false when any
	// of those conditions no longer hold.
	IncrementIfEqual(ctx context.Context, grantID string, expected int, at time.Time) (grant models.ViewGrant, ok bool, err error)
	// BindSession unconditionally records the most recently issued session.
	BindSession(ctx context.Context, grantID, sessionID string, expiresAt, at time.Time) error
	// SwapSession replaces the active session only when it still equals
	// expected.
	SwapSession(ctx context.Context, grantID, expected, next string, expiresAt, at time.Time) (bool, error)
}
