package handlers

import (
	"context"

	"github.com/jobreel/backend/internal/access"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/moderation"
	"github.com/jobreel/backend/internal/signing"
)

// AccessGate starts a new rationed view.
type AccessGate interface {
	RequestAccess(ctx context.Context, videoID, applicationID, viewerID string) (access.Grant, error)
}

// RefreshBroker re-issues the playback URL for a view in progress.
type RefreshBroker interface {
	Refresh(ctx context.Context, videoID, applicationID, viewerID, token string) (access.Grant, error)
}

// ComplaintResolver applies moderator decisions.
type ComplaintResolver interface {
	Resolve(ctx context.Context, complaintID string, resolution moderation.Resolution) (models.Complaint, error)
}

// TokenVerifier validates playback tokens presented to the stream endpoint.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (signing.Claims, error)
}

// VideoLookup reads video resumes.
type VideoLookup interface {
	Get(ctx context.Context, id string) (models.VideoResume, error)
}

// GrantLookup reads view grants.
type GrantLookup interface {
	Get(ctx context.Context, id string) (models.ViewGrant, error)
}

// ObjectPresigner hands out short-lived object store URLs.
type ObjectPresigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// ErrorReporter forwards server-side failures to error tracking.
type ErrorReporter func(ctx context.Context, err error, tags map[string]string)
