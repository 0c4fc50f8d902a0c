package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/signing"
)

const (
	// DefaultRefreshLead is how long before expiry a token may be refreshed.
	DefaultRefreshLead = 2 * time.Minute
	// DefaultRefreshLapse is how long after expiry a token may still be refreshed.
	DefaultRefreshLapse = time.Minute
)

// Broker re-issues the playback URL for a view that was already paid for.
// It never touches the ledger.
type Broker struct {
	Videos      VideoStore
	Grants      GrantStore
	Tokens      TokenIssuer
	Revocations RevocationChecker
	Recorder    Recorder
	TokenTTL    time.Duration
	Lead        time.Duration
	Lapse       time.Duration
	NowFunc     func() time.Time
}

func (b *Broker) now() time.Time {
	if b.NowFunc != nil {
		return b.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Refresh swaps the presented token for a new one bound to the same grant.
// The token must be the grant's current session and must be inside the
// refresh window around its expiry.
func (b *Broker) Refresh(ctx context.Context, videoID, applicationID, viewerID, token string) (grant Grant, err error) {
	ctx, span := logging.StartSpan(ctx, "access.refresh")
	defer func() {
		if b.Recorder != nil {
			b.Recorder.RefreshOutcome(OutcomeLabel(err))
		}
		span.End(err)
	}()

	claims, err := b.Tokens.Inspect(token)
	if err != nil {
		return Grant{}, signing.ErrInvalidToken
	}
	if claims.VideoID != videoID {
		return Grant{}, signing.ErrInvalidToken
	}

	revoked, err := b.Revocations.IsRevoked(ctx, videoID)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: check revocation: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		return Grant{}, signing.ErrInvalidToken
	}

	current, err := b.Grants.Get(ctx, claims.GrantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Grant{}, signing.ErrInvalidToken
		}
		return Grant{}, fmt.Errorf("%w: load grant: %v", ErrStorageUnavailable, err)
	}
	if current.VideoID != videoID || current.ApplicationID != applicationID || current.ViewerID != viewerID {
		return Grant{}, signing.ErrInvalidToken
	}
	if current.ActiveSessionID == "" || current.ActiveSessionID != claims.SessionID() {
		return Grant{}, signing.ErrInvalidToken
	}

	video, err := b.Videos.Get(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Grant{}, quota.ErrVideoUnavailable
		}
		return Grant{}, fmt.Errorf("%w: load video: %v", ErrStorageUnavailable, err)
	}
	switch video.Status {
	case models.VideoStatusActive:
	case models.VideoStatusBlocked:
		return Grant{}, signing.ErrInvalidToken
	default:
		return Grant{}, quota.ErrVideoUnavailable
	}

	now := b.now()
	expiresAt := claims.ExpiresAt.Time
	if now.Before(expiresAt.Add(-durationOr(b.Lead, DefaultRefreshLead))) {
		return Grant{}, ErrRefreshTooEarly
	}
	if now.After(expiresAt.Add(durationOr(b.Lapse, DefaultRefreshLapse))) {
		return Grant{}, ErrSessionExpiredTooLong
	}

	next, err := b.Tokens.Mint(ctx, videoID, current.ID, durationOr(b.TokenTTL, signing.DefaultTTL))
	if err != nil {
		return Grant{}, fmt.Errorf("%w: mint token: %v", ErrStorageUnavailable, err)
	}

	swapped, err := b.Grants.SwapSession(ctx, current.ID, claims.SessionID(), next.SessionID, next.ExpiresAt, now)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: swap session: %v", ErrStorageUnavailable, err)
	}
	if !swapped {
		// A concurrent refresh or a new view already replaced this session.
		return Grant{}, signing.ErrInvalidToken
	}

	logging.FromContext(ctx).Info("session refreshed", "video_id", videoID, "grant_id", current.ID, "expires_at", next.ExpiresAt)

	return Grant{
		URL:            next.URL,
		ExpiresAt:      next.ExpiresAt,
		ViewsRemaining: current.ViewsRemaining(),
	}, nil
}
