package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/notify"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/signing"
)

// Gate is the single entry point for starting a new view.
type Gate struct {
	Videos       VideoStore
	Grants       GrantStore
	Applications ApplicationDirectory
	Ledger       Ledger
	Tokens       TokenIssuer
	Notifier     Notifier
	Recorder     Recorder
	TokenTTL     time.Duration
	NowFunc      func() time.Time
}

func (g *Gate) now() time.Time {
	if g.NowFunc != nil {
		return g.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func (g *Gate) ttl() time.Duration {
	if g.TokenTTL > 0 {
		return g.TokenTTL
	}
	return signing.DefaultTTL
}

// RequestAccess authorizes the viewer, consumes one view and returns a
// signed playback URL. The call that consumes the final view also retires
// the video and schedules its object for purge once the returned token
// expires.
func (g *Gate) RequestAccess(ctx context.Context, videoID, applicationID, viewerID string) (grant Grant, err error) {
	ctx, span := logging.StartSpan(ctx, "access.request")
	defer func() {
		if g.Recorder != nil {
			g.Recorder.AccessOutcome(OutcomeLabel(err))
		}
		span.End(err)
	}()
	logger := logging.FromContext(ctx).With("video_id", videoID, "application_id", applicationID, "viewer_id", viewerID)

	video, err := g.Videos.Get(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Grant{}, quota.ErrVideoUnavailable
		}
		return Grant{}, fmt.Errorf("%w: load video: %v", ErrStorageUnavailable, err)
	}
	// Moderation blocks win over everything. A retired video still goes
	// through the ledger so the application that exhausted it hears so.
	if video.Status == models.VideoStatusBlocked {
		return Grant{}, quota.ErrVideoUnavailable
	}

	allowed, err := g.Applications.CanView(ctx, viewerID, applicationID, videoID)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: check application: %v", ErrStorageUnavailable, err)
	}
	if !allowed {
		return Grant{}, ErrForbidden
	}

	consumption, err := g.Ledger.TryConsume(ctx, videoID, applicationID, viewerID)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExhausted) {
			// An exhausted grant on an active video means an earlier final
			// view never finished teardown.
			if video.Status == models.VideoStatusActive {
				now := g.now()
				g.retire(ctx, logger, video, applicationID, now.Add(g.ttl()), now)
			}
			return Grant{}, err
		}
		if errors.Is(err, quota.ErrVideoUnavailable) {
			return Grant{}, err
		}
		return Grant{}, fmt.Errorf("%w: consume view: %v", ErrStorageUnavailable, err)
	}

	now := g.now()
	if consumption.LimitReached {
		// The final view is spent whether or not a token reaches the viewer.
		purgeAfter := now.Add(g.ttl())
		defer func() {
			if err == nil {
				purgeAfter = grant.ExpiresAt
			}
			g.retire(ctx, logger, video, applicationID, purgeAfter, now)
		}()
	}

	token, err := g.Tokens.Mint(ctx, videoID, consumption.Grant.ID, g.ttl())
	if err != nil {
		logger.Error("view consumed but token mint failed", "grant_id", consumption.Grant.ID, "error", err)
		return Grant{}, fmt.Errorf("%w: mint token: %v", ErrStorageUnavailable, err)
	}

	// Binding supersedes any token previously issued for this grant.
	if err := g.Grants.BindSession(ctx, consumption.Grant.ID, token.SessionID, token.ExpiresAt, now); err != nil {
		logger.Error("view consumed but session bind failed", "grant_id", consumption.Grant.ID, "error", err)
		return Grant{}, fmt.Errorf("%w: bind session: %v", ErrStorageUnavailable, err)
	}

	if consumption.FirstView {
		// Keyed by video: the owner hears about the first view once.
		g.notify(ctx, notify.Notification{
			UserID:    video.OwnerID,
			Type:      models.NotificationVideoViewed,
			VideoID:   videoID,
			DedupeKey: fmt.Sprintf("%s:%s", models.NotificationVideoViewed, videoID),
			Payload:   map[string]string{"applicationId": applicationID, "viewerId": viewerID},
		})
	}

	logger.Info("access granted", "grant_id", consumption.Grant.ID, "views_consumed", consumption.ViewsConsumed, "views_remaining", consumption.ViewsRemaining)

	return Grant{
		URL:            token.URL,
		ExpiresAt:      token.ExpiresAt,
		ViewsRemaining: consumption.ViewsRemaining,
	}, nil
}

// retire moves the video to deleted and tells the owner. The transition is
// a compare-and-set so a duplicate signal cannot repeat it, and the
// notification dedupe key guards the message the same way.
func (g *Gate) retire(ctx context.Context, logger *slog.Logger, video models.VideoResume, applicationID string, purgeAfter, now time.Time) {
	changed, err := g.Videos.Transition(ctx, video.ID, models.VideoStatusActive, models.VideoStatusDeleted, &purgeAfter, now)
	if err != nil {
		logger.Error("view limit reached but video could not be retired", "error", err)
	} else if changed {
		logger.Info("view limit reached, video retired", "purge_after", purgeAfter)
	}

	g.notify(ctx, notify.Notification{
		UserID:    video.OwnerID,
		Type:      models.NotificationVideoLimitReached,
		VideoID:   video.ID,
		DedupeKey: fmt.Sprintf("%s:%s", models.NotificationVideoLimitReached, video.ID),
		Payload:   map[string]string{"applicationId": applicationID},
	})
}

func (g *Gate) notify(ctx context.Context, n notify.Notification) {
	if g.Notifier == nil {
		return
	}
	g.Notifier.Notify(ctx, n)
}
