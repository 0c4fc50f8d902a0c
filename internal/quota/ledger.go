// Package quota tracks how many times an employer has played a video resume
// and enforces the per-application view limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/repositories"
)

var (
	// ErrQuotaExhausted indicates the grant has no plays left.
	ErrQuotaExhausted = errors.New("view quota exhausted")
	// ErrVideoUnavailable indicates the video is missing, blocked or deleted.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrContention indicates the increment kept losing races and gave up.
	ErrContention = errors.New("view quota contention")
)

const defaultMaxAttempts = 8

// VideoReader resolves video resumes.
type VideoReader interface {
	Get(ctx context.Context, id string) (models.VideoResume, error)
}

// Consumption describes the result of a successful TryConsume.
type Consumption struct {
	Grant          models.ViewGrant
	ViewsConsumed  int
	ViewsRemaining int
	// FirstView is true only for the call that moved the grant to one view.
	FirstView bool
	// LimitReached is true only for the call that consumed the final view.
	LimitReached bool
}

// Ledger atomically consumes views against per-application grants.
type Ledger struct {
	Grants      repositories.GrantRepository
	Videos      VideoReader
	MaxViews    int
	MaxAttempts int
	NowFunc     func() time.Time
	Logger      *slog.Logger
}

// NewLedger constructs a Ledger with the default view limit.
func NewLedger(grants repositories.GrantRepository, videos VideoReader, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Grants:      grants,
		Videos:      videos,
		MaxViews:    models.DefaultMaxViews,
		MaxAttempts: defaultMaxAttempts,
		NowFunc:     time.Now,
		Logger:      logger,
	}
}

func (l *Ledger) now() time.Time {
	if l.NowFunc != nil {
		return l.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// TryConsume records one play for the (video, application) grant, creating the
// grant on first use. It never lets views consumed exceed the grant's limit,
// however many callers race on the same grant.
func (l *Ledger) TryConsume(ctx context.Context, videoID, applicationID, viewerID string) (Consumption, error) {
	video, err := l.Videos.Get(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Consumption{}, ErrVideoUnavailable
		}
		return Consumption{}, fmt.Errorf("load video: %w", err)
	}
	if video.Status != models.VideoStatusActive {
		return Consumption{}, l.unavailable(ctx, videoID, applicationID)
	}

	now := l.now()
	grant, err := l.Grants.Ensure(ctx, models.ViewGrant{
		ID:            uuid.NewString(),
		VideoID:       videoID,
		ApplicationID: applicationID,
		ViewerID:      viewerID,
		MaxViews:      l.MaxViews,
		CreatedAt:     now,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Consumption{}, ErrVideoUnavailable
		}
		return Consumption{}, fmt.Errorf("ensure grant: %w", err)
	}

	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if grant.Exhausted() {
			return Consumption{}, ErrQuotaExhausted
		}

		expected := grant.ViewsConsumed
		updated, ok, err := l.Grants.IncrementIfEqual(ctx, grant.ID, expected, l.now())
		if err != nil {
			return Consumption{}, fmt.Errorf("increment grant: %w", err)
		}
		if ok {
			return Consumption{
				Grant:          updated,
				ViewsConsumed:  updated.ViewsConsumed,
				ViewsRemaining: updated.ViewsRemaining(),
				FirstView:      expected == 0 && updated.ViewsConsumed == 1,
				LimitReached:   updated.ViewsConsumed == updated.MaxViews,
			}, nil
		}

		// Lost the race, the grant ran out, or the video changed state.
		grant, err = l.Grants.Get(ctx, grant.ID)
		if err != nil {
			return Consumption{}, fmt.Errorf("reload grant: %w", err)
		}
		if grant.Exhausted() {
			return Consumption{}, ErrQuotaExhausted
		}
		video, err := l.Videos.Get(ctx, videoID)
		if err != nil {
			return Consumption{}, fmt.Errorf("reload video: %w", err)
		}
		if video.Status != models.VideoStatusActive {
			return Consumption{}, ErrVideoUnavailable
		}
		l.Logger.Debug("view increment lost race", "grant_id", grant.ID, "attempt", attempt+1)
	}

	if grant.Exhausted() {
		return Consumption{}, ErrQuotaExhausted
	}
	return Consumption{}, ErrContention
}

// unavailable explains why an inactive video cannot be viewed. An application
// that used up its own grant is told so, since that grant is what retired
// the video.
func (l *Ledger) unavailable(ctx context.Context, videoID, applicationID string) error {
	grant, err := l.Grants.FindByPair(ctx, videoID, applicationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrVideoUnavailable
		}
		return fmt.Errorf("load grant: %w", err)
	}
	if grant.Exhausted() {
		return ErrQuotaExhausted
	}
	return ErrVideoUnavailable
}
