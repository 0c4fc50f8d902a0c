// Package purge removes the stored objects of retired videos once their
// last playback token can no longer be used.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobreel/backend/internal/models"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 100
	// cycleTimeout bounds a single sweep so a hung object store cannot pin
	// the loop.
	cycleTimeout = 5 * time.Minute
)

// VideoStore lists and marks videos due for purge.
type VideoStore interface {
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]models.VideoResume, error)
	MarkPurged(ctx context.Context, id string, at time.Time) error
}

// ObjectStore deletes video objects.
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// Recorder observes purge results.
type Recorder interface {
	VideoPurged(ok bool)
}

// Sweeper periodically deletes objects for deleted videos whose purge
// deadline has passed. Blocked videos are kept for moderation review.
type Sweeper struct {
	Videos    VideoStore
	Objects   ObjectStore
	Recorder  Recorder
	Logger    *slog.Logger
	Interval  time.Duration
	BatchSize int
	NowFunc   func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	logger := s.logger()
	logger.Info("purge sweeper started", "interval", interval)

	s.cycle(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("purge sweeper stopped")
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Sweeper) cycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	purged, err := s.SweepOnce(cycleCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger().Warn("purge sweep incomplete", "purged", purged, "error", err)
		return
	}
	if purged > 0 {
		s.logger().Info("purge sweep completed", "purged", purged)
	}
}

// SweepOnce purges one batch and returns how many objects were removed. A
// failed object delete leaves the video unmarked so the next sweep retries it.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	now := s.now()
	videos, err := s.Videos.ListPurgeable(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("list purgeable videos: %w", err)
	}

	var (
		purged int
		errs   []error
	)
	for _, video := range videos {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.purge(ctx, video, now); err != nil {
			s.logger().Warn("video purge failed", "video_id", video.ID, "error", err)
			errs = append(errs, err)
			s.record(false)
			continue
		}
		purged++
		s.record(true)
	}

	return purged, errors.Join(errs...)
}

func (s *Sweeper) purge(ctx context.Context, video models.VideoResume, now time.Time) error {
	if video.Status != models.VideoStatusDeleted {
		return fmt.Errorf("video %s is %s, not deleted", video.ID, video.Status)
	}
	if err := s.Objects.Delete(ctx, video.StorageKey); err != nil {
		return fmt.Errorf("delete object for %s: %w", video.ID, err)
	}
	if err := s.Videos.MarkPurged(ctx, video.ID, now); err != nil {
		return fmt.Errorf("mark %s purged: %w", video.ID, err)
	}
	s.logger().Info("video object purged", "video_id", video.ID, "storage_key", video.StorageKey)
	return nil
}

func (s *Sweeper) record(ok bool) {
	if s.Recorder != nil {
		s.Recorder.VideoPurged(ok)
	}
}
