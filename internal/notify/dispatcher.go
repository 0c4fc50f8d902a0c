// Package notify records owner notifications durably and fans them out to
// delivery channels on a background worker pool.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/repositories"
)

// Notification is a request to tell a user about something that happened to
// one of their videos.
type Notification struct {
	UserID    string
	Type      models.NotificationType
	VideoID   string
	DedupeKey string
	Payload   map[string]string
}

// Channel delivers a notification over one transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, record models.NotificationRecord) error
}

// ChannelResolver returns the channels registered for a user.
type ChannelResolver interface {
	ChannelsFor(ctx context.Context, userID string) ([]Channel, error)
}

// StaticResolver registers the same channels for every user.
type StaticResolver []Channel

// ChannelsFor returns every configured channel.
func (r StaticResolver) ChannelsFor(context.Context, string) ([]Channel, error) {
	return r, nil
}

// Recorder observes delivery outcomes.
type Recorder interface {
	NotificationDelivered(kind models.NotificationType, status models.NotificationStatus)
}

// Config controls the worker pool and per-channel retries.
type Config struct {
	QueueSize    int
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	// DeliveryTimeout bounds a single channel attempt.
	DeliveryTimeout time.Duration
}

const (
	defaultQueueSize       = 64
	defaultWorkers         = 2
	defaultMaxAttempts     = 3
	defaultRetryBackoff    = 200 * time.Millisecond
	maxRetryBackoff        = 5 * time.Second
	defaultDeliveryTimeout = 10 * time.Second
	resumeBatchSize        = 500
	defaultResumeInterval  = time.Minute
)

var errNoChannels = errors.New("no channels registered")

// Dispatcher writes a pending record per notification and delivers it
// asynchronously. Delivery failures are recorded, never returned.
type Dispatcher struct {
	records  repositories.NotificationRepository
	resolver ChannelResolver
	recorder Recorder
	logger   *slog.Logger
	cfg      Config

	NowFunc func() time.Time

	jobs   chan models.NotificationRecord
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	// inflight holds ids that are queued or being delivered.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewDispatcher starts the worker pool.
func NewDispatcher(records repositories.NotificationRepository, resolver ChannelResolver, recorder Recorder, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if resolver == nil {
		resolver = StaticResolver(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		records:  records,
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
		NowFunc:  time.Now,
		jobs:     make(chan models.NotificationRecord, cfg.QueueSize),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

func (d *Dispatcher) now() time.Time {
	if d.NowFunc != nil {
		return d.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// Notify persists the notification and schedules delivery. A notification
// whose dedupe key was already used is dropped.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	logger := d.logger.With("type", string(n.Type), "user_id", n.UserID, "dedupe_key", n.DedupeKey)

	if n.UserID == "" || n.Type == "" {
		logger.Error("notification missing recipient or type")
		return
	}

	payload := make(map[string]string, len(n.Payload)+1)
	for k, v := range n.Payload {
		payload[k] = v
	}
	if n.VideoID != "" {
		payload["videoId"] = n.VideoID
	}

	key := n.DedupeKey
	if strings.TrimSpace(key) == "" {
		key = uuid.NewString()
	}

	record := models.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    n.UserID,
		Type:      n.Type,
		Payload:   payload,
		DedupeKey: key,
		Status:    models.NotificationStatusPending,
		CreatedAt: d.now(),
	}

	created, err := d.records.CreatePending(ctx, record)
	if err != nil {
		logger.Error("record notification", "error", err)
		return
	}
	if !created {
		logger.Debug("duplicate notification skipped")
		return
	}

	d.enqueue(record)
}

func (d *Dispatcher) enqueue(record models.NotificationRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dispatcher closed, leaving record pending", "notification_id", record.ID)
		return false
	}

	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, ok := d.inflight[record.ID]; ok {
		return true
	}

	select {
	case d.jobs <- record:
		d.inflight[record.ID] = struct{}{}
		return true
	default:
		d.logger.Warn("notification queue full, leaving record pending", "notification_id", record.ID)
		return false
	}
}

func (d *Dispatcher) isInflight(id string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

func (d *Dispatcher) done(id string) {
	d.inflightMu.Lock()
	delete(d.inflight, id)
	d.inflightMu.Unlock()
}

// ResumePending re-enqueues records left pending by a previous process. It
// returns the number of records scheduled.
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	records, err := d.records.ListPending(ctx, resumeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	scheduled := 0
	for _, record := range records {
		if d.isInflight(record.ID) {
			continue
		}
		if !d.enqueue(record) {
			break
		}
		scheduled++
	}

	if scheduled > 0 {
		d.logger.Info("resumed pending notifications", "count", scheduled)
	}
	return scheduled, nil
}

// RunResume periodically re-enqueues pending records, such as those dropped
// while the queue was full, until ctx is done. Records already queued or in
// delivery are skipped.
func (d *Dispatcher) RunResume(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultResumeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ResumePending(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("resume pending notifications", "error", err)
			}
		}
	}
}

// Shutdown stops accepting work and waits for queued deliveries to finish.
// When ctx expires first, in-flight deliveries are cancelled and their
// records stay pending.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	case <-done:
		d.cancel()
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for record := range d.jobs {
		if d.ctx.Err() != nil {
			return
		}
		d.deliver(record)
		d.done(record.ID)
	}
}

func (d *Dispatcher) deliver(record models.NotificationRecord) {
	logger := d.logger.With("notification_id", record.ID, "type", string(record.Type), "user_id", record.UserID)

	// A resumed copy may trail a delivery that already finished.
	if current, err := d.records.GetByDedupeKey(d.ctx, record.DedupeKey); err == nil && current.Status != models.NotificationStatusPending {
		logger.Debug("notification already settled", "status", current.Status)
		return
	}

	channels, err := d.resolver.ChannelsFor(d.ctx, record.UserID)
	if err != nil {
		logger.Error("resolve notification channels", "error", err)
		d.finish(logger, record, models.NotificationStatusFailed, 0, err)
		return
	}
	if len(channels) == 0 {
		d.finish(logger, record, models.NotificationStatusFailed, 0, errNoChannels)
		return
	}

	var (
		attempts  int
		delivered bool
		failures  []error
	)
	for _, channel := range channels {
		n, err := d.deliverWithRetry(record, channel)
		attempts += n
		if err != nil {
			if d.ctx.Err() != nil {
				logger.Warn("notification delivery interrupted by shutdown", "channel", channel.Name())
				return
			}
			logger.Warn("notification channel failed", "channel", channel.Name(), "attempts", n, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", channel.Name(), err))
			continue
		}
		delivered = true
	}

	status := models.NotificationStatusSent
	if !delivered {
		status = models.NotificationStatusFailed
	}
	d.finish(logger, record, status, attempts, errors.Join(failures...))
}

func (d *Dispatcher) deliverWithRetry(record models.NotificationRecord, channel Channel) (int, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * d.cfg.RetryBackoff
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-d.ctx.Done():
				timer.Stop()
				return attempt, d.ctx.Err()
			case <-timer.C:
			}
		}

		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.DeliveryTimeout)
		lastErr = channel.Deliver(ctx, record)
		cancel()
		if lastErr == nil {
			return attempt + 1, nil
		}
	}
	return d.cfg.MaxAttempts, lastErr
}

func (d *Dispatcher) finish(logger *slog.Logger, record models.NotificationRecord, status models.NotificationStatus, attempts int, cause error) {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.records.UpdateDelivery(ctx, record.ID, status, record.Attempts+attempts, lastError, d.now()); err != nil {
		logger.Error("record notification outcome", "status", string(status), "error", err)
	}

	if d.recorder != nil {
		d.recorder.NotificationDelivered(record.Type, status)
	}

	if status == models.NotificationStatusSent {
		logger.Info("notification sent", "attempts", attempts)
	} else {
		logger.Warn("notification failed", "attempts", attempts, "error", lastError)
	}
}
