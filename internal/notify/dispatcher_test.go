package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/repositories"
)

type channelStub struct {
	name     string
	failures int
	err      error

	mu        sync.Mutex
	calls     int
	delivered []models.NotificationRecord
}

func (c *channelStub) Name() string { return c.name }

func (c *channelStub) Deliver(_ context.Context, record models.NotificationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return c.err
	}
	if c.calls <= c.failures {
		return errors.New("transient failure")
	}
	c.delivered = append(c.delivered, record)
	return nil
}

type recorderStub struct {
	mu       sync.Mutex
	outcomes map[models.NotificationStatus]int
}

func (r *recorderStub) NotificationDelivered(_ models.NotificationType, status models.NotificationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[models.NotificationStatus]int)
	}
	r.outcomes[status]++
}

func newTestDispatcher(store *repositories.MemoryStore, resolver ChannelResolver, recorder Recorder) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(store.Notifications(), resolver, recorder, Config{
		QueueSize:    8,
		Workers:      2,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, logger)
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func recordFor(t *testing.T, store *repositories.MemoryStore, key string) models.NotificationRecord {
	t.Helper()
	record, err := store.Notifications().GetByDedupeKey(context.Background(), key)
	if err != nil {
		t.Fatalf("get record %s: %v", key, err)
	}
	return record
}

func TestDispatcherDeliversToAllChannels(t *testing.T) {
	store := repositories.NewMemoryStore()
	email := &channelStub{name: "email"}
	push := &channelStub{name: "push", failures: 1}
	recorder := &recorderStub{}
	d := newTestDispatcher(store, StaticResolver{email, push}, recorder)

	d.Notify(context.Background(), Notification{
		UserID:    "seeker-1",
		Type:      models.NotificationVideoViewed,
		VideoID:   "video-1",
		DedupeKey: "video_viewed:video-1:app-1",
	})
	drain(t, d)

	record := recordFor(t, store, "video_viewed:video-1:app-1")
	if record.Status != models.NotificationStatusSent {
		t.Fatalf("expected sent, got %s (%s)", record.Status, record.LastError)
	}
	if record.Attempts != 3 {
		t.Fatalf("expected 3 attempts across channels, got %d", record.Attempts)
	}
	if len(email.delivered) != 1 || len(push.delivered) != 1 {
		t.Fatalf("expected one delivery per channel, got %d and %d", len(email.delivered), len(push.delivered))
	}
	if email.delivered[0].Payload["videoId"] != "video-1" {
		t.Fatalf("expected video id in payload, got %+v", email.delivered[0].Payload)
	}
	if recorder.outcomes[models.NotificationStatusSent] != 1 {
		t.Fatalf("expected recorder to observe one sent notification")
	}
}

func TestDispatcherPartialFailureCountsAsSent(t *testing.T) {
	store := repositories.NewMemoryStore()
	ok := &channelStub{name: "email"}
	broken := &channelStub{name: "sms", err: errors.New("gateway down")}
	d := newTestDispatcher(store, StaticResolver{broken, ok}, nil)

	d.Notify(context.Background(), Notification{UserID: "seeker-1", Type: models.NotificationVideoBlocked, DedupeKey: "blocked"})
	drain(t, d)

	record := recordFor(t, store, "blocked")
	if record.Status != models.NotificationStatusSent {
		t.Fatalf("expected sent when one channel succeeds, got %s", record.Status)
	}
	if record.LastError == "" {
		t.Fatal("expected the failing channel to be recorded in last_error")
	}
	if broken.calls != 3 {
		t.Fatalf("expected failing channel to be retried 3 times, got %d", broken.calls)
	}
}

func TestDispatcherFailures(t *testing.T) {
	cases := []struct {
		name     string
		resolver ChannelResolver
	}{
		{name: "all channels fail", resolver: StaticResolver{&channelStub{name: "email", err: errors.New("smtp down")}}},
		{name: "no channels", resolver: StaticResolver{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repositories.NewMemoryStore()
			d := newTestDispatcher(store, tc.resolver, nil)

			d.Notify(context.Background(), Notification{UserID: "seeker-1", Type: models.NotificationVideoLimitReached, DedupeKey: "limit"})
			drain(t, d)

			record := recordFor(t, store, "limit")
			if record.Status != models.NotificationStatusFailed {
				t.Fatalf("expected failed, got %s", record.Status)
			}
			if record.LastError == "" {
				t.Fatal("expected last_error to be populated")
			}
		})
	}
}

func TestDispatcherDedupe(t *testing.T) {
	store := repositories.NewMemoryStore()
	channel := &channelStub{name: "email"}
	d := newTestDispatcher(store, StaticResolver{channel}, nil)

	n := Notification{UserID: "seeker-1", Type: models.NotificationVideoLimitReached, DedupeKey: "video_limit_reached:video-1:app-1"}
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), n)
	}
	drain(t, d)

	if got := len(store.NotificationsByType(models.NotificationVideoLimitReached)); got != 1 {
		t.Fatalf("expected a single record, got %d", got)
	}
	if len(channel.delivered) != 1 {
		t.Fatalf("expected a single delivery, got %d", len(channel.delivered))
	}
}

func TestDispatcherResumePending(t *testing.T) {
	store := repositories.NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if _, err := store.Notifications().CreatePending(ctx, models.NotificationRecord{
			ID:        "id-" + key,
			UserID:    "seeker-1",
			Type:      models.NotificationVideoViewed,
			DedupeKey: key,
			CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("seed pending record: %v", err)
		}
	}

	channel := &channelStub{name: "email"}
	d := newTestDispatcher(store, StaticResolver{channel}, nil)

	scheduled, err := d.ResumePending(ctx)
	if err != nil {
		t.Fatalf("resume pending: %v", err)
	}
	if scheduled != 2 {
		t.Fatalf("expected 2 scheduled records, got %d", scheduled)
	}
	drain(t, d)

	for _, key := range []string{"a", "b"} {
		if record := recordFor(t, store, key); record.Status != models.NotificationStatusSent {
			t.Fatalf("expected %s to be sent, got %s", key, record.Status)
		}
	}
}

func TestDispatcherNotifyAfterShutdownLeavesRecordPending(t *testing.T) {
	store := repositories.NewMemoryStore()
	d := newTestDispatcher(store, StaticResolver{&channelStub{name: "email"}}, nil)
	drain(t, d)

	d.Notify(context.Background(), Notification{UserID: "seeker-1", Type: models.NotificationVideoViewed, DedupeKey: "late"})

	if record := recordFor(t, store, "late"); record.Status != models.NotificationStatusPending {
		t.Fatalf("expected record to stay pending, got %s", record.Status)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

// gatedChannel blocks every delivery until release is closed.
type gatedChannel struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu        sync.Mutex
	delivered map[string]int
}

func (c *gatedChannel) Name() string { return "gated" }

func (c *gatedChannel) Deliver(ctx context.Context, record models.NotificationRecord) error {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered[record.DedupeKey]++
	return nil
}

func TestDispatcherRunResumePicksUpOverflow(t *testing.T) {
	store := repositories.NewMemoryStore()
	channel := &gatedChannel{
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		delivered: make(map[string]int),
	}
	d := NewDispatcher(store.Notifications(), StaticResolver{channel}, nil, Config{
		QueueSize:    1,
		Workers:      1,
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()
	notifyKey := func(key string) {
		d.Notify(ctx, Notification{UserID: "seeker-1", Type: models.NotificationVideoViewed, DedupeKey: key})
	}

	notifyKey("in-flight")
	<-channel.started
	notifyKey("queued")
	notifyKey("overflow")

	if record := recordFor(t, store, "overflow"); record.Status != models.NotificationStatusPending {
		t.Fatalf("expected overflow record to stay pending, got %s", record.Status)
	}

	resumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.RunResume(resumeCtx, 5*time.Millisecond)
	close(channel.release)

	deadline := time.Now().Add(5 * time.Second)
	for recordFor(t, store, "overflow").Status != models.NotificationStatusSent {
		if time.Now().After(deadline) {
			t.Fatal("overflow record was never resumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	drain(t, d)

	channel.mu.Lock()
	defer channel.mu.Unlock()
	for _, key := range []string{"in-flight", "queued", "overflow"} {
		if got := channel.delivered[key]; got != 1 {
			t.Fatalf("expected %s to be delivered once, got %d", key, got)
		}
	}
}
