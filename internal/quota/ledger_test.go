package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/repositories"
)

func newTestLedger(t *testing.T) (*Ledger, *repositories.MemoryStore) {
	t.Helper()
	store := repositories.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Videos().Create(context.Background(), models.VideoResume{
		ID:         "video-1",
		OwnerID:    "seeker-1",
		StorageKey: "videos/video-1.mp4",
		Status:     models.VideoStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create video: %v", err)
	}
	ledger := NewLedger(store.Grants(), store.Videos(), nil)
	ledger.NowFunc = func() time.Time { return now }
	return ledger, store
}

func TestLedgerTryConsumeSequence(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !first.FirstView || first.LimitReached {
		t.Fatalf("unexpected flags on first view: %+v", first)
	}
	if first.ViewsConsumed != 1 || first.ViewsRemaining != 1 {
		t.Fatalf("unexpected counts on first view: %+v", first)
	}

	second, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second.FirstView || !second.LimitReached {
		t.Fatalf("unexpected flags on second view: %+v", second)
	}
	if second.ViewsRemaining != 0 {
		t.Fatalf("expected no views remaining, got %d", second.ViewsRemaining)
	}
	if second.Grant.ID != first.Grant.ID {
		t.Fatalf("expected the same grant to be reused")
	}

	if _, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted on third view, got %v", err)
	}
}

func TestLedgerGrantsArePerApplication(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1"); err != nil {
			t.Fatalf("consume app-1: %v", err)
		}
	}

	other, err := ledger.TryConsume(ctx, "video-1", "app-2", "employer-2")
	if err != nil {
		t.Fatalf("consume app-2: %v", err)
	}
	if !other.FirstView || other.ViewsConsumed != 1 {
		t.Fatalf("expected a fresh grant for app-2, got %+v", other)
	}
}

func TestLedgerRejectsInactiveVideo(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.TryConsume(ctx, "missing", "app-1", "employer-1"); !errors.Is(err, ErrVideoUnavailable) {
		t.Fatalf("expected ErrVideoUnavailable for missing video, got %v", err)
	}

	if _, err := store.Videos().Transition(ctx, "video-1", models.VideoStatusActive, models.VideoStatusBlocked, nil, time.Now()); err != nil {
		t.Fatalf("block video: %v", err)
	}

	if _, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1"); !errors.Is(err, ErrVideoUnavailable) {
		t.Fatalf("expected ErrVideoUnavailable for blocked video, got %v", err)
	}
}

func TestLedgerConcurrentConsumersNeverExceedLimit(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	const callers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		first     int
		limit     int
		exhausted int
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := ledger.TryConsume(ctx, "video-1", "app-1", "employer-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
				if result.FirstView {
					first++
				}
				if result.LimitReached {
					limit++
				}
			case errors.Is(err, ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != models.DefaultMaxViews {
		t.Fatalf("expected %d successful views, got %d", models.DefaultMaxViews, successes)
	}
	if first != 1 || limit != 1 {
		t.Fatalf("expected exactly one first view and one limit signal, got %d and %d", first, limit)
	}
	if exhausted != callers-models.DefaultMaxViews {
		t.Fatalf("expected %d exhausted callers, got %d", callers-models.DefaultMaxViews, exhausted)
	}

	video, err := store.Videos().Get(ctx, "video-1")
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if video.Status != models.VideoStatusActive {
		t.Fatalf("ledger must not change video status, got %s", video.Status)
	}
}
