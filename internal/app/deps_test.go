package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobreel/backend/internal/config"
	"github.com/jobreel/backend/internal/handlers"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:   strings.Repeat("s", 32),
		TokenTTL:      5 * time.Minute,
		RefreshLead:   2 * time.Minute,
		RefreshLapse:  time.Minute,
		StreamBaseURL: "https://api.example.com",
		PurgeInterval: time.Minute,
		ObjectStore:   config.ObjectStoreConfig{Bucket: "test-bucket", Endpoint: "http://localhost:9000", Region: "us-east-1", Prefix: "videos"},
		Notifications: config.NotificationConfig{Workers: 1, QueueSize: 4, MaxAttempts: 1, RetryBackoff: time.Millisecond},
		RateLimit:     config.RateLimitConfig{RequestsPerMinute: 30, Burst: 10},
	}
}

func TestBuildDependencies(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	h := deps.handlers
	if h.Gate == nil || h.Broker == nil || h.Moderation == nil {
		t.Fatal("expected access and moderation services to be configured")
	}
	if h.Tokens == nil || h.Videos == nil || h.Grants == nil || h.Objects == nil {
		t.Fatal("expected stream dependencies to be configured")
	}
	if h.Metrics == nil || h.Observer == nil || h.RateLimiter == nil || h.Report == nil {
		t.Fatal("expected ambient dependencies to be configured")
	}
	if deps.dispatcher == nil || deps.sweeper == nil {
		t.Fatal("expected background workers to be configured")
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/video-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected stream without token to be rejected, got %d", rec.Code)
	}
}

func TestBuildDependenciesRequiresBucket(t *testing.T) {
	cfg := testConfig()
	cfg.ObjectStore.Bucket = ""

	if _, _, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger()); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestMigrateWithRetry(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := migrateWithRetry(context.Background(), discardLogger(), "up", func(context.Context) error {
			calls++
			if calls == 1 {
				return &pgconn.PgError{Code: "40001"}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected 2 attempts, got %d", calls)
		}
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		err := migrateWithRetry(context.Background(), discardLogger(), "up", func(context.Context) error {
			calls++
			return &pgconn.PgError{Code: "42P01"}
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 1 {
			t.Fatalf("expected 1 attempt, got %d", calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := migrateWithRetry(context.Background(), discardLogger(), "down", func(context.Context) error {
			calls++
			return &pgconn.PgError{Code: "40P01"}
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != migrationMaxRetries {
			t.Fatalf("expected %d attempts, got %d", migrationMaxRetries, calls)
		}
	})
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without command")
	}
	if err := Run(context.Background(), []string{"dance"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := Run(context.Background(), []string{"upload-video", "only-owner"}); err == nil {
		t.Fatal("expected usage error")
	}
}
