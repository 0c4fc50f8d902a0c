package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobreel/backend/internal/logging"
)

func TestRateLimiterPerKey(t *testing.T) {
	limiter := NewIPRateLimiter(60, 2, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected burst to be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("expected third call within the same instant to be rejected")
	}
	if !limiter.Allow("b") {
		t.Fatal("expected other keys to have their own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatal("expected a token to refill after one second")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1, time.Minute)
	handler := RateLimit(limiter, "access")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/videos/v/access", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first call through, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", second.Header().Get("Retry-After"))
	}
	if !strings.Contains(second.Body.String(), `"code":"RateLimited"`) {
		t.Fatalf("unexpected body %s", second.Body.String())
	}

	other := httptest.NewRequest(http.MethodPost, "/videos/v/access", nil)
	other.RemoteAddr = "198.51.100.7:1234"
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, other)
	if third.Code != http.StatusNoContent {
		t.Fatalf("expected other client through, got %d", third.Code)
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-12345678")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-12345678" || rec.Header().Get(RequestIDHeader) != "req-12345678" {
		t.Fatalf("expected incoming request id to be reused, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if !strings.Contains(buf.String(), `"status":202`) {
		t.Fatalf("expected completion log with status, got %s", buf.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen == "bad id with spaces" || seen == "" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	var reported any
	handler := RequestLogger(logger, func(_ context.Context, rec any) { reported = rec })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if reported != "boom" {
		t.Fatalf("expected panic to be reported, got %v", reported)
	}
}

type observerStub struct {
	route  string
	status int
}

func (o *observerStub) ObserveHTTP(_ string, route string, status int, _ time.Duration) {
	o.route = route
	o.status = status
}

func TestInstrumentRecordsRouteAndStatus(t *testing.T) {
	observer := &observerStub{}
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}), Instrument(observer, "/videos/{videoId}/access"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/videos/abc/access", nil))
	if observer.route != "/videos/{videoId}/access" || observer.status != http.StatusGone {
		t.Fatalf("unexpected observation %+v", observer)
	}
}
