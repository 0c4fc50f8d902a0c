package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobreel/backend/internal/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestRecordersIncrementCounters(t *testing.T) {
	m := New()

	m.AccessOutcome("granted")
	m.AccessOutcome("granted")
	m.AccessOutcome("quota_exhausted")
	m.RefreshOutcome("too_early")
	m.NotificationDelivered(models.NotificationVideoViewed, models.NotificationStatusSent)
	m.ComplaintResolved(models.ComplaintStatusApproved, true)
	m.VideoPurged(false)

	body := scrape(t, m)
	for _, want := range []string{
		`jobreel_access_requests_total{outcome="granted"} 2`,
		`jobreel_access_requests_total{outcome="quota_exhausted"} 1`,
		`jobreel_refresh_requests_total{outcome="too_early"} 1`,
		`jobreel_notifications_total{status="sent",type="video_viewed"} 1`,
		`jobreel_complaint_resolutions_total{blocked="true",status="approved"} 1`,
		`jobreel_video_purges_total{result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}

func TestHandlerExposesHTTPMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/videos/{videoId}/access", 200, 15*time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`jobreel_http_requests_total{method="POST",route="/videos/{videoId}/access",status="200"} 1`,
		"jobreel_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
