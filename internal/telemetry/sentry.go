// Package telemetry reports server errors and panics to Sentry. Every
// function is a no-op until Init is called with a DSN.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jobreel/backend/internal/logging"
)

const flushTimeout = 2 * time.Second

// Init configures the Sentry client. An empty dsn leaves Sentry disabled and
// reports false.
func Init(dsn, environment, release string) (bool, error) {
	if dsn == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		Tags:             map[string]string{"service": "jobreel"},
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrub(event)
		},
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}

	return true, nil
}

// CaptureError reports err with the request id from ctx and any extra tags.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if requestID := logging.RequestIDFromContext(ctx); requestID != "" {
			scope.SetTag("request_id", requestID)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value and waits for delivery.
func CapturePanic(ctx context.Context, recovered any) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	CaptureError(ctx, err, map[string]string{"panic": "true"})
	sentry.Flush(flushTimeout)
}

// Flush waits for buffered events to be sent.
func Flush() {
	sentry.Flush(flushTimeout)
}

// scrub strips playback tokens and credentials before events leave the process.
func scrub(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	event.User.IPAddress = ""
	if event.Request == nil {
		return event
	}

	for k := range event.Request.Headers {
		switch k {
		case "Authorization", "Cookie", "X-Api-Key":
			event.Request.Headers[k] = "[redacted]"
		}
	}
	event.Request.QueryString = redactQuery(event.Request.QueryString)
	if parsed, err := url.Parse(event.Request.URL); err == nil && parsed.RawQuery != "" {
		parsed.RawQuery = redactQuery(parsed.RawQuery)
		event.Request.URL = parsed.String()
	}
	event.Request.Data = ""

	return event
}

func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[redacted]"
	}
	if values.Has("token") {
		values.Set("token", "[redacted]")
	}
	return values.Encode()
}
