package handlers

import (
	"net/http"

	"github.com/jobreel/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Gate         AccessGate
	Broker       RefreshBroker
	Moderation   ComplaintResolver
	Tokens       TokenVerifier
	Videos       VideoLookup
	Grants       GrantLookup
	Objects      ObjectPresigner
	HealthChecks map[string]HealthCheck
	Metrics      http.Handler
	Observer     middleware.HTTPObserver
	RateLimiter  middleware.RateLimiter
	Report       ErrorReporter
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	views := AccessHandler{Gate: deps.Gate, Broker: deps.Broker, Report: deps.Report}
	complaints := ComplaintHandler{Moderation: deps.Moderation, Report: deps.Report}
	stream := StreamHandler{Tokens: deps.Tokens, Videos: deps.Videos, Grants: deps.Grants, Objects: deps.Objects, Report: deps.Report}

	route := func(pattern, name string, h http.HandlerFunc, extra ...func(http.Handler) http.Handler) {
		chain := append([]func(http.Handler) http.Handler{middleware.Instrument(deps.Observer, name)}, extra...)
		mux.Handle(pattern, middleware.Chain(h, chain...))
	}

	route("GET /healthz", "/healthz", health.Handle)
	route("POST /videos/{videoId}/access", "/videos/{videoId}/access", views.Request, middleware.RateLimit(deps.RateLimiter, "access"))
	route("POST /videos/{videoId}/access/refresh", "/videos/{videoId}/access/refresh", views.Refresh, middleware.RateLimit(deps.RateLimiter, "refresh"))
	route("POST /complaints/{id}/resolve", "/complaints/{id}/resolve", complaints.Resolve)
	route("GET /stream/{videoId}", "/stream/{videoId}", stream.Serve)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
}
