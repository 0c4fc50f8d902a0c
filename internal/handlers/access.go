package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/jobreel/backend/internal/logging"
)

// AccessHandler serves view requests and session refreshes.
type AccessHandler struct {
	Gate   AccessGate
	Broker RefreshBroker
	Report ErrorReporter
}

type accessRequest struct {
	ApplicationID string `json:"applicationId"`
	ViewerID      string `json:"viewerId"`
}

type accessResponse struct {
	URL            string    `json:"url"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ViewsRemaining int       `json:"viewsRemaining"`
}

type refreshRequest struct {
	ApplicationID string `json:"applicationId"`
	ViewerID      string `json:"viewerId"`
	Token         string `json:"token"`
}

type refreshResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Request handles POST /videos/{videoId}/access.
func (h AccessHandler) Request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	videoID := strings.TrimSpace(r.PathValue("videoId"))
	var req accessRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("invalid access payload", "error", err)
		badRequest(ctx, w, "invalid request body")
		return
	}

	req.ApplicationID = strings.TrimSpace(req.ApplicationID)
	req.ViewerID = strings.TrimSpace(req.ViewerID)
	if videoID == "" || req.ApplicationID == "" || req.ViewerID == "" {
		badRequest(ctx, w, "videoId, applicationId and viewerId are required")
		return
	}

	grant, err := h.Gate.RequestAccess(ctx, videoID, req.ApplicationID, req.ViewerID)
	if err != nil {
		respondError(ctx, w, err, h.Report, "access")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(ctx, w, http.StatusOK, accessResponse{
		URL:            grant.URL,
		ExpiresAt:      grant.ExpiresAt,
		ViewsRemaining: grant.ViewsRemaining,
	})
}

// Refresh handles POST /videos/{videoId}/access/refresh.
func (h AccessHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	videoID := strings.TrimSpace(r.PathValue("videoId"))
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("invalid refresh payload", "error", err)
		badRequest(ctx, w, "invalid request body")
		return
	}

	req.ApplicationID = strings.TrimSpace(req.ApplicationID)
	req.ViewerID = strings.TrimSpace(req.ViewerID)
	req.Token = strings.TrimSpace(req.Token)
	if videoID == "" || req.ApplicationID == "" || req.ViewerID == "" || req.Token == "" {
		badRequest(ctx, w, "videoId, applicationId, viewerId and token are required")
		return
	}

	grant, err := h.Broker.Refresh(ctx, videoID, req.ApplicationID, req.ViewerID, req.Token)
	if err != nil {
		respondError(ctx, w, err, h.Report, "refresh")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(ctx, w, http.StatusOK, refreshResponse{URL: grant.URL, ExpiresAt: grant.ExpiresAt})
}
