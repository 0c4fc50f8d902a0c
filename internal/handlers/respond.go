package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jobreel/backend/internal/access"
	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/moderation"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/signing"
)

const (
	maxBodyBytes      = 1 << 20
	retryAfterSeconds = 5
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{access.ErrStorageUnavailable, http.StatusServiceUnavailable, "StorageUnavailable"},
	{access.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{quota.ErrQuotaExhausted, http.StatusForbidden, "QuotaExhausted"},
	{quota.ErrVideoUnavailable, http.StatusGone, "VideoUnavailable"},
	{signing.ErrTokenExpired, http.StatusUnauthorized, "TokenExpired"},
	{signing.ErrInvalidToken, http.StatusUnauthorized, "InvalidToken"},
	{access.ErrSessionExpiredTooLong, http.StatusConflict, "SessionExpiredTooLong"},
	{access.ErrRefreshTooEarly, http.StatusConflict, "RefreshTooEarly"},
	{moderation.ErrAlreadyResolved, http.StatusConflict, "AlreadyResolved"},
	{moderation.ErrComplaintNotFound, http.StatusNotFound, "NotFound"},
	{moderation.ErrInvalidResolution, http.StatusBadRequest, "InvalidRequest"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "Internal"
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps err onto the wire contract. Server-side failures go to
// report with the route tag; their details never reach the client.
func respondError(ctx context.Context, w http.ResponseWriter, err error, report ErrorReporter, route string) {
	status, code := classify(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request error", "route", route, "error", err)
		if report != nil {
			report(ctx, err, map[string]string{"route": route, "code": code})
		}
		message = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	respondJSON(ctx, w, status, errorResponse{Error: message, Code: code})
}

func badRequest(ctx context.Context, w http.ResponseWriter, message string) {
	respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: message, Code: "InvalidRequest"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
