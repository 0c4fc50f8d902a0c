package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jobreel/backend/internal/access"
	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/signing"
)

// StreamHandler redeems a playback token for a short-lived object URL.
type StreamHandler struct {
	Tokens  TokenVerifier
	Videos  VideoLookup
	Grants  GrantLookup
	Objects ObjectPresigner
	Report  ErrorReporter
}

// Serve handles GET /stream/{videoId}?token=.
//
// The token must verify, name this video and still be the grant's active
// session. A retired video keeps serving its final token until the object
// is purged; a blocked one stops at once.
func (h StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	fail := func(err error) { respondError(ctx, w, err, h.Report, "stream") }

	videoID := strings.TrimSpace(r.PathValue("videoId"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if videoID == "" || token == "" {
		fail(signing.ErrInvalidToken)
		return
	}

	claims, err := h.Tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, signing.ErrInvalidToken) || errors.Is(err, signing.ErrTokenExpired) {
			fail(err)
			return
		}
		fail(errors.Join(access.ErrStorageUnavailable, err))
		return
	}
	if claims.VideoID != videoID {
		logger.Warn("stream token for another video", "video_id", videoID, "token_video_id", claims.VideoID)
		fail(signing.ErrInvalidToken)
		return
	}

	video, err := h.Videos.Get(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			fail(signing.ErrInvalidToken)
			return
		}
		fail(errors.Join(access.ErrStorageUnavailable, err))
		return
	}
	switch {
	case video.Status == models.VideoStatusBlocked:
		fail(signing.ErrInvalidToken)
		return
	case video.PurgedAt != nil:
		fail(quota.ErrVideoUnavailable)
		return
	}

	grant, err := h.Grants.Get(ctx, claims.GrantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			fail(signing.ErrInvalidToken)
			return
		}
		fail(errors.Join(access.ErrStorageUnavailable, err))
		return
	}
	if grant.VideoID != videoID || grant.ActiveSessionID != claims.SessionID() {
		logger.Info("stream token superseded", "video_id", videoID, "grant_id", grant.ID)
		fail(signing.ErrInvalidToken)
		return
	}

	location, err := h.Objects.PresignGet(ctx, video.StorageKey)
	if err != nil {
		fail(errors.Join(access.ErrStorageUnavailable, err))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}
