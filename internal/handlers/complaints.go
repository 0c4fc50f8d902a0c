package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/jobreel/backend/internal/logging"
	"github.com/jobreel/backend/internal/models"
	"github.com/jobreel/backend/internal/moderation"
)

// ComplaintHandler serves moderator decisions.
type ComplaintHandler struct {
	Moderation ComplaintResolver
	Report     ErrorReporter
}

type resolveRequest struct {
	Status           string `json:"status"`
	BlockVideo       bool   `json:"blockVideo"`
	ModeratorComment string `json:"moderatorComment"`
	ModeratorID      string `json:"moderatorId"`
}

type complaintResponse struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"videoId"`
	Status     string     `json:"status"`
	BlockVideo bool       `json:"blockVideo"`
	Resolution string     `json:"resolution"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Resolve handles POST /complaints/{id}/resolve.
func (h ComplaintHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	complaintID := strings.TrimSpace(r.PathValue("id"))
	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid resolve payload", "error", err)
		badRequest(ctx, w, "invalid request body")
		return
	}
	if complaintID == "" {
		badRequest(ctx, w, "complaint id is required")
		return
	}

	complaint, err := h.Moderation.Resolve(ctx, complaintID, moderation.Resolution{
		Status:      models.ComplaintStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		BlockVideo:  req.BlockVideo,
		Comment:     req.ModeratorComment,
		ModeratorID: strings.TrimSpace(req.ModeratorID),
	})
	if err != nil {
		respondError(ctx, w, err, h.Report, "resolve")
		return
	}

	respondJSON(ctx, w, http.StatusOK, complaintResponse{
		ID:         complaint.ID,
		VideoID:    complaint.VideoID,
		Status:     string(complaint.Status),
		BlockVideo: complaint.BlockVideo,
		Resolution: complaint.Resolution,
		ResolvedAt: complaint.ResolvedAt,
	})
}
