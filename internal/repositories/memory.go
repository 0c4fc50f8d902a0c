package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jobreel/backend/internal/models"
)

// MemoryStore keeps every record in process memory. It backs tests and local
// development and mirrors the conditional-write semantics of the PostgreSQL
// repositories.
type MemoryStore struct {
	mu            sync.RWMutex
	videos        map[string]models.VideoResume
	applications  map[string]models.Application
	grants        map[string]models.ViewGrant
	grantsByPair  map[string]string
	complaints    map[string]models.Complaint
	notifications map[string]models.NotificationRecord
	dedupeKeys    map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos:        make(map[string]models.VideoResume),
		applications:  make(map[string]models.Application),
		grants:        make(map[string]models.ViewGrant),
		grantsByPair:  make(map[string]string),
		complaints:    make(map[string]models.Complaint),
		notifications: make(map[string]models.NotificationRecord),
		dedupeKeys:    make(map[string]string),
	}
}

// Videos returns a VideoRepository view over the store.
func (s *MemoryStore) Videos() *MemoryVideoRepository { return &MemoryVideoRepository{s: s} }

// Applications returns an ApplicationRepository view over the store.
func (s *MemoryStore) Applications() *MemoryApplicationRepository {
	return &MemoryApplicationRepository{s: s}
}

// Grants returns a GrantRepository view over the store.
func (s *MemoryStore) Grants() *MemoryGrantRepository { return &MemoryGrantRepository{s: s} }

// Complaints returns a ComplaintRepository view over the store.
func (s *MemoryStore) Complaints() *MemoryComplaintRepository {
	return &MemoryComplaintRepository{s: s}
}

// Notifications returns a NotificationRepository view over the store.
func (s *MemoryStore) Notifications() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{s: s}
}

func grantPairKey(videoID, applicationID string) string {
	return videoID + "|" + applicationID
}

// MemoryVideoRepository implements VideoRepository on a MemoryStore.
type MemoryVideoRepository struct{ s *MemoryStore }

func (r *MemoryVideoRepository) Create(_ context.Context, video models.VideoResume) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.videos[video.ID]; ok {
		return ErrConflict
	}
	if video.Status == "" {
		video.Status = models.VideoStatusActive
	}
	r.s.videos[video.ID] = video
	return nil
}

func (r *MemoryVideoRepository) Get(_ context.Context, id string) (models.VideoResume, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	video, ok := r.s.videos[id]
	if !ok {
		return models.VideoResume{}, ErrNotFound
	}
	return video, nil
}

func (r *MemoryVideoRepository) Transition(_ context.Context, id string, from, to models.VideoStatus, purgeAfter *time.Time, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	video, ok := r.s.videos[id]
	if !ok || video.Status != from {
		return false, nil
	}
	video.Status = to
	if purgeAfter != nil {
		t := *purgeAfter
		video.PurgeAfter = &t
	}
	video.UpdatedAt = at
	r.s.videos[id] = video
	return true, nil
}

func (r *MemoryVideoRepository) ListPurgeable(_ context.Context, now time.Time, limit int) ([]models.VideoResume, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var videos []models.VideoResume
	for _, video := range r.s.videos {
		if video.Status != models.VideoStatusDeleted || video.PurgedAt != nil || video.PurgeAfter == nil {
			continue
		}
		if video.PurgeAfter.After(now) {
			continue
		}
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].PurgeAfter.Before(*videos[j].PurgeAfter) })
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

func (r *MemoryVideoRepository) MarkPurged(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	video, ok := r.s.videos[id]
	if !ok {
		return ErrNotFound
	}
	video.PurgedAt = &at
	video.UpdatedAt = at
	r.s.videos[id] = video
	return nil
}

// MemoryApplicationRepository implements ApplicationRepository on a MemoryStore.
type MemoryApplicationRepository struct{ s *MemoryStore }

func (r *MemoryApplicationRepository) Create(_ context.Context, application models.Application) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.applications[application.ID]; ok {
		return ErrConflict
	}
	if _, ok := r.s.videos[application.VideoResumeID]; !ok {
		return ErrNotFound
	}
	r.s.applications[application.ID] = application
	return nil
}

func (r *MemoryApplicationRepository) CanView(_ context.Context, viewerID, applicationID, videoID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	application, ok := r.s.applications[applicationID]
	if !ok {
		return false, nil
	}
	return application.EmployerID == viewerID && application.VideoResumeID == videoID, nil
}

// MemoryGrantRepository implements GrantRepository on a MemoryStore.
type MemoryGrantRepository struct{ s *MemoryStore }

func (r *MemoryGrantRepository) Ensure(_ context.Context, grant models.ViewGrant) (models.ViewGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := grantPairKey(grant.VideoID, grant.ApplicationID)
	if id, ok := r.s.grantsByPair[key]; ok {
		return r.s.grants[id], nil
	}
	if _, ok := r.s.videos[grant.VideoID]; !ok {
		return models.ViewGrant{}, ErrNotFound
	}
	if grant.MaxViews <= 0 {
		grant.MaxViews = models.DefaultMaxViews
	}
	grant.ViewsConsumed = 0
	grant.UpdatedAt = grant.CreatedAt
	r.s.grants[grant.ID] = grant
	r.s.grantsByPair[key] = grant.ID
	return grant, nil
}

func (r *MemoryGrantRepository) Get(_ context.Context, id string) (models.ViewGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	grant, ok := r.s.grants[id]
	if !ok {
		return models.ViewGrant{}, ErrNotFound
	}
	return grant, nil
}

func (r *MemoryGrantRepository) FindByPair(_ context.Context, videoID, applicationID string) (models.ViewGrant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.grantsByPair[grantPairKey(videoID, applicationID)]
	if !ok {
		return models.ViewGrant{}, ErrNotFound
	}
	return r.s.grants[id], nil
}

func (r *MemoryGrantRepository) IncrementIfEqual(_ context.Context, grantID string, expected int, at time.Time) (models.ViewGrant, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	grant, ok := r.s.grants[grantID]
	if !ok || grant.ViewsConsumed != expected || grant.ViewsConsumed >= grant.MaxViews {
		return models.ViewGrant{}, false, nil
	}
	if video, ok := r.s.videos[grant.VideoID]; !ok || video.Status != models.VideoStatusActive {
		return models.ViewGrant{}, false, nil
	}
	grant.ViewsConsumed++
	grant.UpdatedAt = at
	r.s.grants[grantID] = grant
	return grant, true, nil
}

func (r *MemoryGrantRepository) BindSession(_ context.Context, grantID, sessionID string, expiresAt, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	grant, ok := r.s.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	grant.ActiveSessionID = sessionID
	grant.LastTokenExpiresAt = &expiresAt
	grant.UpdatedAt = at
	r.s.grants[grantID] = grant
	return nil
}

func (r *MemoryGrantRepository) SwapSession(_ context.Context, grantID, expected, next string, expiresAt, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	grant, ok := r.s.grants[grantID]
	if !ok || grant.ActiveSessionID == "" || grant.ActiveSessionID != expected {
		return false, nil
	}
	grant.ActiveSessionID = next
	grant.LastTokenExpiresAt = &expiresAt
	grant.UpdatedAt = at
	r.s.grants[grantID] = grant
	return true, nil
}

// MemoryComplaintRepository implements ComplaintRepository on a MemoryStore.
type MemoryComplaintRepository struct{ s *MemoryStore }

func (r *MemoryComplaintRepository) Create(_ context.Context, complaint models.Complaint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.complaints[complaint.ID]; ok {
		return ErrConflict
	}
	if _, ok := r.s.videos[complaint.VideoID]; !ok {
		return ErrNotFound
	}
	complaint.Status = models.ComplaintStatusPending
	r.s.complaints[complaint.ID] = complaint
	return nil
}

func (r *MemoryComplaintRepository) Get(_ context.Context, id string) (models.Complaint, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	complaint, ok := r.s.complaints[id]
	if !ok {
		return models.Complaint{}, ErrNotFound
	}
	return complaint, nil
}

func (r *MemoryComplaintRepository) Resolve(_ context.Context, resolution ComplaintResolution) (ResolveOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	complaint, ok := r.s.complaints[resolution.ComplaintID]
	if !ok {
		return ResolveOutcome{}, ErrNotFound
	}
	if complaint.Status != models.ComplaintStatusPending {
		return ResolveOutcome{}, ErrConflict
	}

	resolvedAt := resolution.ResolvedAt
	complaint.Status = resolution.Status
	complaint.BlockVideo = resolution.BlockVideo
	complaint.Resolution = resolution.Resolution
	complaint.ModeratorID = resolution.ModeratorID
	complaint.ResolvedAt = &resolvedAt
	r.s.complaints[complaint.ID] = complaint

	outcome := ResolveOutcome{Complaint: complaint}
	video := r.s.videos[complaint.VideoID]
	if complaint.Status == models.ComplaintStatusApproved && complaint.BlockVideo && video.Status == models.VideoStatusActive {
		video.Status = models.VideoStatusBlocked
		video.UpdatedAt = resolvedAt
		r.s.videos[video.ID] = video
		outcome.VideoBlocked = true
	}
	outcome.Video = video
	return outcome, nil
}

// MemoryNotificationRepository implements NotificationRepository on a MemoryStore.
type MemoryNotificationRepository struct{ s *MemoryStore }

func (r *MemoryNotificationRepository) CreatePending(_ context.Context, record models.NotificationRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.dedupeKeys[record.DedupeKey]; ok {
		return false, nil
	}
	if _, ok := r.s.notifications[record.ID]; ok {
		return false, ErrConflict
	}
	record.Status = models.NotificationStatusPending
	record.Attempts = 0
	record.LastError = ""
	record.UpdatedAt = record.CreatedAt
	r.s.notifications[record.ID] = record
	r.s.dedupeKeys[record.DedupeKey] = record.ID
	return true, nil
}

func (r *MemoryNotificationRepository) UpdateDelivery(_ context.Context, id string, status models.NotificationStatus, attempts int, lastError string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record, ok := r.s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	record.Status = status
	record.Attempts = attempts
	record.LastError = lastError
	record.UpdatedAt = at
	r.s.notifications[id] = record
	return nil
}

func (r *MemoryNotificationRepository) ListPending(_ context.Context, limit int) ([]models.NotificationRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var records []models.NotificationRecord
	for _, record := range r.s.notifications {
		if record.Status == models.NotificationStatusPending {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *MemoryNotificationRepository) GetByDedupeKey(_ context.Context, key string) (models.NotificationRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.dedupeKeys[key]
	if !ok {
		return models.NotificationRecord{}, ErrNotFound
	}
	return r.s.notifications[id], nil
}

// NotificationsByType returns every stored notification of the given type.
// Useful for tests.
func (s *MemoryStore) NotificationsByType(kind models.NotificationType) []models.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []models.NotificationRecord
	for _, record := range s.notifications {
		if record.Type == kind {
			records = append(records, record)
		}
	}
	return records
}

var (
	_ VideoRepository        = (*MemoryVideoRepository)(nil)
	_ ApplicationRepository  = (*MemoryApplicationRepository)(nil)
	_ GrantRepository        = (*MemoryGrantRepository)(nil)
	_ ComplaintRepository    = (*MemoryComplaintRepository)(nil)
	_ NotificationRepository = (*MemoryNotificationRepository)(nil)
)
