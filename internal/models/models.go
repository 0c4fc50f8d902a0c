package models

import "time"

// DefaultMaxViews is the lifetime number of full plays a grant allows.
const DefaultMaxViews = 2

// VideoStatus is the lifecycle state of a video resume. Once a video leaves
// VideoStatusActive it never returns.
type VideoStatus string

const (
	VideoStatusActive  VideoStatus = "active"
	VideoStatusBlocked VideoStatus = "blocked"
	VideoStatusDeleted VideoStatus = "deleted"
)

// IsTerminal reports whether the status can no longer change.
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusBlocked || s == VideoStatusDeleted
}

// VideoResume is a job-seeker's privately uploaded video.
type VideoResume struct {
	ID         string
	OwnerID    string
	StorageKey string
	Status     VideoStatus
	PurgeAfter *time.Time
	PurgedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ViewGrant tracks quota consumption for one (video, application) pair.
type ViewGrant struct {
	ID                 string
	VideoID            string
	ApplicationID      string
	ViewerID           string
	ViewsConsumed      int
	MaxViews           int
	ActiveSessionID    string
	LastTokenExpiresAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ViewsRemaining returns how many plays are left on the grant.
func (g ViewGrant) ViewsRemaining() int {
	if remaining := g.MaxViews - g.ViewsConsumed; remaining > 0 {
		return remaining
	}
	return 0
}

// Exhausted reports whether the grant has no plays left.
func (g ViewGrant) Exhausted() bool {
	return g.ViewsConsumed >= g.MaxViews
}

// ComplaintStatus is the moderation state of a complaint.
type ComplaintStatus string

const (
	ComplaintStatusPending  ComplaintStatus = "pending"
	ComplaintStatusApproved ComplaintStatus = "approved"
	ComplaintStatusRejected ComplaintStatus = "rejected"
)

// IsResolved reports whether the complaint reached a terminal state.
func (s ComplaintStatus) IsResolved() bool {
	return s == ComplaintStatusApproved || s == ComplaintStatusRejected
}

// Complaint is a user report against a video resume.
type Complaint struct {
	ID          string
	VideoID     string
	ReporterID  string
	ReportedID  string
	Reason      string
	Status      ComplaintStatus
	BlockVideo  bool
	Resolution  string
	ModeratorID string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// NotificationType enumerates owner-facing notifications.
type NotificationType string

const (
	NotificationVideoViewed       NotificationType = "video_viewed"
	NotificationVideoLimitReached NotificationType = "video_limit_reached"
	NotificationVideoBlocked      NotificationType = "video_blocked"
)

// NotificationStatus is the delivery state of a notification record.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationRecord is the durable trace of one notification.
type NotificationRecord struct {
	ID        string
	UserID    string
	Type      NotificationType
	Payload   map[string]string
	DedupeKey string
	Status    NotificationStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Application links a job-seeker's video resume to an employer.
type Application struct {
	ID            string
	VideoResumeID string
	JobSeekerID   string
	EmployerID    string
	CreatedAt     time.Time
}
