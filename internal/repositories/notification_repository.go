package repositories

import (
	"context"
	"time"

	"github.com/jobreel/backend/internal/models"
)

// NotificationRepository stores the durable trace of owner notifications.
type NotificationRepository interface {
	// CreatePending inserts a pending record. It returns created=false when a
	// record with the same dedupe key already exists.
	CreatePending(ctx context.Context, record models.NotificationRecord) (created bool, err error)
	UpdateDelivery(ctx context.Context, id string, status models.NotificationStatus, attempts int, lastError string, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error)
	GetByDedupeKey(ctx context.Context, key string) (models.NotificationRecord, error)
}
