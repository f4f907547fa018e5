// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/clubroster/mailengine/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// ErrDuplicateRecipient is returned when an enqueue would create a second
// delivery for the same campaign/recipient pair. The existing row is left
// untouched.
var ErrDuplicateRecipient = errors.New("campaign already has a delivery for this recipient")

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// EmailDeliveryRepository defines operations for email deliveries
type EmailDeliveryRepository interface {
	Repository[models.EmailDelivery, models.EmailDeliveryFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.EmailDelivery, error)

	// ListDue returns deliveries eligible for an attempt at now: pending
	// rows, scheduled rows whose time has come, and failed rows below the
	// retry ceiling whose next_retry_at has elapsed, ordered by ascending
	// priority then due time.
	ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]*models.EmailDelivery, error)

	// Claim atomically moves the given rows from an eligible status to
	// sending and returns the ids actually claimed. Rows claimed by a
	// concurrent worker in the meantime are skipped, so claim sets across
	// workers are disjoint.
	Claim(ctx context.Context, ids []uint, now time.Time, maxRetries int) ([]uint, error)

	// Release returns a claimed row to its pre-claim eligible status when
	// no attempt was made (e.g. the daily quota was exhausted).
	Release(ctx context.Context, id uint) error

	MarkSent(ctx context.Context, id uint, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id uint, errMsg string, nextRetryAt *time.Time, at time.Time) error
	Cancel(ctx context.Context, id uint) error

	// ReleaseStuckSending fails rows stuck in sending longer than the
	// lease, making them retry-eligible immediately.
	ReleaseStuckSending(ctx context.Context, olderThan time.Time) (int64, error)

	CountByStatus(ctx context.Context, campaignID uint) (map[models.DeliveryStatus]int64, error)

	// CountUnsettled counts a campaign's deliveries that can still change
	// state: pending, scheduled, in-flight, and failed rows below the
	// retry ceiling. Zero means the campaign can be marked completed.
	CountUnsettled(ctx context.Context, campaignID uint, maxRetries int) (int64, error)
}

// EmailCampaignRepository defines operations for email campaigns
type EmailCampaignRepository interface {
	Repository[models.EmailCampaign, models.EmailCampaignFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.EmailCampaign, error)
	Update(ctx context.Context, campaign *models.EmailCampaign) error
	MarkCompleted(ctx context.Context, id uint, at time.Time) error
	ListActiveIDs(ctx context.Context, limit int) ([]uint, error)
}

// ScheduledJobRepository defines operations for scheduled jobs
type ScheduledJobRepository interface {
	Repository[models.ScheduledJob, models.ScheduledJobFilter]
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	Update(ctx context.Context, job *models.ScheduledJob) error

	// Reschedule sets a new absolute fire time, clears next_run_at so it is
	// recomputed, and reactivates the job if it was completed, cancelled or
	// failed.
	Reschedule(ctx context.Context, id uint, scheduledFor time.Time) error

	// Cancel sets the job status to cancelled; idempotent.
	Cancel(ctx context.Context, id uint) error
}

// QuotaRepository defines atomic operations on the daily send counter
type QuotaRepository interface {
	// Reserve atomically increments the day's counter by n if the result
	// stays within limit. Returns false without side effects otherwise.
	Reserve(ctx context.Context, day string, n, limit int) (bool, error)

	// Release returns n unused reservation slots. Committed sends are
	// never released.
	Release(ctx context.Context, day string, n int) error

	ByDay(ctx context.Context, day string) (*models.DailySendQuota, error)
}
