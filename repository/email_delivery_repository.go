package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailDeliveryRepositoryImpl implements EmailDeliveryRepository
type EmailDeliveryRepositoryImpl struct {
	*BaseRepository[models.EmailDelivery, models.EmailDeliveryFilter]
}

func NewEmailDeliveryRepository(db *gorm.DB) EmailDeliveryRepository {
	return &EmailDeliveryRepositoryImpl{BaseRepository: NewBaseRepository[models.EmailDelivery, models.EmailDeliveryFilter](db)}
}

// Save inserts a delivery, mapping the campaign/recipient uniqueness
// violation to ErrDuplicateRecipient. Requires TranslateError on the
// gorm config so the driver surfaces gorm.ErrDuplicatedKey.
func (r *EmailDeliveryRepositoryImpl) Save(ctx context.Context, delivery *models.EmailDelivery) error {
	if err := r.BaseRepository.Save(ctx, delivery); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateRecipient
		}
		return err
	}
	return nil
}

// SaveBatch inserts deliveries, mapping uniqueness violations like Save
func (r *EmailDeliveryRepositoryImpl) SaveBatch(ctx context.Context, deliveries []*models.EmailDelivery) error {
	if err := r.BaseRepository.SaveBatch(ctx, deliveries); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateRecipient
		}
		return err
	}
	return nil
}

func (r *EmailDeliveryRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.EmailDelivery, error) {
	db := r.getDB(ctx)
	var row models.EmailDelivery
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *EmailDeliveryRepositoryImpl) applyFilter(db *gorm.DB, f models.EmailDeliveryFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.RecipientEmail != nil {
		db = db.Where("recipient_email = ?", *f.RecipientEmail)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Priority != nil {
		db = db.Where("priority = ?", *f.Priority)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *EmailDeliveryRepositoryImpl) ByFilter(ctx context.Context, filter models.EmailDeliveryFilter, orderBy string, limit, offset int) ([]*models.EmailDelivery, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.EmailDelivery{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.EmailDelivery
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EmailDeliveryRepositoryImpl) Count(ctx context.Context, filter models.EmailDeliveryFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.EmailDelivery{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListDue returns attempt-eligible rows ordered by ascending priority,
// then by due time (next_retry_at for retries, scheduled_for when set,
// created_at otherwise).
func (r *EmailDeliveryRepositoryImpl) ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]*models.EmailDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.EmailDelivery
	err := db.Model(&models.EmailDelivery{}).
		Where(
			db.Where("status = ?", models.DeliveryStatusPending).
				Or("status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)", models.DeliveryStatusScheduled, now).
				Or("status = ? AND retry_count < ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", models.DeliveryStatusFailed, maxRetries, now),
		).
		Order("priority ASC, COALESCE(next_retry_at, scheduled_for, created_at) ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Claim flips eligible rows to sending in one statement and returns the
// ids that were actually transitioned. The guard repeats the ListDue
// eligibility predicate, not just the status check: a row re-failed by a
// concurrent worker between ListDue and Claim carries a fresh
// next_retry_at that must be honoured. Concurrent claim sets stay
// disjoint.
func (r *EmailDeliveryRepositoryImpl) Claim(ctx context.Context, ids []uint, now time.Time, maxRetries int) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := r.getDB(ctx)
	var claimed []uint
	err := db.Raw(
		`UPDATE email_deliveries
		 SET status = ?, updated_at = ?
		 WHERE id IN ? AND (
			status = ?
			OR (status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?))
			OR (status = ? AND retry_count < ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
		 )
		 RETURNING id`,
		models.DeliveryStatusSending, now, ids,
		models.DeliveryStatusPending,
		models.DeliveryStatusScheduled, now,
		models.DeliveryStatusFailed, maxRetries, now,
	).Scan(&claimed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries: %w", err)
	}
	return claimed, nil
}

// Release reverts a claimed row that was never attempted. Rows that had
// already failed go back to failed (keeping their retry bookkeeping);
// fresh rows go back to pending.
func (r *EmailDeliveryRepositoryImpl) Release(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Exec(
		`UPDATE email_deliveries
		 SET status = CASE WHEN retry_count > 0 THEN ? ELSE ? END, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.DeliveryStatusFailed, models.DeliveryStatusPending, utils.UTCNow(),
		id, models.DeliveryStatusSending,
	).Error
}

func (r *EmailDeliveryRepositoryImpl) MarkSent(ctx context.Context, id uint, providerMessageID string, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.EmailDelivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusSending).
		Updates(map[string]any{
			"status":              models.DeliveryStatusSent,
			"provider_message_id": providerMessageID,
			"sent_at":             at,
			"error_message":       nil,
			"next_retry_at":       nil,
			"updated_at":          at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delivery %d not in sending state", id)
	}
	return nil
}

// MarkFailed records a failed attempt. A nil nextRetryAt means the retry
// ceiling is exhausted and the row is permanently failed.
func (r *EmailDeliveryRepositoryImpl) MarkFailed(ctx context.Context, id uint, errMsg string, nextRetryAt *time.Time, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.EmailDelivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusSending).
		Updates(map[string]any{
			"status":        models.DeliveryStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nextRetryAt,
			"failed_at":     at,
			"error_message": errMsg,
			"updated_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delivery %d not in sending state", id)
	}
	return nil
}

// Cancel transitions any non-terminal delivery to cancelled. A row already
// claimed by a worker finishes its in-flight attempt; cancellation applies
// only if the row is not mid-send.
func (r *EmailDeliveryRepositoryImpl) Cancel(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	res := db.Model(&models.EmailDelivery{}).
		Where("id = ? AND status IN (?, ?, ?)", id,
			models.DeliveryStatusPending, models.DeliveryStatusScheduled, models.DeliveryStatusFailed).
		Updates(map[string]any{
			"status":        models.DeliveryStatusCancelled,
			"next_retry_at": nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delivery %d is not cancellable", id)
	}
	return nil
}

// ReleaseStuckSending fails rows whose worker died mid-attempt. The
// outcome of the in-flight call is unknown, so the attempt counts and the
// row becomes retry-eligible immediately.
func (r *EmailDeliveryRepositoryImpl) ReleaseStuckSending(ctx context.Context, olderThan time.Time) (int64, error) {
	db := r.getDB(ctx)
	now := utils.UTCNow()
	res := db.Model(&models.EmailDelivery{}).
		Where("status = ? AND updated_at < ?", models.DeliveryStatusSending, olderThan).
		Updates(map[string]any{
			"status":        models.DeliveryStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": now,
			"failed_at":     now,
			"error_message": "worker lease expired during send",
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByStatus aggregates a campaign's deliveries by status in one scan
func (r *EmailDeliveryRepositoryImpl) CountByStatus(ctx context.Context, campaignID uint) (map[models.DeliveryStatus]int64, error) {
	db := r.getDB(ctx)
	var rows []struct {
		Status models.DeliveryStatus
		Count  int64
	}
	err := db.Model(&models.EmailDelivery{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.DeliveryStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// CountUnsettled counts rows that can still change state. Used by the
// completion sweep: a campaign with zero unsettled rows has run to the
// end, even if some deliveries ended in permanent failure.
func (r *EmailDeliveryRepositoryImpl) CountUnsettled(ctx context.Context, campaignID uint, maxRetries int) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.EmailDelivery{}).
		Where("campaign_id = ?", campaignID).
		Where(
			db.Where("status IN (?, ?, ?)",
				models.DeliveryStatusPending, models.DeliveryStatusScheduled, models.DeliveryStatusSending).
				Or("status = ? AND retry_count < ?", models.DeliveryStatusFailed, maxRetries),
		).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
