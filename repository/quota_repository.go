package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/utils"
	"gorm.io/gorm"
)

// QuotaRepositoryImpl implements QuotaRepository on a single counter row
// per organization-local calendar day. All mutation is compare-and-set in
// SQL so concurrent workers cannot overshoot the daily limit.
type QuotaRepositoryImpl struct {
	db *gorm.DB
}

func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &QuotaRepositoryImpl{db: db}
}

func (r *QuotaRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// Reserve lazily creates the day's row, then increments it only if the
// result stays within the limit. Returns false when the quota is
// exhausted.
func (r *QuotaRepositoryImpl) Reserve(ctx context.Context, day string, n, limit int) (bool, error) {
	if n <= 0 {
		return false, fmt.Errorf("reservation size must be positive, got %d", n)
	}
	if limit <= 0 {
		return false, nil
	}
	db := r.getDB(ctx)
	now := utils.UTCNow()

	if err := db.Exec(
		`INSERT INTO daily_send_quotas (day, sent_count, created_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT (day) DO NOTHING`,
		day, now, now,
	).Error; err != nil {
		return false, fmt.Errorf("failed to ensure quota row for %s: %w", day, err)
	}

	res := db.Exec(
		`UPDATE daily_send_quotas
		 SET sent_count = sent_count + ?, updated_at = ?
		 WHERE day = ? AND sent_count + ? <= ?`,
		n, now, day, n, limit,
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve quota for %s: %w", day, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release returns unused reservation slots. Guarded so the counter never
// goes negative.
func (r *QuotaRepositoryImpl) Release(ctx context.Context, day string, n int) error {
	if n <= 0 {
		return nil
	}
	db := r.getDB(ctx)
	return db.Exec(
		`UPDATE daily_send_quotas
		 SET sent_count = sent_count - ?, updated_at = ?
		 WHERE day = ? AND sent_count >= ?`,
		n, utils.UTCNow(), day, n,
	).Error
}

func (r *QuotaRepositoryImpl) ByDay(ctx context.Context, day string) (*models.DailySendQuota, error) {
	db := r.getDB(ctx)
	var row models.DailySendQuota
	if err := db.Where("day = ?", day).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
