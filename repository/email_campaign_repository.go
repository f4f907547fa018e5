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

// EmailCampaignRepositoryImpl implements EmailCampaignRepository
type EmailCampaignRepositoryImpl struct {
	*BaseRepository[models.EmailCampaign, models.EmailCampaignFilter]
}

func NewEmailCampaignRepository(db *gorm.DB) EmailCampaignRepository {
	return &EmailCampaignRepositoryImpl{BaseRepository: NewBaseRepository[models.EmailCampaign, models.EmailCampaignFilter](db)}
}

func (r *EmailCampaignRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.EmailCampaign, error) {
	db := r.getDB(ctx)
	var row models.EmailCampaign
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *EmailCampaignRepositoryImpl) applyFilter(db *gorm.DB, f models.EmailCampaignFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *EmailCampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.EmailCampaignFilter, orderBy string, limit, offset int) ([]*models.EmailCampaign, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.EmailCampaign{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.EmailCampaign
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EmailCampaignRepositoryImpl) Count(ctx context.Context, filter models.EmailCampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.EmailCampaign{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *EmailCampaignRepositoryImpl) Update(ctx context.Context, campaign *models.EmailCampaign) error {
	db := r.getDB(ctx)
	return db.Save(campaign).Error
}

func (r *EmailCampaignRepositoryImpl) MarkCompleted(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.EmailCampaign{}).
		Where("id = ? AND status = ?", id, models.CampaignStatusActive).
		Updates(map[string]any{
			"status":       models.CampaignStatusCompleted,
			"completed_at": at,
			"updated_at":   utils.UTCNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign %d is not active", id)
	}
	return nil
}

// ListActiveIDs returns ids of active campaigns, oldest first. Used by
// the completion sweep.
func (r *EmailCampaignRepositoryImpl) ListActiveIDs(ctx context.Context, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var ids []uint
	err := db.Model(&models.EmailCampaign{}).
		Where("status = ?", models.CampaignStatusActive).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
