package repository

import (
	"context"
	"time"

	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/utils"
	"gorm.io/gorm"
)

// ScheduledJobRepositoryImpl implements ScheduledJobRepository
type ScheduledJobRepositoryImpl struct {
	*BaseRepository[models.ScheduledJob, models.ScheduledJobFilter]
}

func NewScheduledJobRepository(db *gorm.DB) ScheduledJobRepository {
	return &ScheduledJobRepositoryImpl{BaseRepository: NewBaseRepository[models.ScheduledJob, models.ScheduledJobFilter](db)}
}

func (r *ScheduledJobRepositoryImpl) applyFilter(db *gorm.DB, f models.ScheduledJobFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.JobType != nil {
		db = db.Where("job_type = ?", *f.JobType)
	}
	if f.EntityType != nil {
		db = db.Where("entity_type = ?", *f.EntityType)
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.DueBefore != nil {
		db = db.Where("scheduled_for <= ? OR next_run_at <= ?", *f.DueBefore, *f.DueBefore)
	}
	return db
}

func (r *ScheduledJobRepositoryImpl) ByFilter(ctx context.Context, filter models.ScheduledJobFilter, orderBy string, limit, offset int) ([]*models.ScheduledJob, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ScheduledJob{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ScheduledJob
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduledJobRepositoryImpl) Count(ctx context.Context, filter models.ScheduledJobFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ScheduledJob{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListDue returns active jobs whose fire time has arrived: next_run_at
// for jobs that have run before, scheduled_for otherwise.
func (r *ScheduledJobRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.ScheduledJob
	err := db.Model(&models.ScheduledJob{}).
		Where("status = ?", models.JobStatusActive).
		Where("(next_run_at IS NOT NULL AND next_run_at <= ?) OR (next_run_at IS NULL AND scheduled_for <= ?)", now, now).
		Order("COALESCE(next_run_at, scheduled_for) ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduledJobRepositoryImpl) Update(ctx context.Context, job *models.ScheduledJob) error {
	db := r.getDB(ctx)
	return db.Save(job).Error
}

// Reschedule sets a new absolute fire time, clears next_run_at so the
// runner recomputes it, and reactivates a completed, cancelled or failed
// job.
func (r *ScheduledJobRepositoryImpl) Reschedule(ctx context.Context, id uint, scheduledFor time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"scheduled_for": scheduledFor,
			"next_run_at":   nil,
			"status":        models.JobStatusActive,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Cancel sets the job status to cancelled. Idempotent: cancelling a
// cancelled job is a no-op.
func (r *ScheduledJobRepositoryImpl) Cancel(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	var count int64
	if err := db.Model(&models.ScheduledJob{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return db.Model(&models.ScheduledJob{}).
		Where("id = ? AND status <> ?", id, models.JobStatusCancelled).
		Updates(map[string]any{
			"status":     models.JobStatusCancelled,
			"updated_at": utils.UTCNow(),
		}).Error
}
