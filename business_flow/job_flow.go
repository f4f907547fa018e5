// Package businessflow contains the core business logic and use cases for scheduled job workflows
package businessflow

import (
	"context"
	"strings"

	"github.com/clubroster/mailengine/app/dto"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/clubroster/mailengine/utils"
	"gorm.io/gorm"
)

// JobFlow handles the admin surface over scheduled jobs
type JobFlow interface {
	CreateJob(ctx context.Context, req *dto.CreateJobRequest, metadata *ClientMetadata) (*dto.JobResponse, error)
	ListJobs(ctx context.Context, req *dto.ListJobsRequest) (*dto.ListJobsResponse, error)
	GetJob(ctx context.Context, id uint) (*dto.JobResponse, error)
	RescheduleJob(ctx context.Context, id uint, req *dto.RescheduleJobRequest) (*dto.JobResponse, error)
	CancelJob(ctx context.Context, id uint) error
}

// JobFlowImpl implements the job business flow. Every operation touches a
// single row, so unlike the mailer flow there is no transaction handle.
type JobFlowImpl struct {
	jobRepo repository.ScheduledJobRepository
}

// NewJobFlow creates a new job flow instance
func NewJobFlow(jobRepo repository.ScheduledJobRepository) JobFlow {
	return &JobFlowImpl{jobRepo: jobRepo}
}

// CreateJob registers a durable trigger that will produce a campaign when
// it fires
func (s *JobFlowImpl) CreateJob(ctx context.Context, req *dto.CreateJobRequest, metadata *ClientMetadata) (*dto.JobResponse, error) {
	if err := validateCreateJobRequest(req); err != nil {
		return nil, NewBusinessError("JOB_VALIDATION_FAILED", "Job validation failed", err)
	}

	job := &models.ScheduledJob{
		JobType:      req.JobType,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		ScheduledFor: utils.TimeToUTC(req.ScheduledFor),
		Metadata:     req.Metadata,
	}
	if req.Recurrence != nil {
		rule := models.RecurrenceRule(strings.ToUpper(*req.Recurrence))
		job.Recurrence = &rule
	}

	if err := s.jobRepo.Save(ctx, job); err != nil {
		return nil, NewBusinessError("JOB_CREATION_FAILED", "Failed to create scheduled job", err)
	}

	resp := toJobResponse(job)
	return &resp, nil
}

// ListJobs returns a job page ordered by scheduled_for then next_run_at,
// with the page size clamped
func (s *JobFlowImpl) ListJobs(ctx context.Context, req *dto.ListJobsRequest) (*dto.ListJobsResponse, error) {
	page, pageSize := normalizePage(req.Page, req.PageSize)

	filter := models.ScheduledJobFilter{JobType: req.JobType}
	if req.Status != nil {
		status := models.JobStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("INVALID_STATUS", "Unknown job status", ErrInvalidStatus)
		}
		filter.Status = &status
	}

	total, err := s.jobRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("JOB_LIST_FAILED", "Failed to count jobs", err)
	}
	rows, err := s.jobRepo.ByFilter(ctx, filter, "scheduled_for ASC, next_run_at ASC NULLS LAST, id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("JOB_LIST_FAILED", "Failed to list jobs", err)
	}

	items := make([]dto.JobResponse, 0, len(rows))
	for _, j := range rows {
		items = append(items, toJobResponse(j))
	}

	return &dto.ListJobsResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetJob fetches one job by id
func (s *JobFlowImpl) GetJob(ctx context.Context, id uint) (*dto.JobResponse, error) {
	job, err := s.jobRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to lookup job", err)
	}
	if job == nil {
		return nil, NewBusinessError("JOB_NOT_FOUND", "Scheduled job not found", ErrJobNotFound)
	}
	resp := toJobResponse(job)
	return &resp, nil
}

// RescheduleJob moves the job to a caller-supplied absolute time, clears
// next_run_at so the runner recomputes it, and reactivates the job if it
// was completed, cancelled or failed.
func (s *JobFlowImpl) RescheduleJob(ctx context.Context, id uint, req *dto.RescheduleJobRequest) (*dto.JobResponse, error) {
	if req.ScheduledFor.IsZero() {
		return nil, NewBusinessError("JOB_VALIDATION_FAILED", "Job validation failed", ErrJobScheduleRequired)
	}

	job, err := s.jobRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to lookup job", err)
	}
	if job == nil {
		return nil, NewBusinessError("JOB_NOT_FOUND", "Scheduled job not found", ErrJobNotFound)
	}

	if err := s.jobRepo.Reschedule(ctx, id, utils.TimeToUTC(req.ScheduledFor)); err != nil {
		return nil, NewBusinessError("JOB_RESCHEDULE_FAILED", "Failed to reschedule job", err)
	}

	job, err = s.jobRepo.ByID(ctx, id)
	if err != nil || job == nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to reload job", err)
	}
	resp := toJobResponse(job)
	return &resp, nil
}

// CancelJob sets the job status to cancelled; idempotent
func (s *JobFlowImpl) CancelJob(ctx context.Context, id uint) error {
	err := s.jobRepo.Cancel(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return NewBusinessError("JOB_NOT_FOUND", "Scheduled job not found", ErrJobNotFound)
		}
		return NewBusinessError("JOB_CANCEL_FAILED", "Failed to cancel job", err)
	}
	return nil
}

func validateCreateJobRequest(req *dto.CreateJobRequest) error {
	if strings.TrimSpace(req.JobType) == "" {
		return ErrJobTypeRequired
	}
	if strings.TrimSpace(req.EntityType) == "" || req.EntityID == 0 {
		return ErrJobEntityRequired
	}
	if req.ScheduledFor.IsZero() {
		return ErrJobScheduleRequired
	}
	if req.Recurrence != nil {
		rule := models.RecurrenceRule(strings.ToUpper(*req.Recurrence))
		if !rule.Valid() {
			return ErrJobRecurrenceInvalid
		}
	}
	return nil
}

func toJobResponse(j *models.ScheduledJob) dto.JobResponse {
	resp := dto.JobResponse{
		ID:           j.ID,
		JobType:      j.JobType,
		EntityType:   j.EntityType,
		EntityID:     j.EntityID,
		ScheduledFor: j.ScheduledFor,
		NextRunAt:    j.NextRunAt,
		LastRunAt:    j.LastRunAt,
		Status:       j.Status.String(),
		RunCount:     j.RunCount,
		FailureCount: j.FailureCount,
		Metadata:     j.Metadata,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Recurrence != nil {
		rule := string(*j.Recurrence)
		resp.Recurrence = &rule
	}
	return resp
}
