package dto

import (
	"encoding/json"
	"time"
)

// CreateJobRequest registers a durable trigger. The owning collaborator
// (e.g. event creation) calls this when it schedules reminders.
type CreateJobRequest struct {
	JobType      string          `json:"job_type" validate:"required,max=100"`
	EntityType   string          `json:"entity_type" validate:"required,max=100"`
	EntityID     uint            `json:"entity_id" validate:"required"`
	ScheduledFor time.Time       `json:"scheduled_for" validate:"required"`
	Recurrence   *string         `json:"recurrence,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// JobResponse is the admin view of one scheduled job
type JobResponse struct {
	ID           uint            `json:"id"`
	JobType      string          `json:"job_type"`
	EntityType   string          `json:"entity_type"`
	EntityID     uint            `json:"entity_id"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Recurrence   *string         `json:"recurrence,omitempty"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	Status       string          `json:"status"`
	RunCount     int             `json:"run_count"`
	FailureCount int             `json:"failure_count"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListJobsRequest filters the job list
type ListJobsRequest struct {
	Status   *string `json:"status,omitempty"`
	JobType  *string `json:"job_type,omitempty"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// ListJobsResponse is a paginated job list ordered by scheduled_for then
// next_run_at
type ListJobsResponse struct {
	Items    []JobResponse `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// RescheduleJobRequest moves a job to a new absolute fire time
type RescheduleJobRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}
