package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clubroster/mailengine/utils"
	"gorm.io/gorm"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusFailed marks a job whose handler failed more times than the
	// configured ceiling. It is terminal until an operator reschedules it.
	JobStatusFailed JobStatus = "failed"
)

// String returns the string representation of the status
func (s JobStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusActive, JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for JobStatus
func (s *JobStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = JobStatus(v)
	case []byte:
		*s = JobStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into JobStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for JobStatus
func (s JobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid JobStatus: %s", s)
	}
	return string(s), nil
}

// RecurrenceRule represents how a recurring job advances after each run.
// A nil rule on the job means one-shot.
type RecurrenceRule string

const (
	RecurrenceDaily   RecurrenceRule = "DAILY"
	RecurrenceWeekly  RecurrenceRule = "WEEKLY"
	RecurrenceMonthly RecurrenceRule = "MONTHLY"
)

// Valid checks if the rule is valid
func (r RecurrenceRule) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// Next applies the rule to the given instant. Monthly advancement uses
// calendar months, so Jan 31 + MONTHLY normalizes per time.AddDate.
func (r RecurrenceRule) Next(from time.Time) time.Time {
	switch r {
	case RecurrenceDaily:
		return from.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return from.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from
	}
}

// ScheduledJob represents a durable trigger that, when due, produces an
// email campaign and its deliveries via a registered handler
type ScheduledJob struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	JobType      string          `gorm:"size:100;not null;index:idx_scheduled_jobs_job_type" json:"job_type"`
	EntityType   string          `gorm:"size:100;not null" json:"entity_type"`
	EntityID     uint            `gorm:"not null;index:idx_scheduled_jobs_entity_id" json:"entity_id"`
	ScheduledFor time.Time       `gorm:"not null;index:idx_scheduled_jobs_scheduled_for" json:"scheduled_for"`
	Recurrence   *RecurrenceRule `gorm:"type:varchar(20)" json:"recurrence,omitempty"`
	NextRunAt    *time.Time      `gorm:"index:idx_scheduled_jobs_next_run_at" json:"next_run_at,omitempty"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	Status       JobStatus       `gorm:"type:scheduled_job_status;not null;default:'active';index:idx_scheduled_jobs_status" json:"status"`
	RunCount     int             `gorm:"not null;default:0" json:"run_count"`
	FailureCount int             `gorm:"not null;default:0" json:"failure_count"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}

// BeforeCreate is called before creating a new record
func (j *ScheduledJob) BeforeCreate(tx *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusActive
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = utils.UTCNow()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (j *ScheduledJob) BeforeUpdate(tx *gorm.DB) error {
	j.UpdatedAt = utils.UTCNow()
	return nil
}

// IsRecurring reports whether the job advances after each run
func (j *ScheduledJob) IsRecurring() bool {
	return j.Recurrence != nil && j.Recurrence.Valid()
}

// IsDue reports whether the job should fire at the given instant. A job
// that has already run fires on next_run_at; a job that has never run
// fires on scheduled_for.
func (j *ScheduledJob) IsDue(now time.Time) bool {
	if j.Status != JobStatusActive {
		return false
	}
	if j.NextRunAt != nil {
		return !j.NextRunAt.After(now)
	}
	return !j.ScheduledFor.After(now)
}

// ScheduledJobFilter represents filter criteria for scheduled jobs
type ScheduledJobFilter struct {
	ID         *uint      `json:"id,omitempty"`
	JobType    *string    `json:"job_type,omitempty"`
	EntityType *string    `json:"entity_type,omitempty"`
	EntityID   *uint      `json:"entity_id,omitempty"`
	Status     *JobStatus `json:"status,omitempty"`
	DueBefore  *time.Time `json:"due_before,omitempty"`
}
