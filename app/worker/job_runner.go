package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/clubroster/mailengine/config"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/clubroster/mailengine/utils"
)

const jobRunnerName = "job_runner"

// JobTypeEventReminder is the built-in job type that fans a reminder
// campaign out of the job's metadata.
const JobTypeEventReminder = "event_reminder"

// JobHandler executes one due job. A returned error counts against the
// job's failure ceiling.
type JobHandler func(ctx context.Context, job *models.ScheduledJob) error

// JobRunner periodically fires due scheduled jobs through registered
// handlers. It advances recurring jobs after each successful run and
// parks jobs whose handlers keep failing.
type JobRunner struct {
	jobRepo   repository.ScheduledJobRepository
	handlers  map[string]JobHandler
	heartbeat *Heartbeat
	logger    *log.Logger
	cfg       config.SchedulerConfig
}

func NewJobRunner(
	jobRepo repository.ScheduledJobRepository,
	heartbeat *Heartbeat,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
	logDir string,
) *JobRunner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FailureCeiling <= 0 {
		cfg.FailureCeiling = 5
	}
	return &JobRunner{
		jobRepo:   jobRepo,
		handlers:  make(map[string]JobHandler),
		heartbeat: heartbeat,
		logger:    newWorkerLogger(jobRunnerName, logDir, logCfg),
		cfg:       cfg,
	}
}

// Register binds a handler to a job type, replacing any previous one.
// Call before Start; the map is not guarded.
func (r *JobRunner) Register(jobType string, handler JobHandler) {
	r.handlers[jobType] = handler
}

// NewEventReminderHandler builds the handler for event reminder jobs.
// The job metadata carries the pre-rendered campaign payload; firing the
// job creates the campaign and its deliveries.
func NewEventReminderHandler(mailer businessflow.MailerFlow) JobHandler {
	return func(ctx context.Context, job *models.ScheduledJob) error {
		if len(job.Metadata) == 0 {
			return fmt.Errorf("job %d has no campaign payload", job.ID)
		}
		var req dto.CreateCampaignRequest
		if err := json.Unmarshal(job.Metadata, &req); err != nil {
			return fmt.Errorf("job %d campaign payload invalid: %w", job.ID, err)
		}
		if req.Name == "" {
			req.Name = fmt.Sprintf("Event Reminder: %s %d", job.EntityType, job.EntityID)
		}
		if req.Type == "" {
			req.Type = JobTypeEventReminder
		}
		_, err := mailer.CreateCampaign(ctx, &req, nil)
		return err
	}
}

// Start launches the runner loop in a background goroutine and returns a
// stop function
func (r *JobRunner) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()

		r.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (r *JobRunner) runOnce(ctx context.Context) {
	now := utils.UTCNow()

	if err := r.heartbeat.Beat(ctx, jobRunnerName); err != nil {
		r.logger.Printf("heartbeat failed: %v", err)
	}

	due, err := r.jobRepo.ListDue(ctx, now, r.cfg.BatchSize)
	if err != nil {
		r.logger.Printf("list due jobs failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	r.logger.Printf("%d jobs due", len(due))

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		r.fire(ctx, job, utils.UTCNow())
	}
}

// fire runs one due job and records the outcome on the row
func (r *JobRunner) fire(ctx context.Context, job *models.ScheduledJob, now time.Time) {
	handler, ok := r.handlers[job.JobType]
	if !ok {
		r.recordFailure(ctx, job, fmt.Errorf("no handler registered for job type %q", job.JobType))
		return
	}

	if err := handler(ctx, job); err != nil {
		r.recordFailure(ctx, job, err)
		return
	}

	job.RunCount++
	job.LastRunAt = &now
	job.FailureCount = 0
	if job.IsRecurring() {
		next := job.Recurrence.Next(now)
		job.NextRunAt = &next
	} else {
		job.Status = models.JobStatusCompleted
		job.NextRunAt = nil
	}
	if err := r.jobRepo.Update(ctx, job); err != nil {
		r.logger.Printf("update job %d after run failed: %v", job.ID, err)
		return
	}
	jobRunsTotal.WithLabelValues(job.JobType, "success").Inc()
	r.logger.Printf("job %d (%s) ran, run_count=%d", job.ID, job.JobType, job.RunCount)
}

// recordFailure bumps the consecutive failure count without advancing
// the fire time, so the job is retried on the next tick until it either
// succeeds or hits the ceiling and parks as failed.
func (r *JobRunner) recordFailure(ctx context.Context, job *models.ScheduledJob, runErr error) {
	job.FailureCount++
	if job.FailureCount >= r.cfg.FailureCeiling {
		job.Status = models.JobStatusFailed
		r.logger.Printf("job %d (%s) parked after %d consecutive failures: %v",
			job.ID, job.JobType, job.FailureCount, runErr)
	} else {
		r.logger.Printf("job %d (%s) failed (%d/%d): %v",
			job.ID, job.JobType, job.FailureCount, r.cfg.FailureCeiling, runErr)
	}
	if err := r.jobRepo.Update(ctx, job); err != nil {
		r.logger.Printf("update job %d after failure errored: %v", job.ID, err)
	}
	jobRunsTotal.WithLabelValues(job.JobType, "failure").Inc()
}
