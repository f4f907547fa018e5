package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/clubroster/mailengine/config"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobRepo struct {
	repository.ScheduledJobRepository

	due     []*models.ScheduledJob
	updated []*models.ScheduledJob
}

func (f *fakeJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	return f.due, nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job *models.ScheduledJob) error {
	f.updated = append(f.updated, job)
	return nil
}

type fakeMailerFlow struct {
	businessflow.MailerFlow

	created []*dto.CreateCampaignRequest
	err     error
}

func (f *fakeMailerFlow) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *businessflow.ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &dto.CreateCampaignResponse{ID: 1}, nil
}

func newTestRunner(t *testing.T, jobs *fakeJobRepo) *JobRunner {
	t.Helper()
	cfg := config.SchedulerConfig{
		TickInterval:   time.Minute,
		BatchSize:      10,
		FailureCeiling: 3,
	}
	logCfg := config.LoggingConfig{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
	return NewJobRunner(jobs, nil, cfg, logCfg, t.TempDir())
}

func activeJob(id uint, jobType string) *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:           id,
		JobType:      jobType,
		EntityType:   "event",
		EntityID:     7,
		ScheduledFor: time.Now().UTC().Add(-time.Minute),
		Status:       models.JobStatusActive,
	}
}

func TestFireOneShotCompletes(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)
	r.Register("newsletter", func(ctx context.Context, job *models.ScheduledJob) error {
		return nil
	})

	job := activeJob(1, "newsletter")
	now := time.Now().UTC()
	r.fire(context.Background(), job, now)

	require.Len(t, jobs.updated, 1)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.RunCount)
	require.NotNil(t, job.LastRunAt)
	assert.True(t, job.LastRunAt.Equal(now))
	assert.Nil(t, job.NextRunAt)
}

func TestFireRecurringAdvances(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)
	r.Register("digest", func(ctx context.Context, job *models.ScheduledJob) error {
		return nil
	})

	rule := models.RecurrenceWeekly
	job := activeJob(1, "digest")
	job.Recurrence = &rule

	now := time.Now().UTC()
	r.fire(context.Background(), job, now)

	assert.Equal(t, models.JobStatusActive, job.Status, "recurring jobs stay active")
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.Equal(now.AddDate(0, 0, 7)))
}

func TestFireFailureBelowCeiling(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)
	r.Register("digest", func(ctx context.Context, job *models.ScheduledJob) error {
		return errors.New("smtp relay down")
	})

	job := activeJob(1, "digest")
	r.fire(context.Background(), job, time.Now().UTC())

	assert.Equal(t, models.JobStatusActive, job.Status)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, 0, job.RunCount)
	assert.Nil(t, job.NextRunAt, "failures must not advance the fire time")
}

func TestFireFailureCeilingParksJob(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)
	r.Register("digest", func(ctx context.Context, job *models.ScheduledJob) error {
		return errors.New("smtp relay down")
	})

	job := activeJob(1, "digest")
	job.FailureCount = 2 // one short of the ceiling

	r.fire(context.Background(), job, time.Now().UTC())

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.FailureCount)
}

func TestFireSuccessResetsFailureCount(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)
	r.Register("digest", func(ctx context.Context, job *models.ScheduledJob) error {
		return nil
	})

	rule := models.RecurrenceDaily
	job := activeJob(1, "digest")
	job.Recurrence = &rule
	job.FailureCount = 2

	r.fire(context.Background(), job, time.Now().UTC())

	assert.Equal(t, 0, job.FailureCount, "the ceiling counts consecutive failures")
}

func TestFireUnknownJobTypeCountsAsFailure(t *testing.T) {
	jobs := &fakeJobRepo{}
	r := newTestRunner(t, jobs)

	job := activeJob(1, "telegram_blast")
	r.fire(context.Background(), job, time.Now().UTC())

	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, 0, job.RunCount)
}

func TestRunOnceFiresDueJobs(t *testing.T) {
	jobs := &fakeJobRepo{due: []*models.ScheduledJob{activeJob(1, "digest"), activeJob(2, "digest")}}
	r := newTestRunner(t, jobs)

	var fired []uint
	r.Register("digest", func(ctx context.Context, job *models.ScheduledJob) error {
		fired = append(fired, job.ID)
		return nil
	})

	r.runOnce(context.Background())

	assert.Equal(t, []uint{1, 2}, fired)
	assert.Len(t, jobs.updated, 2)
}

func TestEventReminderHandler(t *testing.T) {
	flow := &fakeMailerFlow{}
	handler := NewEventReminderHandler(flow)

	payload, err := json.Marshal(dto.CreateCampaignRequest{
		Name: "Spring Gala Reminder",
		Type: "event_reminder",
		Recipients: []dto.CampaignRecipient{
			{Email: "member@example.org", Subject: "Spring Gala", BodyHTML: "<p>See you there</p>"},
		},
	})
	require.NoError(t, err)

	job := activeJob(1, JobTypeEventReminder)
	job.Metadata = payload

	require.NoError(t, handler(context.Background(), job))
	require.Len(t, flow.created, 1)
	assert.Equal(t, "Spring Gala Reminder", flow.created[0].Name)
}

func TestEventReminderHandlerDefaultsName(t *testing.T) {
	flow := &fakeMailerFlow{}
	handler := NewEventReminderHandler(flow)

	payload, err := json.Marshal(dto.CreateCampaignRequest{
		Recipients: []dto.CampaignRecipient{{Email: "member@example.org", Subject: "Reminder", BodyHTML: "<p>Reminder</p>"}},
	})
	require.NoError(t, err)

	job := activeJob(1, JobTypeEventReminder)
	job.Metadata = payload

	require.NoError(t, handler(context.Background(), job))
	require.Len(t, flow.created, 1)
	assert.Equal(t, "Event Reminder: event 7", flow.created[0].Name)
	assert.Equal(t, JobTypeEventReminder, flow.created[0].Type)
}

func TestEventReminderHandlerRejectsBadPayload(t *testing.T) {
	handler := NewEventReminderHandler(&fakeMailerFlow{})

	job := activeJob(1, JobTypeEventReminder)
	assert.Error(t, handler(context.Background(), job), "empty metadata")

	job.Metadata = json.RawMessage(`{not json`)
	assert.Error(t, handler(context.Background(), job))
}
