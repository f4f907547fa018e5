package tests

import (
	"testing"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	testingutil "github.com/clubroster/mailengine/testing"
	"github.com/clubroster/mailengine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobFlow(testDB *testingutil.TestDB) businessflow.JobFlow {
	return businessflow.NewJobFlow(repository.NewScheduledJobRepository(testDB.DB))
}

func TestJobFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		flow := newJobFlow(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("CreateOneShot", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			at := utils.UTCNow().Add(time.Hour)
			resp, err := flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType:      "event_reminder",
				EntityType:   "event",
				EntityID:     42,
				ScheduledFor: at,
			}, testClientMetadata())
			require.NoError(t, err)
			assert.NotZero(t, resp.ID)
			assert.Equal(t, "active", resp.Status)
			assert.Nil(t, resp.Recurrence)
		})

		t.Run("CreateRecurring", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			rule := "WEEKLY"
			resp, err := flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType:      "digest",
				EntityType:   "organization",
				EntityID:     1,
				ScheduledFor: utils.UTCNow().Add(time.Hour),
				Recurrence:   &rule,
			}, testClientMetadata())
			require.NoError(t, err)
			require.NotNil(t, resp.Recurrence)
			assert.Equal(t, "WEEKLY", *resp.Recurrence)
		})

		t.Run("CreateValidation", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			_, err := flow.CreateJob(ctx, &dto.CreateJobRequest{
				EntityType:   "event",
				EntityID:     1,
				ScheduledFor: utils.UTCNow().Add(time.Hour),
			}, testClientMetadata())
			assert.True(t, businessflow.IsValidationError(err))

			bad := "FORTNIGHTLY"
			_, err = flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType:      "digest",
				EntityType:   "event",
				EntityID:     1,
				ScheduledFor: utils.UTCNow().Add(time.Hour),
				Recurrence:   &bad,
			}, testClientMetadata())
			assert.True(t, businessflow.IsValidationError(err))
		})

		t.Run("ListByStatusAndType", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			at := utils.UTCNow().Add(time.Hour)
			created, err := flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType: "event_reminder", EntityType: "event", EntityID: 1, ScheduledFor: at,
			}, testClientMetadata())
			require.NoError(t, err)
			_, err = flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType: "digest", EntityType: "organization", EntityID: 1, ScheduledFor: at,
			}, testClientMetadata())
			require.NoError(t, err)

			jobType := "event_reminder"
			resp, err := flow.ListJobs(ctx, &dto.ListJobsRequest{JobType: &jobType})
			require.NoError(t, err)
			require.Equal(t, int64(1), resp.Total)
			assert.Equal(t, created.ID, resp.Items[0].ID)

			require.NoError(t, flow.CancelJob(ctx, created.ID))

			status := "cancelled"
			resp, err = flow.ListJobs(ctx, &dto.ListJobsRequest{Status: &status})
			require.NoError(t, err)
			assert.Equal(t, int64(1), resp.Total)
		})

		t.Run("RescheduleReactivatesCancelled", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			created, err := flow.CreateJob(ctx, &dto.CreateJobRequest{
				JobType: "digest", EntityType: "organization", EntityID: 1,
				ScheduledFor: utils.UTCNow().Add(time.Hour),
			}, testClientMetadata())
			require.NoError(t, err)
			require.NoError(t, flow.CancelJob(ctx, created.ID))

			newTime := utils.UTCNow().Add(2 * time.Hour)
			resp, err := flow.RescheduleJob(ctx, created.ID, &dto.RescheduleJobRequest{ScheduledFor: newTime})
			require.NoError(t, err)
			assert.Equal(t, string(models.JobStatusActive), resp.Status)
			assert.WithinDuration(t, newTime, resp.ScheduledFor, time.Second)
		})

		t.Run("NotFound", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			_, err := flow.GetJob(ctx, 999)
			assert.True(t, businessflow.IsJobNotFound(err))

			_, err = flow.RescheduleJob(ctx, 999, &dto.RescheduleJobRequest{ScheduledFor: utils.UTCNow()})
			assert.True(t, businessflow.IsJobNotFound(err))

			err = flow.CancelJob(ctx, 999)
			assert.True(t, businessflow.IsJobNotFound(err))
		})

		return nil
	})
	require.NoError(t, err)
}
