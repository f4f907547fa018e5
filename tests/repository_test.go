// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"testing"
	"time"

	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	testingutil "github.com/clubroster/mailengine/testing"
	"github.com/clubroster/mailengine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailDeliveryRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := repository.NewEmailDeliveryRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("SaveAndByUUID", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			d, err := fixtures.CreateTestDelivery(nil, "member@example.org")
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusPending, d.Status)

			found, err := repo.ByUUID(ctx, d.UUID)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, d.ID, found.ID)
			assert.Equal(t, "member@example.org", found.RecipientEmail)
		})

		t.Run("DuplicateRecipientWithinCampaign", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			campaign, err := fixtures.CreateTestCampaign("Dup Check")
			require.NoError(t, err)

			_, err = fixtures.CreateTestDelivery(&campaign.ID, "member@example.org")
			require.NoError(t, err)

			err = repo.Save(ctx, &models.EmailDelivery{
				CampaignID:     &campaign.ID,
				RecipientEmail: "member@example.org",
				Subject:        "Second copy",
				BodyHTML:       "<p>Second copy</p>",
			})
			assert.ErrorIs(t, err, repository.ErrDuplicateRecipient)

			// Same recipient outside a campaign is fine
			_, err = fixtures.CreateTestDelivery(nil, "member@example.org")
			assert.NoError(t, err)
		})

		t.Run("ListDueEligibility", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			pending, err := fixtures.CreateTestDelivery(nil, "pending@example.org")
			require.NoError(t, err)
			_, err = fixtures.CreateScheduledDelivery("future@example.org", now.Add(time.Hour))
			require.NoError(t, err)
			pastRetry := now.Add(-time.Minute)
			retryable, err := fixtures.CreateFailedDelivery("retry@example.org", 1, &pastRetry)
			require.NoError(t, err)
			_, err = fixtures.CreateFailedDelivery("exhausted@example.org", 3, nil)
			require.NoError(t, err)

			due, err := repo.ListDue(ctx, now, 3, 100)
			require.NoError(t, err)
			require.Len(t, due, 2)

			ids := []uint{due[0].ID, due[1].ID}
			assert.Contains(t, ids, pending.ID)
			assert.Contains(t, ids, retryable.ID)
		})

		t.Run("ListDueOrdersByPriority", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			low, err := fixtures.CreateTestDelivery(nil, "low@example.org")
			require.NoError(t, err)
			urgent := &models.EmailDelivery{
				RecipientEmail: "urgent@example.org",
				Subject:        "Urgent",
				BodyHTML:       "<p>Urgent</p>",
				Priority:       1,
			}
			require.NoError(t, repo.Save(ctx, urgent))

			due, err := repo.ListDue(ctx, now.Add(time.Second), 3, 100)
			require.NoError(t, err)
			require.Len(t, due, 2)
			assert.Equal(t, urgent.ID, due[0].ID)
			assert.Equal(t, low.ID, due[1].ID)
		})

		t.Run("ClaimIsDisjoint", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			d1, err := fixtures.CreateTestDelivery(nil, "one@example.org")
			require.NoError(t, err)
			d2, err := fixtures.CreateTestDelivery(nil, "two@example.org")
			require.NoError(t, err)

			claimed, err := repo.Claim(ctx, []uint{d1.ID, d2.ID}, now, 3)
			require.NoError(t, err)
			assert.ElementsMatch(t, []uint{d1.ID, d2.ID}, claimed)

			// A second claim on the same ids wins nothing
			claimed, err = repo.Claim(ctx, []uint{d1.ID, d2.ID}, now, 3)
			require.NoError(t, err)
			assert.Empty(t, claimed)
		})

		t.Run("ClaimRechecksEligibility", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			// A row that re-failed after it was listed carries a fresh
			// future next_retry_at; the claim must honour it
			futureRetry := now.Add(time.Hour)
			backoff, err := fixtures.CreateFailedDelivery("backoff@example.org", 1, &futureRetry)
			require.NoError(t, err)

			// Same for the retry ceiling and future schedules
			exhausted, err := fixtures.CreateFailedDelivery("exhausted@example.org", 3, nil)
			require.NoError(t, err)
			future, err := fixtures.CreateScheduledDelivery("future@example.org", now.Add(time.Hour))
			require.NoError(t, err)
			eligible, err := fixtures.CreateTestDelivery(nil, "eligible@example.org")
			require.NoError(t, err)

			claimed, err := repo.Claim(ctx, []uint{backoff.ID, exhausted.ID, future.ID, eligible.ID}, now, 3)
			require.NoError(t, err)
			assert.Equal(t, []uint{eligible.ID}, claimed)

			got, err := repo.ByID(ctx, backoff.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusFailed, got.Status)
		})

		t.Run("ReleaseRestoresPreClaimStatus", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			fresh, err := fixtures.CreateTestDelivery(nil, "fresh@example.org")
			require.NoError(t, err)
			retryAt := now.Add(-time.Minute)
			retried, err := fixtures.CreateFailedDelivery("retried@example.org", 1, &retryAt)
			require.NoError(t, err)

			_, err = repo.Claim(ctx, []uint{fresh.ID, retried.ID}, now, 3)
			require.NoError(t, err)

			require.NoError(t, repo.Release(ctx, fresh.ID))
			require.NoError(t, repo.Release(ctx, retried.ID))

			got, err := repo.ByID(ctx, fresh.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusPending, got.Status)

			got, err = repo.ByID(ctx, retried.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusFailed, got.Status)
			assert.Equal(t, 1, got.RetryCount, "release must not count an attempt")
		})

		t.Run("MarkSentRequiresSending", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			d, err := fixtures.CreateTestDelivery(nil, "sent@example.org")
			require.NoError(t, err)

			err = repo.MarkSent(ctx, d.ID, "prov-123", now)
			assert.Error(t, err, "row was never claimed")

			_, err = repo.Claim(ctx, []uint{d.ID}, now, 3)
			require.NoError(t, err)
			require.NoError(t, repo.MarkSent(ctx, d.ID, "prov-123", now))

			got, err := repo.ByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusSent, got.Status)
			require.NotNil(t, got.ProviderMessageID)
			assert.Equal(t, "prov-123", *got.ProviderMessageID)
			require.NotNil(t, got.SentAt)
		})

		t.Run("MarkFailedCountsAttempt", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			d, err := fixtures.CreateTestDelivery(nil, "flaky@example.org")
			require.NoError(t, err)
			_, err = repo.Claim(ctx, []uint{d.ID}, now, 3)
			require.NoError(t, err)

			retryAt := now.Add(time.Minute)
			require.NoError(t, repo.MarkFailed(ctx, d.ID, "connection reset", &retryAt, now))

			got, err := repo.ByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusFailed, got.Status)
			assert.Equal(t, 1, got.RetryCount)
			require.NotNil(t, got.NextRetryAt)
			require.NotNil(t, got.ErrorMessage)
			assert.Equal(t, "connection reset", *got.ErrorMessage)
		})

		t.Run("CancelRules", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			d, err := fixtures.CreateTestDelivery(nil, "cancel@example.org")
			require.NoError(t, err)
			require.NoError(t, repo.Cancel(ctx, d.ID))

			got, err := repo.ByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusCancelled, got.Status)

			// Terminal rows stay terminal
			assert.Error(t, repo.Cancel(ctx, d.ID))

			// Mid-send rows are not cancellable
			inFlight, err := fixtures.CreateTestDelivery(nil, "inflight@example.org")
			require.NoError(t, err)
			_, err = repo.Claim(ctx, []uint{inFlight.ID}, now, 3)
			require.NoError(t, err)
			assert.Error(t, repo.Cancel(ctx, inFlight.ID))
		})

		t.Run("ReleaseStuckSending", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			d, err := fixtures.CreateTestDelivery(nil, "stuck@example.org")
			require.NoError(t, err)
			_, err = repo.Claim(ctx, []uint{d.ID}, now.Add(-10*time.Minute), 3)
			require.NoError(t, err)

			released, err := repo.ReleaseStuckSending(ctx, now.Add(-5*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(1), released)

			got, err := repo.ByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DeliveryStatusFailed, got.Status)
			assert.Equal(t, 1, got.RetryCount, "unknown outcome counts as an attempt")
			require.NotNil(t, got.NextRetryAt)

			// A fresh claim is left alone
			released, err = repo.ReleaseStuckSending(ctx, now.Add(-5*time.Minute))
			require.NoError(t, err)
			assert.Zero(t, released)
		})

		t.Run("CountByStatusAndUnsettled", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			campaign, deliveries, err := fixtures.CreateCampaignWithDeliveries("Counts",
				[]string{"a@example.org", "b@example.org", "c@example.org"})
			require.NoError(t, err)

			_, err = repo.Claim(ctx, []uint{deliveries[0].ID}, now, 3)
			require.NoError(t, err)
			require.NoError(t, repo.MarkSent(ctx, deliveries[0].ID, "prov-1", now))

			_, err = repo.Claim(ctx, []uint{deliveries[1].ID}, now, 3)
			require.NoError(t, err)
			require.NoError(t, repo.MarkFailed(ctx, deliveries[1].ID, "bounced", nil, now))

			counts, err := repo.CountByStatus(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), counts[models.DeliveryStatusSent])
			assert.Equal(t, int64(1), counts[models.DeliveryStatusFailed])
			assert.Equal(t, int64(1), counts[models.DeliveryStatusPending])

			// One pending row keeps the campaign unsettled; the failed row
			// counts only while retries remain
			unsettled, err := repo.CountUnsettled(ctx, campaign.ID, 3)
			require.NoError(t, err)
			assert.Equal(t, int64(2), unsettled, "pending row plus a failed row below the ceiling")

			unsettled, err = repo.CountUnsettled(ctx, campaign.ID, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), unsettled, "failed row is exhausted at ceiling 1")
		})

		return nil
	})
	require.NoError(t, err)
}

func TestEmailCampaignRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := repository.NewEmailCampaignRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("SaveAndByUUID", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			c, err := fixtures.CreateTestCampaign("Spring Gala")
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusActive, c.Status)

			found, err := repo.ByUUID(ctx, c.UUID)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "Spring Gala", found.Name)
		})

		t.Run("MarkCompletedGuard", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			c, err := fixtures.CreateTestCampaign("Done")
			require.NoError(t, err)

			require.NoError(t, repo.MarkCompleted(ctx, c.ID, now))

			got, err := repo.ByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusCompleted, got.Status)
			require.NotNil(t, got.CompletedAt)

			// Completing twice fails the active guard
			assert.Error(t, repo.MarkCompleted(ctx, c.ID, now))
		})

		t.Run("ListActiveIDs", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			c1, err := fixtures.CreateTestCampaign("Active A")
			require.NoError(t, err)
			c2, err := fixtures.CreateTestCampaign("Active B")
			require.NoError(t, err)
			done, err := fixtures.CreateTestCampaign("Finished")
			require.NoError(t, err)
			require.NoError(t, repo.MarkCompleted(ctx, done.ID, now))

			ids, err := repo.ListActiveIDs(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, []uint{c1.ID, c2.ID}, ids)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestQuotaRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := repository.NewQuotaRepository(testDB.DB)
		ctx := testingutil.CreateTestContext()

		t.Run("ReserveWithinLimit", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			ok, err := repo.Reserve(ctx, "2026-08-29", 3, 5)
			require.NoError(t, err)
			assert.True(t, ok)

			// 3 + 3 would breach the limit; nothing is consumed
			ok, err = repo.Reserve(ctx, "2026-08-29", 3, 5)
			require.NoError(t, err)
			assert.False(t, ok)

			// The exact remainder still fits
			ok, err = repo.Reserve(ctx, "2026-08-29", 2, 5)
			require.NoError(t, err)
			assert.True(t, ok)

			quota, err := repo.ByDay(ctx, "2026-08-29")
			require.NoError(t, err)
			require.NotNil(t, quota)
			assert.Equal(t, 5, quota.SentCount)
		})

		t.Run("ReleaseReturnsSlots", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			ok, err := repo.Reserve(ctx, "2026-08-29", 5, 5)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, repo.Release(ctx, "2026-08-29", 2))

			ok, err = repo.Reserve(ctx, "2026-08-29", 2, 5)
			require.NoError(t, err)
			assert.True(t, ok)
		})

		t.Run("DaysAreIndependent", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			ok, err := repo.Reserve(ctx, "2026-08-29", 5, 5)
			require.NoError(t, err)
			require.True(t, ok)

			// The next org-local day starts from a fresh counter
			ok, err = repo.Reserve(ctx, "2026-08-30", 5, 5)
			require.NoError(t, err)
			assert.True(t, ok)
		})

		t.Run("ByDayMissing", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			quota, err := repo.ByDay(ctx, "1999-01-01")
			require.NoError(t, err)
			assert.Nil(t, quota)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestScheduledJobRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := repository.NewScheduledJobRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		t.Run("ListDue", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			due, err := fixtures.CreateTestJob("newsletter", now.Add(-time.Minute))
			require.NoError(t, err)
			_, err = fixtures.CreateTestJob("newsletter", now.Add(time.Hour))
			require.NoError(t, err)

			// A recurring job fires on next_run_at once it has one
			recurring, err := fixtures.CreateRecurringJob("digest", now.Add(-24*time.Hour), models.RecurrenceDaily)
			require.NoError(t, err)
			nextRun := now.Add(-time.Minute)
			recurring.NextRunAt = &nextRun
			require.NoError(t, repo.Update(ctx, recurring))

			rows, err := repo.ListDue(ctx, now, 100)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			got := []uint{rows[0].ID, rows[1].ID}
			assert.Contains(t, got, due.ID)
			assert.Contains(t, got, recurring.ID)
		})

		t.Run("RescheduleReactivates", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			now := utils.UTCNow()

			job, err := fixtures.CreateTestJob("newsletter", now.Add(-time.Minute))
			require.NoError(t, err)
			require.NoError(t, repo.Cancel(ctx, job.ID))

			newTime := now.Add(time.Hour)
			require.NoError(t, repo.Reschedule(ctx, job.ID, newTime))

			got, err := repo.ByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusActive, got.Status)
			assert.Nil(t, got.NextRunAt)
			assert.WithinDuration(t, newTime, got.ScheduledFor, time.Second)
		})

		t.Run("RescheduleMissing", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())
			err := repo.Reschedule(ctx, 999, utils.UTCNow())
			assert.Error(t, err)
		})

		t.Run("CancelIsIdempotent", func(t *testing.T) {
			require.NoError(t, testDB.ClearAllTables())

			job, err := fixtures.CreateTestJob("newsletter", utils.UTCNow())
			require.NoError(t, err)

			require.NoError(t, repo.Cancel(ctx, job.ID))
			require.NoError(t, repo.Cancel(ctx, job.ID))

			got, err := repo.ByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusCancelled, got.Status)

			assert.Error(t, repo.Cancel(ctx, 999))
		})

		return nil
	})
	require.NoError(t, err)
}
