package testing

import (
	"fmt"
	"time"

	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/utils"
)

// TestFixtures provides helper methods to create test data
type TestFixtures struct {
	db *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{db: db}
}

// CreateTestCampaign creates a campaign with no deliveries
func (tf *TestFixtures) CreateTestCampaign(name string) (*models.EmailCampaign, error) {
	campaign := &models.EmailCampaign{
		Name: name,
		Type: "announcement",
		Tags: []string{"test"},
	}
	if err := tf.db.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestDelivery creates one pending delivery, optionally attached to
// a campaign
func (tf *TestFixtures) CreateTestDelivery(campaignID *uint, recipient string) (*models.EmailDelivery, error) {
	delivery := &models.EmailDelivery{
		CampaignID:     campaignID,
		RecipientEmail: recipient,
		Subject:        "Test subject",
		BodyHTML:       "<p>Test body</p>",
		Priority:       models.DefaultDeliveryPriority,
	}
	if err := tf.db.DB.Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to create test delivery: %w", err)
	}
	return delivery, nil
}

// CreateScheduledDelivery creates a delivery with a future send time
func (tf *TestFixtures) CreateScheduledDelivery(recipient string, at time.Time) (*models.EmailDelivery, error) {
	delivery := &models.EmailDelivery{
		RecipientEmail: recipient,
		Subject:        "Scheduled subject",
		BodyHTML:       "<p>Scheduled body</p>",
		Priority:       models.DefaultDeliveryPriority,
		ScheduledFor:   &at,
	}
	if err := tf.db.DB.Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to create scheduled delivery: %w", err)
	}
	return delivery, nil
}

// CreateFailedDelivery creates a delivery that already failed once and is
// retry-eligible at the given time
func (tf *TestFixtures) CreateFailedDelivery(recipient string, retryCount int, nextRetryAt *time.Time) (*models.EmailDelivery, error) {
	delivery := &models.EmailDelivery{
		RecipientEmail: recipient,
		Subject:        "Failed subject",
		BodyHTML:       "<p>Failed body</p>",
		Priority:       models.DefaultDeliveryPriority,
		Status:         models.DeliveryStatusFailed,
		RetryCount:     retryCount,
		NextRetryAt:    nextRetryAt,
		FailedAt:       utils.UTCNowPtr(),
		ErrorMessage:   utils.ToPtr("provider rejected message"),
	}
	if err := tf.db.DB.Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to create failed delivery: %w", err)
	}
	return delivery, nil
}

// CreateTestJob creates an active one-shot job due at the given time
func (tf *TestFixtures) CreateTestJob(jobType string, scheduledFor time.Time) (*models.ScheduledJob, error) {
	job := &models.ScheduledJob{
		JobType:      jobType,
		EntityType:   "event",
		EntityID:     1,
		ScheduledFor: scheduledFor,
	}
	if err := tf.db.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create test job: %w", err)
	}
	return job, nil
}

// CreateRecurringJob creates an active recurring job
func (tf *TestFixtures) CreateRecurringJob(jobType string, scheduledFor time.Time, rule models.RecurrenceRule) (*models.ScheduledJob, error) {
	job := &models.ScheduledJob{
		JobType:      jobType,
		EntityType:   "event",
		EntityID:     1,
		ScheduledFor: scheduledFor,
		Recurrence:   &rule,
	}
	if err := tf.db.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create recurring job: %w", err)
	}
	return job, nil
}

// CreateCampaignWithDeliveries creates a campaign fanned out to the given
// recipients, all pending
func (tf *TestFixtures) CreateCampaignWithDeliveries(name string, recipients []string) (*models.EmailCampaign, []*models.EmailDelivery, error) {
	campaign, err := tf.CreateTestCampaign(name)
	if err != nil {
		return nil, nil, err
	}
	campaign.TotalRecipients = len(recipients)
	if err := tf.db.DB.Save(campaign).Error; err != nil {
		return nil, nil, err
	}

	deliveries := make([]*models.EmailDelivery, 0, len(recipients))
	for _, rcpt := range recipients {
		d, err := tf.CreateTestDelivery(&campaign.ID, rcpt)
		if err != nil {
			return nil, nil, err
		}
		deliveries = append(deliveries, d)
	}
	return campaign, deliveries, nil
}
