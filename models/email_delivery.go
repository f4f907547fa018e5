package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/clubroster/mailengine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultDeliveryPriority applies when the caller does not set one.
// Lower values are more urgent.
const DefaultDeliveryPriority = 100

// DeliveryStatus represents the lifecycle status of an email delivery
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusScheduled DeliveryStatus = "scheduled"
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusScheduled, DeliveryStatusSending,
		DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
// A failed delivery is terminal only once its retries are exhausted,
// which is tracked on the row, so failed is not terminal here.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusCancelled
}

// Scan implements the sql.Scanner interface for DeliveryStatus
func (s *DeliveryStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DeliveryStatus(v)
	case []byte:
		*s = DeliveryStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DeliveryStatus
func (s DeliveryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DeliveryStatus: %s", s)
	}
	return string(s), nil
}

// EmailDelivery represents one email addressed to one recipient, tracked
// through its send lifecycle. Rows are created by an enqueue operation and
// mutated only by the delivery worker afterwards; they are never deleted.
type EmailDelivery struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_email_deliveries_uuid" json:"uuid"`
	CampaignID        *uint          `gorm:"uniqueIndex:uk_email_deliveries_campaign_recipient,where:campaign_id IS NOT NULL;index:idx_email_deliveries_campaign_id" json:"campaign_id,omitempty"`
	RecipientEmail    string         `gorm:"size:320;not null;uniqueIndex:uk_email_deliveries_campaign_recipient,where:campaign_id IS NOT NULL;index:idx_email_deliveries_recipient" json:"recipient_email"`
	RecipientName     *string        `gorm:"size:200" json:"recipient_name,omitempty"`
	Subject           string         `gorm:"size:998;not null" json:"subject"`
	BodyHTML          string         `gorm:"type:text;not null" json:"body_html"`
	BodyText          *string        `gorm:"type:text" json:"body_text,omitempty"`
	Status            DeliveryStatus `gorm:"type:email_delivery_status;not null;default:'pending';index:idx_email_deliveries_status" json:"status"`
	Priority          int            `gorm:"not null;default:100;index:idx_email_deliveries_priority" json:"priority"`
	ScheduledFor      *time.Time     `gorm:"index:idx_email_deliveries_scheduled_for" json:"scheduled_for,omitempty"`
	RetryCount        int            `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt       *time.Time     `gorm:"index:idx_email_deliveries_next_retry_at" json:"next_retry_at,omitempty"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	FailedAt          *time.Time     `json:"failed_at,omitempty"`
	ErrorMessage      *string        `gorm:"type:text" json:"error_message,omitempty"`
	ProviderMessageID *string        `gorm:"size:256;index:idx_email_deliveries_provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_email_deliveries_created_at" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Campaign *EmailCampaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
}

// TableName returns the table name for the model
func (EmailDelivery) TableName() string {
	return "email_deliveries"
}

// BeforeCreate is called before creating a new record
func (d *EmailDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.Status == "" {
		if d.ScheduledFor != nil && d.ScheduledFor.After(utils.UTCNow()) {
			d.Status = DeliveryStatusScheduled
		} else {
			d.Status = DeliveryStatusPending
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = utils.UTCNow()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (d *EmailDelivery) BeforeUpdate(tx *gorm.DB) error {
	d.UpdatedAt = utils.UTCNow()
	return nil
}

// CanTransitionTo checks if the delivery can transition to the given status
func (d *EmailDelivery) CanTransitionTo(newStatus DeliveryStatus) bool {
	if newStatus == DeliveryStatusCancelled {
		return !d.Status.Terminal() && d.Status != DeliveryStatusCancelled
	}
	switch d.Status {
	case DeliveryStatusPending, DeliveryStatusScheduled:
		return newStatus == DeliveryStatusSending
	case DeliveryStatusSending:
		return newStatus == DeliveryStatusSent || newStatus == DeliveryStatusFailed
	case DeliveryStatusFailed:
		return newStatus == DeliveryStatusSending
	default:
		return false
	}
}

// DueAt returns the time at which the delivery becomes eligible for an
// attempt: next_retry_at for failed rows, scheduled_for when set, and
// created_at otherwise. Used as the secondary ordering key after priority.
func (d *EmailDelivery) DueAt() time.Time {
	if d.Status == DeliveryStatusFailed && d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	if d.ScheduledFor != nil {
		return *d.ScheduledFor
	}
	return d.CreatedAt
}

// IsDue reports whether the delivery is eligible for an attempt at the
// given instant under the given retry ceiling.
func (d *EmailDelivery) IsDue(now time.Time, maxRetries int) bool {
	switch d.Status {
	case DeliveryStatusPending:
		return true
	case DeliveryStatusScheduled:
		return d.ScheduledFor == nil || !d.ScheduledFor.After(now)
	case DeliveryStatusFailed:
		if d.RetryCount >= maxRetries {
			return false
		}
		return d.NextRetryAt == nil || !d.NextRetryAt.After(now)
	default:
		return false
	}
}

// RetryBackoff computes the delay before the attempt following the given
// retry count: base doubled per attempt, capped at maxDelay.
func RetryBackoff(retryCount int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// EmailDeliveryFilter represents filter criteria for deliveries
type EmailDeliveryFilter struct {
	ID             *uint           `json:"id,omitempty"`
	UUID           *uuid.UUID      `json:"uuid,omitempty"`
	CampaignID     *uint           `json:"campaign_id,omitempty"`
	RecipientEmail *string         `json:"recipient_email,omitempty"`
	Status         *DeliveryStatus `json:"status,omitempty"`
	Priority       *int            `json:"priority,omitempty"`
	CreatedAfter   *time.Time      `json:"created_after,omitempty"`
	CreatedBefore  *time.Time      `json:"created_before,omitempty"`
}
