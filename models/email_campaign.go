package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clubroster/mailengine/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CampaignStatus represents the advisory status of an email campaign.
// It is set by callers and by the completion sweep, never derived
// transactionally from delivery rows; live stats are always recomputed
// by aggregation instead.
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// EmailCampaign represents a named batch of deliveries sharing a purpose,
// e.g. "Event Reminder: Q3 Mixer"
type EmailCampaign struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_email_campaigns_uuid" json:"uuid"`
	Name            string          `gorm:"size:200;not null" json:"name"`
	Type            string          `gorm:"size:100;not null;index:idx_email_campaigns_type" json:"type"`
	Status          CampaignStatus  `gorm:"type:email_campaign_status;not null;default:'active';index:idx_email_campaigns_status" json:"status"`
	TotalRecipients int             `gorm:"not null;default:0" json:"total_recipients"`
	CreatedBy       *string         `gorm:"size:200" json:"created_by,omitempty"`
	Tags            pq.StringArray  `gorm:"type:text[]" json:"tags,omitempty"`
	Metadata        json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt       time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_email_campaigns_created_at" json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt       time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Deliveries []EmailDelivery `gorm:"foreignKey:CampaignID" json:"deliveries,omitempty"`
}

// TableName returns the table name for the model
func (EmailCampaign) TableName() string {
	return "email_campaigns"
}

// BeforeCreate is called before creating a new record
func (c *EmailCampaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *EmailCampaign) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = utils.UTCNow()
	return nil
}

// IsActive reports whether the campaign still accepts worker progress
func (c *EmailCampaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// CampaignStats holds counts derived from delivery rows at read time.
// A failed delivery counts as failed whether or not a retry is still
// pending; pending covers pending, scheduled and in-flight rows.
type CampaignStats struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Cancelled int64 `json:"cancelled"`
}

// Settled reports whether every delivery reached an outcome (nothing is
// pending, scheduled or in flight)
func (s CampaignStats) Settled() bool {
	return s.Total > 0 && s.Pending == 0
}

// EmailCampaignFilter represents filter criteria for campaigns
type EmailCampaignFilter struct {
	ID            *uint           `json:"id,omitempty"`
	UUID          *uuid.UUID      `json:"uuid,omitempty"`
	Name          *string         `json:"name,omitempty"`
	Type          *string         `json:"type,omitempty"`
	Status        *CampaignStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
