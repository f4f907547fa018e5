package models

import (
	"time"

	"github.com/clubroster/mailengine/utils"
	"gorm.io/gorm"
)

// DailySendQuota counts emails dispatched during one calendar day in the
// organization's local zone, shared across all campaigns. Rows are created
// lazily on the first reservation of the day and the counter is only ever
// decremented to return reservations whose attempt never happened.
type DailySendQuota struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Day       string    `gorm:"size:10;not null;uniqueIndex:uk_daily_send_quotas_day" json:"day"`
	SentCount int       `gorm:"not null;default:0" json:"sent_count"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (DailySendQuota) TableName() string {
	return "daily_send_quotas"
}

// BeforeCreate is called before creating a new record
func (q *DailySendQuota) BeforeCreate(tx *gorm.DB) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = utils.UTCNow()
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = q.CreatedAt
	}
	return nil
}

// Remaining returns how many sends are left under the given limit
func (q *DailySendQuota) Remaining(limit int) int {
	if limit <= 0 {
		return 0
	}
	r := limit - q.SentCount
	if r < 0 {
		return 0
	}
	return r
}
