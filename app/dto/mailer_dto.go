package dto

import (
	"time"
)

// EnqueueEmailRequest represents an ad-hoc single email enqueue
type EnqueueEmailRequest struct {
	RecipientEmail string     `json:"recipient_email" validate:"required,email"`
	RecipientName  *string    `json:"recipient_name,omitempty" validate:"omitempty,max=200"`
	Subject        string     `json:"subject" validate:"required,max=998"`
	BodyHTML       string     `json:"body_html" validate:"required"`
	BodyText       *string    `json:"body_text,omitempty"`
	Priority       *int       `json:"priority,omitempty" validate:"omitempty,min=0,max=1000"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
}

// EnqueueEmailResponse returns the identifiers of the new delivery
type EnqueueEmailResponse struct {
	ID        uint      `json:"id"`
	UUID      string    `json:"uuid"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CampaignRecipient is one pre-rendered personalization supplied by the
// caller; the engine never interprets template syntax.
type CampaignRecipient struct {
	Email    string  `json:"email" validate:"required,email"`
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Subject  string  `json:"subject" validate:"required,max=998"`
	BodyHTML string  `json:"body_html" validate:"required"`
	BodyText *string `json:"body_text,omitempty"`
}

// CreateCampaignRequest initiates a broadcast
type CreateCampaignRequest struct {
	Name         string              `json:"name" validate:"required,max=200"`
	Type         string              `json:"type" validate:"required,max=100"`
	CreatedBy    *string             `json:"created_by,omitempty" validate:"omitempty,max=200"`
	Tags         []string            `json:"tags,omitempty"`
	Priority     *int                `json:"priority,omitempty" validate:"omitempty,min=0,max=1000"`
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	Recipients   []CampaignRecipient `json:"recipients" validate:"required,min=1,dive"`
}

// CreateCampaignResponse returns the new campaign identifiers
type CreateCampaignResponse struct {
	ID              uint      `json:"id"`
	UUID            string    `json:"uuid"`
	Status          string    `json:"status"`
	TotalRecipients int       `json:"total_recipients"`
	CreatedAt       time.Time `json:"created_at"`
}

// CampaignStatsDTO mirrors the derived stats of a campaign
type CampaignStatsDTO struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Cancelled int64 `json:"cancelled"`
}

// CampaignSummary is one row of the campaign list
type CampaignSummary struct {
	ID              uint             `json:"id"`
	UUID            string           `json:"uuid"`
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	TotalRecipients int              `json:"total_recipients"`
	Tags            []string         `json:"tags,omitempty"`
	Stats           CampaignStatsDTO `json:"stats"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// ListCampaignsRequest filters the campaign list
type ListCampaignsRequest struct {
	Status   *string `json:"status,omitempty"`
	Type     *string `json:"type,omitempty"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// ListCampaignsResponse is a paginated campaign list with derived stats
type ListCampaignsResponse struct {
	Items    []CampaignSummary `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// DeliveryResponse is the admin view of one delivery
type DeliveryResponse struct {
	ID                uint       `json:"id"`
	UUID              string     `json:"uuid"`
	CampaignID        *uint      `json:"campaign_id,omitempty"`
	RecipientEmail    string     `json:"recipient_email"`
	RecipientName     *string    `json:"recipient_name,omitempty"`
	Subject           string     `json:"subject"`
	Status            string     `json:"status"`
	Priority          int        `json:"priority"`
	ScheduledFor      *time.Time `json:"scheduled_for,omitempty"`
	RetryCount        int        `json:"retry_count"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// GetCampaignResponse is one campaign with its delivery list and stats.
// DeliveriesTruncated flags a delivery list cut off at the cap; the full
// set is reachable through the paginated delivery listing.
type GetCampaignResponse struct {
	Campaign            CampaignSummary    `json:"campaign"`
	Deliveries          []DeliveryResponse `json:"deliveries"`
	DeliveriesTruncated bool               `json:"deliveries_truncated,omitempty"`
}

// ListDeliveriesRequest filters the queued-delivery list
type ListDeliveriesRequest struct {
	Status     *string `json:"status,omitempty"`
	CampaignID *uint   `json:"campaign_id,omitempty"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}

// ListDeliveriesResponse is a paginated delivery list
type ListDeliveriesResponse struct {
	Items    []DeliveryResponse `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}
