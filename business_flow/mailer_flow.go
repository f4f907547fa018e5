// Package businessflow contains the core business logic and use cases for email delivery workflows
package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/clubroster/mailengine/app/dto"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/clubroster/mailengine/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MailerFlow handles enqueueing, campaign fan-out, and the admin read
// surface over deliveries and campaigns
type MailerFlow interface {
	EnqueueEmail(ctx context.Context, req *dto.EnqueueEmailRequest, metadata *ClientMetadata) (*dto.EnqueueEmailResponse, error)
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	GetCampaign(ctx context.Context, campaignUUID string) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	DeriveStats(ctx context.Context, campaignID uint) (models.CampaignStats, error)
	ListDeliveries(ctx context.Context, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error)
	GetDelivery(ctx context.Context, id uint) (*dto.DeliveryResponse, error)
	CancelDelivery(ctx context.Context, id uint) error
}

// MailerFlowImpl implements the mailer business flow
type MailerFlowImpl struct {
	deliveryRepo repository.EmailDeliveryRepository
	campaignRepo repository.EmailCampaignRepository
	db           *gorm.DB
}

// NewMailerFlow creates a new mailer flow instance
func NewMailerFlow(
	deliveryRepo repository.EmailDeliveryRepository,
	campaignRepo repository.EmailCampaignRepository,
	db *gorm.DB,
) MailerFlow {
	return &MailerFlowImpl{
		deliveryRepo: deliveryRepo,
		campaignRepo: campaignRepo,
		db:           db,
	}
}

// EnqueueEmail persists a single ad-hoc delivery. The send itself is
// asynchronous; failures surface only through subsequent queries.
func (s *MailerFlowImpl) EnqueueEmail(ctx context.Context, req *dto.EnqueueEmailRequest, metadata *ClientMetadata) (*dto.EnqueueEmailResponse, error) {
	if err := validateEnqueueRequest(req); err != nil {
		return nil, NewBusinessError("EMAIL_VALIDATION_FAILED", "Email validation failed", err)
	}

	delivery := &models.EmailDelivery{
		RecipientEmail: strings.ToLower(strings.TrimSpace(req.RecipientEmail)),
		RecipientName:  req.RecipientName,
		Subject:        req.Subject,
		BodyHTML:       req.BodyHTML,
		BodyText:       req.BodyText,
		Priority:       utils.ValueOr(req.Priority, models.DefaultDeliveryPriority),
		ScheduledFor:   utils.TimeToUTCPtr(req.ScheduledFor),
	}

	if err := s.deliveryRepo.Save(ctx, delivery); err != nil {
		return nil, NewBusinessError("EMAIL_ENQUEUE_FAILED", "Failed to enqueue email", err)
	}

	return &dto.EnqueueEmailResponse{
		ID:        delivery.ID,
		UUID:      delivery.UUID.String(),
		Status:    delivery.Status.String(),
		CreatedAt: delivery.CreatedAt,
	}, nil
}

// CreateCampaign persists the campaign and one delivery per recipient in
// a single transaction. Bodies arrive pre-rendered; this flow never
// interprets template syntax.
func (s *MailerFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if err := validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign := &models.EmailCampaign{
		Name:            req.Name,
		Type:            req.Type,
		TotalRecipients: len(req.Recipients),
		CreatedBy:       req.CreatedBy,
		Tags:            pq.StringArray(req.Tags),
	}

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}

		deliveries := make([]*models.EmailDelivery, 0, len(req.Recipients))
		for _, rcpt := range req.Recipients {
			deliveries = append(deliveries, &models.EmailDelivery{
				CampaignID:     &campaign.ID,
				RecipientEmail: strings.ToLower(strings.TrimSpace(rcpt.Email)),
				RecipientName:  rcpt.Name,
				Subject:        rcpt.Subject,
				BodyHTML:       rcpt.BodyHTML,
				BodyText:       rcpt.BodyText,
				Priority:       utils.ValueOr(req.Priority, models.DefaultDeliveryPriority),
				ScheduledFor:   utils.TimeToUTCPtr(req.ScheduledFor),
			})
		}
		return s.deliveryRepo.SaveBatch(txCtx, deliveries)
	})
	if err != nil {
		if IsDuplicateRecipient(err) {
			return nil, NewBusinessError("DUPLICATE_RECIPIENT", "Campaign recipient list contains duplicates", ErrCampaignRecipientRepeated)
		}
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		ID:              campaign.ID,
		UUID:            campaign.UUID.String(),
		Status:          campaign.Status.String(),
		TotalRecipients: campaign.TotalRecipients,
		CreatedAt:       campaign.CreatedAt,
	}, nil
}

// DeriveStats recomputes campaign counters from delivery rows at read
// time; nothing is cached, so the result is consistent with the store
// regardless of worker progress. Failed rows count as failed whether or
// not a retry is still pending.
func (s *MailerFlowImpl) DeriveStats(ctx context.Context, campaignID uint) (models.CampaignStats, error) {
	counts, err := s.deliveryRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return models.CampaignStats{}, fmt.Errorf("failed to aggregate campaign %d: %w", campaignID, err)
	}
	stats := models.CampaignStats{
		Sent:      counts[models.DeliveryStatusSent],
		Failed:    counts[models.DeliveryStatusFailed],
		Cancelled: counts[models.DeliveryStatusCancelled],
		Pending: counts[models.DeliveryStatusPending] +
			counts[models.DeliveryStatusScheduled] +
			counts[models.DeliveryStatusSending],
	}
	stats.Total = stats.Sent + stats.Failed + stats.Cancelled + stats.Pending
	return stats, nil
}

// GetCampaign returns one campaign with its full delivery list and live stats
func (s *MailerFlowImpl) GetCampaign(ctx context.Context, campaignUUID string) (*dto.GetCampaignResponse, error) {
	parsed, err := uuid.Parse(campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, parsed)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	stats, err := s.DeriveStats(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATS_FAILED", "Failed to derive campaign stats", err)
	}

	deliveries, err := s.deliveryRepo.ByFilter(ctx,
		models.EmailDeliveryFilter{CampaignID: &campaign.ID},
		"id ASC", campaignDeliveryListCap, 0)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_DELIVERIES_FAILED", "Failed to list campaign deliveries", err)
	}

	resp := &dto.GetCampaignResponse{
		Campaign:            toCampaignSummary(campaign, stats),
		Deliveries:          make([]dto.DeliveryResponse, 0, len(deliveries)),
		DeliveriesTruncated: stats.Total > int64(len(deliveries)),
	}
	for _, d := range deliveries {
		resp.Deliveries = append(resp.Deliveries, toDeliveryResponse(d))
	}
	return resp, nil
}

// ListCampaigns returns a campaign page with stats derived per row
func (s *MailerFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	page, pageSize := normalizePage(req.Page, req.PageSize)

	filter := models.EmailCampaignFilter{Type: req.Type}
	if req.Status != nil {
		status := models.CampaignStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("INVALID_STATUS", "Unknown campaign status", ErrInvalidStatus)
		}
		filter.Status = &status
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to count campaigns", err)
	}
	rows, err := s.campaignRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CampaignSummary, 0, len(rows))
	for _, c := range rows {
		stats, err := s.DeriveStats(ctx, c.ID)
		if err != nil {
			return nil, NewBusinessError("CAMPAIGN_STATS_FAILED", "Failed to derive campaign stats", err)
		}
		items = append(items, toCampaignSummary(c, stats))
	}

	return &dto.ListCampaignsResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// ListDeliveries returns a delivery page filtered by status, bounded by
// the page-size clamp
func (s *MailerFlowImpl) ListDeliveries(ctx context.Context, req *dto.ListDeliveriesRequest) (*dto.ListDeliveriesResponse, error) {
	page, pageSize := normalizePage(req.Page, req.PageSize)

	filter := models.EmailDeliveryFilter{CampaignID: req.CampaignID}
	if req.Status != nil {
		status := models.DeliveryStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("INVALID_STATUS", "Unknown delivery status", ErrInvalidStatus)
		}
		filter.Status = &status
	}

	total, err := s.deliveryRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LIST_FAILED", "Failed to count deliveries", err)
	}
	rows, err := s.deliveryRepo.ByFilter(ctx, filter, "priority ASC, created_at ASC, id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LIST_FAILED", "Failed to list deliveries", err)
	}

	items := make([]dto.DeliveryResponse, 0, len(rows))
	for _, d := range rows {
		items = append(items, toDeliveryResponse(d))
	}

	return &dto.ListDeliveriesResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetDelivery fetches one delivery by id
func (s *MailerFlowImpl) GetDelivery(ctx context.Context, id uint) (*dto.DeliveryResponse, error) {
	delivery, err := s.deliveryRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return nil, NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}
	resp := toDeliveryResponse(delivery)
	return &resp, nil
}

// CancelDelivery cancels a non-terminal delivery. A row a worker has
// already claimed finishes its in-flight attempt first.
func (s *MailerFlowImpl) CancelDelivery(ctx context.Context, id uint) error {
	delivery, err := s.deliveryRepo.ByID(ctx, id)
	if err != nil {
		return NewBusinessError("DELIVERY_LOOKUP_FAILED", "Failed to lookup delivery", err)
	}
	if delivery == nil {
		return NewBusinessError("DELIVERY_NOT_FOUND", "Delivery not found", ErrDeliveryNotFound)
	}
	if delivery.Status.Terminal() {
		return NewBusinessError("DELIVERY_NOT_CANCELLABLE", "Delivery is already terminal", ErrDeliveryNotCancellable)
	}
	if err := s.deliveryRepo.Cancel(ctx, id); err != nil {
		return NewBusinessError("DELIVERY_CANCEL_FAILED", "Failed to cancel delivery", err)
	}
	return nil
}

func validateEnqueueRequest(req *dto.EnqueueEmailRequest) error {
	if strings.TrimSpace(req.RecipientEmail) == "" {
		return ErrRecipientRequired
	}
	if !strings.Contains(req.RecipientEmail, "@") {
		return ErrRecipientInvalid
	}
	if strings.TrimSpace(req.Subject) == "" {
		return ErrSubjectRequired
	}
	if strings.TrimSpace(req.BodyHTML) == "" {
		return ErrBodyRequired
	}
	return nil
}

func validateCreateCampaignRequest(req *dto.CreateCampaignRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return ErrCampaignNameRequired
	}
	if strings.TrimSpace(req.Type) == "" {
		return ErrCampaignTypeRequired
	}
	if len(req.Recipients) == 0 {
		return ErrCampaignRecipientsRequired
	}
	seen := make(map[string]struct{}, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		email := strings.ToLower(strings.TrimSpace(rcpt.Email))
		if email == "" {
			return ErrRecipientRequired
		}
		if !strings.Contains(email, "@") {
			return ErrRecipientInvalid
		}
		if strings.TrimSpace(rcpt.Subject) == "" {
			return ErrSubjectRequired
		}
		if strings.TrimSpace(rcpt.BodyHTML) == "" {
			return ErrBodyRequired
		}
		if _, dup := seen[email]; dup {
			return ErrCampaignRecipientRepeated
		}
		seen[email] = struct{}{}
	}
	return nil
}

func toCampaignSummary(c *models.EmailCampaign, stats models.CampaignStats) dto.CampaignSummary {
	return dto.CampaignSummary{
		ID:              c.ID,
		UUID:            c.UUID.String(),
		Name:            c.Name,
		Type:            c.Type,
		Status:          c.Status.String(),
		TotalRecipients: c.TotalRecipients,
		Tags:            []string(c.Tags),
		Stats: dto.CampaignStatsDTO{
			Total:     stats.Total,
			Sent:      stats.Sent,
			Failed:    stats.Failed,
			Pending:   stats.Pending,
			Cancelled: stats.Cancelled,
		},
		CreatedAt:   c.CreatedAt,
		CompletedAt: c.CompletedAt,
	}
}

func toDeliveryResponse(d *models.EmailDelivery) dto.DeliveryResponse {
	return dto.DeliveryResponse{
		ID:                d.ID,
		UUID:              d.UUID.String(),
		CampaignID:        d.CampaignID,
		RecipientEmail:    d.RecipientEmail,
		RecipientName:     d.RecipientName,
		Subject:           d.Subject,
		Status:            d.Status.String(),
		Priority:          d.Priority,
		ScheduledFor:      d.ScheduledFor,
		RetryCount:        d.RetryCount,
		NextRetryAt:       d.NextRetryAt,
		SentAt:            d.SentAt,
		FailedAt:          d.FailedAt,
		ErrorMessage:      d.ErrorMessage,
		ProviderMessageID: d.ProviderMessageID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
