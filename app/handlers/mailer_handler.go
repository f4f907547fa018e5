// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/clubroster/mailengine/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// MailerHandlerInterface defines the contract for mailer handlers
type MailerHandlerInterface interface {
	EnqueueEmail(c fiber.Ctx) error
	CreateCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	ListDeliveries(c fiber.Ctx) error
	GetDelivery(c fiber.Ctx) error
	CancelDelivery(c fiber.Ctx) error
}

// MailerHandler handles delivery and campaign HTTP requests
type MailerHandler struct {
	mailerFlow businessflow.MailerFlow
	validator  *validator.Validate
}

// NewMailerHandler creates a new mailer handler
func NewMailerHandler(mailerFlow businessflow.MailerFlow) *MailerHandler {
	return &MailerHandler{
		mailerFlow: mailerFlow,
		validator:  validator.New(),
	}
}

func (h *MailerHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *MailerHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// EnqueueEmail accepts one ad-hoc delivery. The send happens
// asynchronously; the response only confirms the row exists.
func (h *MailerHandler) EnqueueEmail(c fiber.Ctx) error {
	var req dto.EnqueueEmailRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.mailerFlow.EnqueueEmail(h.createRequestContext(c, "/api/v1/admin/emails"), &req, metadata)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Email validation failed", "EMAIL_VALIDATION_FAILED", err.Error())
		}
		log.Println("Email enqueue failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enqueue email", "EMAIL_ENQUEUE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Email enqueued successfully", result)
}

// CreateCampaign accepts a broadcast: the campaign and one delivery per
// recipient are persisted in a single transaction.
func (h *MailerHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.mailerFlow.CreateCampaign(h.createRequestContext(c, "/api/v1/admin/campaigns"), &req, metadata)
	if err != nil {
		if businessflow.IsDuplicateRecipient(err) || businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign validation failed", "CAMPAIGN_VALIDATION_FAILED", err.Error())
		}
		log.Println("Campaign creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// GetCampaign returns one campaign with derived stats and its deliveries
func (h *MailerHandler) GetCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "INVALID_REQUEST", nil)
	}

	result, err := h.mailerFlow.GetCampaign(h.createRequestContext(c, "/api/v1/admin/campaigns/"+campaignUUID), campaignUUID)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		log.Println("Get campaign failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get campaign", "CAMPAIGN_FETCH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaigns returns a paginated campaign list with per-row derived stats
func (h *MailerHandler) ListCampaigns(c fiber.Ctx) error {
	req := dto.ListCampaignsRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", businessflow.DefaultPageSize),
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("type"); v != "" {
		req.Type = &v
	}

	result, err := h.mailerFlow.ListCampaigns(h.createRequestContext(c, "/api/v1/admin/campaigns"), &req)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list parameters", "INVALID_REQUEST", err.Error())
		}
		log.Println("List campaigns failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list campaigns", "CAMPAIGN_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// ListDeliveries returns a paginated delivery list filtered by status
// and/or campaign
func (h *MailerHandler) ListDeliveries(c fiber.Ctx) error {
	req := dto.ListDeliveriesRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", businessflow.DefaultPageSize),
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("campaign_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_REQUEST", nil)
		}
		cid := uint(id)
		req.CampaignID = &cid
	}

	result, err := h.mailerFlow.ListDeliveries(h.createRequestContext(c, "/api/v1/admin/deliveries"), &req)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list parameters", "INVALID_REQUEST", err.Error())
		}
		log.Println("List deliveries failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list deliveries", "DELIVERY_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Deliveries retrieved successfully", result)
}

// GetDelivery returns one delivery with its full attempt bookkeeping
func (h *MailerHandler) GetDelivery(c fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid delivery id", "INVALID_REQUEST", nil)
	}

	result, err := h.mailerFlow.GetDelivery(h.createRequestContext(c, "/api/v1/admin/deliveries/:id"), id)
	if err != nil {
		if businessflow.IsDeliveryNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Delivery not found", "DELIVERY_NOT_FOUND", nil)
		}
		log.Println("Get delivery failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get delivery", "DELIVERY_FETCH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery retrieved successfully", result)
}

// CancelDelivery cancels a pending, scheduled or failed delivery. Rows
// mid-send finish their attempt first.
func (h *MailerHandler) CancelDelivery(c fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid delivery id", "INVALID_REQUEST", nil)
	}

	err := h.mailerFlow.CancelDelivery(h.createRequestContext(c, "/api/v1/admin/deliveries/:id/cancel"), id)
	if err != nil {
		if businessflow.IsDeliveryNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Delivery not found", "DELIVERY_NOT_FOUND", nil)
		}
		if businessflow.IsDeliveryNotCancellable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Delivery is already terminal", "DELIVERY_NOT_CANCELLABLE", nil)
		}
		log.Println("Cancel delivery failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel delivery", "DELIVERY_CANCEL_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery cancelled successfully", nil)
}

func (h *MailerHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

// createRequestContextWithTimeout builds a request-scoped context with
// observability values. Shared by all handlers in this package.
func createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func paramUint(c fiber.Ctx, key string) (uint, bool) {
	v := c.Params(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	default:
		return err.Field() + " is invalid"
	}
}
