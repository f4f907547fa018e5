package handlers

import (
	"context"
	"log"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	businessflow "github.com/clubroster/mailengine/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// JobHandlerInterface defines the contract for scheduled job handlers
type JobHandlerInterface interface {
	CreateJob(c fiber.Ctx) error
	ListJobs(c fiber.Ctx) error
	GetJob(c fiber.Ctx) error
	RescheduleJob(c fiber.Ctx) error
	CancelJob(c fiber.Ctx) error
}

// JobHandler handles scheduled job HTTP requests
type JobHandler struct {
	jobFlow   businessflow.JobFlow
	validator *validator.Validate
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobFlow businessflow.JobFlow) *JobHandler {
	return &JobHandler{
		jobFlow:   jobFlow,
		validator: validator.New(),
	}
}

func (h *JobHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *JobHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateJob registers a durable trigger, e.g. an event reminder
func (h *JobHandler) CreateJob(c fiber.Ctx) error {
	var req dto.CreateJobRequest
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

	result, err := h.jobFlow.CreateJob(h.createRequestContext(c, "/api/v1/admin/jobs"), &req, metadata)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Job validation failed", "JOB_VALIDATION_FAILED", err.Error())
		}
		log.Println("Job creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Job creation failed", "JOB_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Job created successfully", result)
}

// ListJobs returns a paginated job list ordered by fire time
func (h *JobHandler) ListJobs(c fiber.Ctx) error {
	req := dto.ListJobsRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", businessflow.DefaultPageSize),
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("job_type"); v != "" {
		req.JobType = &v
	}

	result, err := h.jobFlow.ListJobs(h.createRequestContext(c, "/api/v1/admin/jobs"), &req)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid list parameters", "INVALID_REQUEST", err.Error())
		}
		log.Println("List jobs failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list jobs", "JOB_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Jobs retrieved successfully", result)
}

// GetJob returns one job with its run bookkeeping
func (h *JobHandler) GetJob(c fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", "INVALID_REQUEST", nil)
	}

	result, err := h.jobFlow.GetJob(h.createRequestContext(c, "/api/v1/admin/jobs/:id"), id)
	if err != nil {
		if businessflow.IsJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
		}
		log.Println("Get job failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get job", "JOB_FETCH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Job retrieved successfully", result)
}

// RescheduleJob moves a job to a new absolute fire time and reactivates
// it if it was completed, cancelled or parked as failed
func (h *JobHandler) RescheduleJob(c fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", "INVALID_REQUEST", nil)
	}

	var req dto.RescheduleJobRequest
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

	result, err := h.jobFlow.RescheduleJob(h.createRequestContext(c, "/api/v1/admin/jobs/:id/reschedule"), id, &req)
	if err != nil {
		if businessflow.IsJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
		}
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Job validation failed", "JOB_VALIDATION_FAILED", err.Error())
		}
		log.Println("Reschedule job failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reschedule job", "JOB_RESCHEDULE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Job rescheduled successfully", result)
}

// CancelJob cancels a job; cancelling an already-cancelled job is a no-op
func (h *JobHandler) CancelJob(c fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", "INVALID_REQUEST", nil)
	}

	err := h.jobFlow.CancelJob(h.createRequestContext(c, "/api/v1/admin/jobs/:id/cancel"), id)
	if err != nil {
		if businessflow.IsJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
		}
		log.Println("Cancel job failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel job", "JOB_CANCEL_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Job cancelled successfully", nil)
}

func (h *JobHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}
