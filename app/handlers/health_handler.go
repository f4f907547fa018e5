package handlers

import (
	"context"
	"time"

	"github.com/clubroster/mailengine/app/dto"
	"github.com/clubroster/mailengine/app/worker"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler reports engine liveness: database, cache, and the
// background loops (via their redis heartbeats)
type HealthHandler struct {
	db        *gorm.DB
	rc        *redis.Client
	heartbeat *worker.Heartbeat
}

func NewHealthHandler(db *gorm.DB, rc *redis.Client, heartbeat *worker.Heartbeat) *HealthHandler {
	return &HealthHandler{db: db, rc: rc, heartbeat: heartbeat}
}

type healthStatus struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Workers  map[string]bool   `json:"workers,omitempty"`
	Uptime   string            `json:"uptime"`
	Reported time.Time         `json:"reported"`
}

var startedAt = time.Now().UTC()

// Health runs cheap dependency checks and reports per-component status.
// Worker liveness is best effort: without redis the loops still run but
// cannot report.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out := healthStatus{
		Status:   "ok",
		Checks:   map[string]string{},
		Uptime:   time.Since(startedAt).Round(time.Second).String(),
		Reported: time.Now().UTC(),
	}

	if sqlDB, err := h.db.DB(); err != nil {
		out.Checks["database"] = "error: " + err.Error()
		out.Status = "degraded"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		out.Checks["database"] = "error: " + err.Error()
		out.Status = "degraded"
	} else {
		out.Checks["database"] = "ok"
	}

	if h.rc != nil {
		if err := h.rc.Ping(ctx).Err(); err != nil {
			out.Checks["redis"] = "error: " + err.Error()
			out.Status = "degraded"
		} else {
			out.Checks["redis"] = "ok"
		}
		out.Workers = map[string]bool{
			"delivery_worker": h.heartbeat.Alive(ctx, "delivery_worker"),
			"job_runner":      h.heartbeat.Alive(ctx, "job_runner"),
		}
	} else {
		out.Checks["redis"] = "disabled"
	}

	statusCode := fiber.StatusOK
	if out.Status != "ok" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: out.Status == "ok",
		Message: "Health check",
		Data:    out,
	})
}
