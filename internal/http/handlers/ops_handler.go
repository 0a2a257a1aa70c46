package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/http/dto"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/services"
	"go.uber.org/zap"
)

// OpsHandler exposes the operational surface: health, status, rollout
// stage and store compaction. Kill switch and overrides stay on the
// Telegram two-step path only.
type OpsHandler struct {
	scheduler *services.SchedulerService
	cfg       *config.Config
	log       *zap.Logger
}

func NewOpsHandler(scheduler *services.SchedulerService, cfg *config.Config, log *zap.Logger) *OpsHandler {
	return &OpsHandler{scheduler: scheduler, cfg: cfg, log: log}
}

func (h *OpsHandler) RunHealthCheck(c *fiber.Ctx) error {
	check, err := h.scheduler.HealthCheck(c.Context())
	if err != nil {
		h.log.Error("health check failed", zap.Error(err))
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: check})
}

func (h *OpsHandler) GetStatus(c *fiber.Ctx) error {
	kill, err := h.scheduler.IsKillSwitchOn(c.Context())
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	stage, err := h.scheduler.GetRolloutStage(c.Context())
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	heartbeat, _, err := h.scheduler.GetControl(c.Context(), models.ControlWorkerHeartbeat)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.StatusResponse{
		KillSwitch:    kill,
		RolloutStage:  stage,
		LastHeartbeat: heartbeat,
		DryRun:        h.cfg.DryRun,
	}})
}

func (h *OpsHandler) SetRolloutStage(c *fiber.Ctx) error {
	var req dto.SetRolloutStageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	control, err := h.scheduler.SetRolloutStage(c.Context(), req.Stage)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: control})
}

func (h *OpsHandler) Compact(c *fiber.Ctx) error {
	name := c.Params("name", "all")
	reclaimed, err := h.scheduler.CompactData(c.Context(), name)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"bytes_reclaimed": reclaimed}})
}
