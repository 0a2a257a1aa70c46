package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/social-scheduler/backend/internal/http/dto"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/services"
	"go.uber.org/zap"
)

type CampaignHandler struct {
	scheduler *services.SchedulerService
	log       *zap.Logger
}

func NewCampaignHandler(scheduler *services.SchedulerService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{scheduler: scheduler, log: log}
}

// errorStatus maps service sentinels onto HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrIllegalTransition):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, models.ErrManualConfirmationRequired):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.SourcePath == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "source_path is required"})
	}

	campaign, err := h.scheduler.CreateCampaignFromSource(c.Context(), req.SourcePath, req.AudienceTimezone)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.scheduler.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) ListCampaignPosts(c *fiber.Ctx) error {
	posts, err := h.scheduler.ListCampaignPosts(c.Context(), c.Params("id"))
	if err != nil {
		h.log.Error("list posts failed", zap.Error(err))
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: posts})
}

func (h *CampaignHandler) GetPost(c *fiber.Ctx) error {
	post, err := h.scheduler.GetPost(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: post})
}

func (h *CampaignHandler) EditPost(c *fiber.Ctx) error {
	var req dto.EditPostRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	post, err := h.scheduler.EditPost(c.Context(), c.Params("id"), req.Content)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: post})
}

func (h *CampaignHandler) ApproveCampaign(c *fiber.Ctx) error {
	var req dto.ApproveCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.EditorUser == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "editor_user is required"})
	}

	posts, err := h.scheduler.ApproveCampaign(c.Context(), c.Params("id"), req.EditorUser)
	if err != nil && !errors.Is(err, models.ErrManualConfirmationRequired) {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	if errors.Is(err, models.ErrManualConfirmationRequired) {
		return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
			"posts":   posts,
			"pending": "low confidence recommendation, awaiting manual confirmation",
		}})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: posts})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	var req dto.ScheduleCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	var posts []models.Post
	var err error
	if req.ScheduledForUTC == "" {
		posts, err = h.scheduler.ScheduleCampaignAuto(c.Context(), c.Params("id"))
	} else {
		var at time.Time
		at, err = time.Parse(time.RFC3339, req.ScheduledForUTC)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "scheduled_for_utc must be RFC 3339"})
		}
		posts, err = h.scheduler.ScheduleCampaign(c.Context(), c.Params("id"), at.UTC())
	}
	if err != nil && !errors.Is(err, models.ErrManualConfirmationRequired) {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	if errors.Is(err, models.ErrManualConfirmationRequired) {
		return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: posts})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: posts})
}

func (h *CampaignHandler) AnalyzeOptimalTime(c *fiber.Ctx) error {
	rec, err := h.scheduler.AnalyzeOptimalTime(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *CampaignHandler) Preflight(c *fiber.Ctx) error {
	var req dto.PreflightRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	results, err := h.scheduler.PreflightPosts(c.Context(), req.Stage, req.CampaignID, req.PostID)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: results})
}

func (h *CampaignHandler) GetEvents(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	evts, err := h.scheduler.QueryEvents(c.Context(), c.Query("campaign_id"), c.Query("post_id"), limit)
	if err != nil {
		h.log.Error("query events failed", zap.Error(err))
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: evts})
}

func (h *CampaignHandler) CancelPost(c *fiber.Ctx) error {
	post, err := h.scheduler.CancelPost(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: post})
}

func (h *CampaignHandler) RetryPost(c *fiber.Ctx) error {
	post, err := h.scheduler.RetryFailedPost(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: post})
}
