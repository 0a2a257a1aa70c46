package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/integrations"
	"github.com/social-scheduler/backend/internal/services"
	"go.uber.org/zap"
)

// telegramUpdate is the subset of the Bot API update we care about: plain
// text commands and inline-keyboard callbacks.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

type WebhookHandler struct {
	control  *services.ControlService
	notifier integrations.Notifier
	cfg      *config.Config
	log      *zap.Logger
}

func NewWebhookHandler(control *services.ControlService, notifier integrations.Notifier, cfg *config.Config, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{control: control, notifier: notifier, cfg: cfg, log: log}
}

// HandleUpdate receives Telegram webhook calls. The shared secret header
// is required; everything else is delegated to the control service. The
// response is always 200 so Telegram does not redeliver.
func (h *WebhookHandler) HandleUpdate(c *fiber.Ctx) error {
	if h.cfg.TelegramWebhookSecret == "" ||
		c.Get("X-Telegram-Bot-Api-Secret-Token") != h.cfg.TelegramWebhookSecret {
		return c.SendStatus(fiber.StatusForbidden)
	}

	var update telegramUpdate
	if err := c.BodyParser(&update); err != nil {
		h.log.Warn("unparseable telegram update", zap.Error(err))
		return c.JSON(fiber.Map{"ok": true})
	}

	var operatorID, text string
	switch {
	case update.Message != nil && update.Message.From != nil:
		operatorID = strconv.FormatInt(update.Message.From.ID, 10)
		text = update.Message.Text
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		operatorID = strconv.FormatInt(update.CallbackQuery.From.ID, 10)
		text = update.CallbackQuery.Data
	default:
		return c.JSON(fiber.Map{"ok": true})
	}
	if text == "" {
		return c.JSON(fiber.Map{"ok": true})
	}

	result, err := h.control.HandleCommand(c.Context(), operatorID, text)
	if err != nil {
		h.log.Error("command handling failed",
			zap.String("operator_id", operatorID), zap.Error(err))
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := h.notifier.SendMessage(c.Context(), result.Message, false); err != nil {
		h.log.Warn("failed to deliver command result", zap.Error(err))
	}
	return c.JSON(fiber.Map{"ok": true})
}
