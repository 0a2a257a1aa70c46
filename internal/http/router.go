package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/http/handlers"
	"github.com/social-scheduler/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	campaignHandler *handlers.CampaignHandler,
	opsHandler *handlers.OpsHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Liveness
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Telegram webhook, secret-token guarded inside the handler
	app.Post("/telegram/webhook", webhookHandler.HandleUpdate)

	api := app.Group("/api/v1")
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))
	}

	// Campaigns and posts
	api.Post("/campaigns", campaignHandler.CreateCampaign)
	api.Get("/campaigns/:id", campaignHandler.GetCampaign)
	api.Get("/campaigns/:id/posts", campaignHandler.ListCampaignPosts)
	api.Post("/campaigns/:id/approve", campaignHandler.ApproveCampaign)
	api.Post("/campaigns/:id/schedule", campaignHandler.ScheduleCampaign)
	api.Get("/campaigns/:id/optimal-time", campaignHandler.AnalyzeOptimalTime)

	api.Get("/posts/:id", campaignHandler.GetPost)
	api.Put("/posts/:id", campaignHandler.EditPost)
	api.Post("/posts/:id/cancel", campaignHandler.CancelPost)
	api.Post("/posts/:id/retry", campaignHandler.RetryPost)

	api.Post("/preflight", campaignHandler.Preflight)
	api.Get("/events", campaignHandler.GetEvents)

	// Ops
	api.Post("/ops/health-check", opsHandler.RunHealthCheck)
	api.Get("/ops/status", opsHandler.GetStatus)
	api.Put("/ops/rollout-stage", opsHandler.SetRolloutStage)
	api.Post("/ops/compact/:name?", opsHandler.Compact)

	// WebSocket event feed
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
