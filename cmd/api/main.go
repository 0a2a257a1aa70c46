package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/db"
	"github.com/social-scheduler/backend/internal/events"
	apphttp "github.com/social-scheduler/backend/internal/http"
	"github.com/social-scheduler/backend/internal/http/handlers"
	"github.com/social-scheduler/backend/internal/integrations"
	"github.com/social-scheduler/backend/internal/services"
	"github.com/social-scheduler/backend/internal/store"
	"github.com/social-scheduler/backend/internal/timing"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores: Postgres when configured, JSONL files otherwise
	var stores *store.Stores
	var err error
	if cfg.PostgresDSN != "" {
		pool, perr := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if perr != nil {
			log.Fatal("failed to connect to postgres", zap.Error(perr))
		}
		defer pool.Close()
		stores, err = store.NewPostgresStores(ctx, pool)
	} else {
		stores, err = store.NewJSONLStores(cfg.DataDir)
	}
	if err != nil {
		log.Fatal("failed to open stores", zap.Error(err))
	}

	// Redis is optional; without it events stay local and the API rate
	// limiter is disabled.
	var rdb *redis.Client
	var publisher events.Publisher = events.NopPublisher{}
	var subscriber events.Subscriber
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
	}

	// Services
	scheduler := services.NewSchedulerService(stores, &timing.HeuristicEngine{}, publisher, cfg, log)
	control := services.NewControlService(stores, scheduler, cfg, log)

	// In a private chat the operator's user id doubles as the chat id.
	var notifier integrations.Notifier = integrations.NopNotifier{}
	if cfg.TelegramBotToken != "" {
		notifier = integrations.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAllowedUserID, log)
	}

	// Handlers
	campaignHandler := handlers.NewCampaignHandler(scheduler, log)
	opsHandler := handlers.NewOpsHandler(scheduler, cfg, log)
	webhookHandler := handlers.NewWebhookHandler(control, notifier, cfg, log)
	wsHub := handlers.NewWSHub(subscriber, log)

	if subscriber != nil {
		wsHub.Start(ctx)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, campaignHandler, opsHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
