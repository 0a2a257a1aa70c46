package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/social-scheduler/backend/internal/config"
	"github.com/social-scheduler/backend/internal/db"
	"github.com/social-scheduler/backend/internal/events"
	"github.com/social-scheduler/backend/internal/integrations"
	"github.com/social-scheduler/backend/internal/models"
	"github.com/social-scheduler/backend/internal/services"
	"github.com/social-scheduler/backend/internal/store"
	"github.com/social-scheduler/backend/internal/timing"
	"github.com/social-scheduler/backend/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisURL != "" {
		rdb, rerr := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if rerr != nil {
			log.Fatal("failed to connect to redis", zap.Error(rerr))
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	scheduler := services.NewSchedulerService(stores, &timing.HeuristicEngine{}, publisher, cfg, log)
	control := services.NewControlService(stores, scheduler, cfg, log)

	// In a private chat the operator's user id doubles as the chat id.
	var notifier integrations.Notifier = integrations.NopNotifier{}
	if cfg.TelegramBotToken != "" {
		notifier = integrations.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAllowedUserID, log)
	}

	clients := map[string]integrations.PublishClient{
		models.PlatformLinkedIn: integrations.NewLinkedInClient(
			cfg.LinkedInClientID, cfg.LinkedInClientSecret, cfg.LinkedInAccessToken,
			cfg.LinkedInAuthorURN, cfg.LinkedInPublicPageURL, cfg.DryRun, log),
		models.PlatformX: integrations.NewXClient(
			cfg.XClientID, cfg.XClientSecret, cfg.XAccessToken,
			cfg.XPublicPageURL, cfg.DryRun, log),
	}

	runner := worker.NewRunner(stores, scheduler, control, notifier, clients, cfg, log)

	log.Info("worker started",
		zap.Bool("dry_run", cfg.DryRun),
		zap.Duration("interval", cfg.WorkerInterval))

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runner.Cycle(ctx)
	for {
		select {
		case <-ticker.C:
			runner.Cycle(ctx)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
