package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/messaging-crm/backend/internal/config"
	"github.com/messaging-crm/backend/internal/db"
	"github.com/messaging-crm/backend/internal/dispatch"
	"github.com/messaging-crm/backend/internal/events"
	"github.com/messaging-crm/backend/internal/gateway"
	apphttp "github.com/messaging-crm/backend/internal/http"
	"github.com/messaging-crm/backend/internal/http/handlers"
	"github.com/messaging-crm/backend/internal/importer"
	"github.com/messaging-crm/backend/internal/repositories"
	"github.com/messaging-crm/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	connectionRepo := repositories.NewConnectionRepo(pool)
	campaignRepo := repositories.NewCampaignRepo(pool)
	recipientRepo := repositories.NewRecipientRepo(pool)
	logRepo := repositories.NewDeliveryLogRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Dispatch engine
	gw := gateway.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewaySendsPerSecond, log)
	store := dispatch.NewRepoStore(campaignRepo, recipientRepo, logRepo)
	dispatcher := dispatch.NewDispatcher(store, gw, publisher, log)

	// Campaigns interrupted by a previous crash are parked as paused.
	if err := dispatcher.Recover(ctx); err != nil {
		log.Fatal("failed to recover interrupted campaigns", zap.Error(err))
	}

	// Services
	imp := importer.New(cfg.DefaultCountryCode)
	campaignService := services.NewCampaignService(campaignRepo, recipientRepo, logRepo, connectionRepo, imp, dispatcher, cfg, log)
	connectionService := services.NewConnectionService(connectionRepo, campaignRepo, log)

	// Handlers
	connectionHandler := handlers.NewConnectionHandler(connectionService, log)
	campaignHandler := handlers.NewCampaignHandler(campaignService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, connectionHandler, campaignHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			log.Error("dispatcher shutdown failed", zap.Error(err))
		}

		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
