package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/messaging-crm/backend/internal/config"
	"github.com/messaging-crm/backend/internal/http/handlers"
	"github.com/messaging-crm/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	connectionHandler *handlers.ConnectionHandler,
	campaignHandler *handlers.CampaignHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Connections
	protected.Post("/connections", connectionHandler.CreateConnection)
	protected.Get("/connections", connectionHandler.ListConnections)
	protected.Get("/connections/:id", connectionHandler.GetConnection)
	protected.Put("/connections/:id", connectionHandler.UpdateConnection)
	protected.Delete("/connections/:id", connectionHandler.DeleteConnection)

	// Campaigns
	protected.Post("/campaigns", campaignHandler.CreateCampaign)
	protected.Get("/campaigns", campaignHandler.ListCampaigns)
	protected.Get("/campaigns/:id", campaignHandler.GetCampaign)
	protected.Put("/campaigns/:id", campaignHandler.UpdateCampaign)
	protected.Delete("/campaigns/:id", campaignHandler.DeleteCampaign)

	// Recipient import and inspection
	protected.Post("/campaigns/:id/recipients/import", campaignHandler.ImportRecipients)
	protected.Get("/campaigns/:id/recipients", campaignHandler.ListRecipients)
	protected.Get("/campaigns/:id/logs", campaignHandler.ListDeliveryLog)

	// Lifecycle
	protected.Post("/campaigns/:id/start", campaignHandler.StartCampaign)
	protected.Post("/campaigns/:id/pause", campaignHandler.PauseCampaign)
	protected.Post("/campaigns/:id/resume", campaignHandler.ResumeCampaign)
	protected.Post("/campaigns/:id/cancel", campaignHandler.CancelCampaign)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
