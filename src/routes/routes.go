package routes

import (
	"github.com/gofiber/fiber/v2"

	"deribit-feed/src/config"
	"deribit-feed/src/handlers"
	"deribit-feed/src/middleware"
)

func SetupRoutes(app *fiber.App, marketHandler *handlers.MarketHandler, cfg config.HTTPConfig) *middleware.Readiness {
	readiness := middleware.NewReadiness(marketHandler.Feed.Ready, cfg.MaxConcurrentRequests)
	if cfg.MaintenanceMode {
		readiness.SetMaintenanceMode(true)
	}

	app.Use(middleware.RequestLogger(cfg.RequestLogging))
	app.Use(readiness.Middleware())

	api := app.Group("/api/v1")

	if !cfg.RateLimit.Disabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
		api.Use(rateLimiter.Middleware())
	}

	api.Get("/instruments", marketHandler.ListInstruments)
	api.Get("/book/:instrument", marketHandler.GetBook)
	api.Get("/candles/:instrument", marketHandler.GetCandles)

	app.Get("/health", marketHandler.HealthCheck)
	app.Get("/metrics", marketHandler.Metrics)

	return readiness
}
