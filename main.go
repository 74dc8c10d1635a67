package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"deribit-feed/src/config"
	"deribit-feed/src/feed"
	"deribit-feed/src/handlers"
	"deribit-feed/src/logger"
	"deribit-feed/src/publisher"
	"deribit-feed/src/routes"
	"deribit-feed/src/rpc"
	"deribit-feed/src/transport"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Log)
	log := logger.GetLogger()

	log.Info().
		Str("venue", cfg.Venue.Endpoint()).
		Strs("instruments", cfg.Venue.Instruments).
		Msg("Initializing Deribit market data feed")

	resolutions, err := cfg.Venue.CandleResolutions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid candle resolutions")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.Venue.HandshakeTimeout)
	wsOpts := transport.DefaultOptions()
	wsOpts.HandshakeTimeout = cfg.Venue.HandshakeTimeout
	wsOpts.WriteTimeout = cfg.Venue.WriteTimeout
	conn, err := transport.Dial(dialCtx, cfg.Venue.Endpoint(), wsOpts)
	cancelDial()
	if err != nil {
		log.Fatal().Err(err).Msg("Venue connection failed")
	}

	rpcLog := logger.Component("rpc")
	client := rpc.NewClient(conn, rpc.Options{
		StreamCapacity: cfg.Venue.SubscriptionBufferSize,
		Overflow:       cfg.Venue.Overflow(),
		Logger:         &rpcLog,
	})

	transportDone := make(chan error, 1)
	go func() {
		err := conn.Run(ctx, client.Dispatch)
		if err == nil {
			err = rpc.ErrClosed
		}
		client.Close(err)
		transportDone <- err
	}()

	var pub publisher.Publisher = publisher.Nop{}
	if cfg.NATS.Enabled {
		np, err := publisher.ConnectNATS(cfg.NATS, "deribit-feed-"+client.SessionID().String())
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("NATS publisher setup failed")
		}
		pub = np
	}

	market := feed.NewMarket(resolutions)
	f := feed.New(client, market, pub, feed.Options{
		Instruments:       cfg.Venue.Instruments,
		BookInterval:      cfg.Venue.BookInterval,
		TradesInterval:    cfg.Venue.TradesInterval,
		HeartbeatInterval: cfg.Venue.HeartbeatInterval,
		CallTimeout:       cfg.Venue.CallTimeout,
		ClientID:          cfg.Venue.ClientID,
		ClientSecret:      cfg.Venue.ClientSecret,
	})

	feedDone := make(chan error, 1)
	// drain notifications before subscribing so a bounded blocking stream never stalls call responses
	go func() {
		feedDone <- f.Run(ctx)
	}()

	channels, err := f.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Feed subscription failed")
	}
	log.Info().Strs("channels", channels).Msg("Subscribed")

	marketHandler := handlers.NewMarketHandler(f, cfg.HTTP, conn.Connected)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, marketHandler, cfg.HTTP)

	port := fmt.Sprintf(":%d", cfg.HTTP.Port)
	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			if err.Error() != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	log.Info().
		Str("port", port).
		Strs("endpoints", []string{
			"GET    /api/v1/instruments",
			"GET    /api/v1/book/:instrument",
			"GET    /api/v1/candles/:instrument",
			"GET    /health",
			"GET    /metrics",
		}).
		Msg("Deribit market data feed started")

	feedStopped := false
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-quit:
		log.Info().Msg("Received shutdown signal, shutting down...")
	case err := <-serverError:
		log.Error().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	case err := <-transportDone:
		log.Error().Err(err).Msg("Venue connection lost, shutting down...")
	case err := <-feedDone:
		feedStopped = true
		if err != nil {
			log.Error().Err(err).Msg("Feed stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", cfg.ShutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	}

	stop()
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing venue connection")
	}
	client.Close(rpc.ErrClosed)

	if !feedStopped {
		select {
		case <-feedDone:
		case <-time.After(time.Second):
			log.Warn().Msg("Feed loop did not stop in time")
		}
	}

	if err := pub.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing publisher")
	}

	log.Info().
		Int64("notifications", f.Metrics().NotificationsReceived).
		Msg("Shutdown complete")
	logger.CloseLogger()
}
