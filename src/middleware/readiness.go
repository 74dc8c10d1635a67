package middleware

import (
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Readiness rejects API requests with 503 until the feed is ready, while in maintenance,
// or when too many requests are in flight. Health and metrics stay reachable.
type Readiness struct {
	ready                 func() bool
	maxConcurrentRequests int64

	maintenanceMode  atomic.Bool
	inFlightRequests atomic.Int64
}

func NewReadiness(ready func() bool, maxConcurrentRequests int64) *Readiness {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Readiness{
		ready:                 ready,
		maxConcurrentRequests: maxConcurrentRequests,
	}
}

func (r *Readiness) SetMaintenanceMode(enabled bool) {
	r.maintenanceMode.Store(enabled)
	if enabled {
		log.Warn().Msg("Service maintenance mode enabled")
	} else {
		log.Info().Msg("Service maintenance mode disabled")
	}
}

func (r *Readiness) InFlightRequests() int64 {
	return r.inFlightRequests.Load()
}

func unavailable(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":   "Service unavailable",
		"message": message,
		"code":    fiber.StatusServiceUnavailable,
	})
}

func (r *Readiness) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// edge case: health and metrics always available
		if c.Path() == "/health" || c.Path() == "/metrics" {
			return c.Next()
		}

		if r.maintenanceMode.Load() {
			return unavailable(c, "The service is currently undergoing maintenance. Please try again later.")
		}

		if !r.ready() {
			log.Debug().Str("path", c.Path()).Msg("Request rejected: no book snapshot yet")
			return unavailable(c, "Market data is not available yet. Please try again shortly.")
		}

		if r.maxConcurrentRequests > 0 {
			if current := r.inFlightRequests.Load(); current >= r.maxConcurrentRequests {
				log.Warn().
					Str("path", c.Path()).
					Int64("current_requests", current).
					Int64("max_requests", r.maxConcurrentRequests).
					Msg("Request rejected: server overload")
				return unavailable(c, "The service is currently overloaded. Please try again later.")
			}
		}

		r.inFlightRequests.Add(1)
		defer r.inFlightRequests.Add(-1)

		return c.Next()
	}
}
