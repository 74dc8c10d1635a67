package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"deribit-feed/src/book"
	"deribit-feed/src/candle"
	"deribit-feed/src/config"
	"deribit-feed/src/feed"
	"deribit-feed/src/models"
)

// MarketHandler serves read-only views of the feed's books and candles.
type MarketHandler struct {
	Feed      *feed.Feed
	StartTime time.Time
	Connected func() bool

	defaultDepth int
	maxDepth     int
	maxCandles   int
}

func NewMarketHandler(f *feed.Feed, cfg config.HTTPConfig, connected func() bool) *MarketHandler {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &MarketHandler{
		Feed:         f,
		StartTime:    time.Now(),
		Connected:    connected,
		defaultDepth: cfg.DefaultDepth,
		maxDepth:     cfg.MaxDepth,
		maxCandles:   cfg.MaxCandles,
	}
}

func queryLimit(c *fiber.Ctx, key string, fallback, upper int) int {
	value, err := strconv.Atoi(c.Query(key, strconv.Itoa(fallback)))
	if err != nil || value <= 0 {
		value = fallback
	}
	// edge case: enforce maximum limit
	if value > upper {
		value = upper
	}
	return value
}

func optionalFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func levelInfos(levels []book.PriceLevel) []models.PriceLevelInfo {
	out := make([]models.PriceLevelInfo, 0, len(levels))
	for _, level := range levels {
		out = append(out, models.PriceLevelInfo{
			Price:  level.Price.Float64(),
			Amount: level.Amount,
		})
	}
	return out
}

func (h *MarketHandler) GetBook(c *fiber.Ctx) error {
	name := c.Params("instrument")

	inst, exists := h.Feed.Market().Lookup(name)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Instrument not found",
		})
	}

	depth := queryLimit(c, "depth", h.defaultDepth, h.maxDepth)

	var response models.BookResponse
	inst.ReadBook(func(ob *book.OrderBook) {
		bids, asks := ob.Depth(depth)
		bestBid, hasBid := ob.BestBid()
		bestAsk, hasAsk := ob.BestAsk()
		spread, hasSpread := ob.Spread()
		gaps, _ := ob.Gaps()

		response = models.BookResponse{
			Instrument: name,
			Timestamp:  ob.Timestamp(),
			ChangeID:   ob.ChangeID(),
			BestBid:    optionalFloat(bestBid.Float64(), hasBid),
			BestAsk:    optionalFloat(bestAsk.Float64(), hasAsk),
			Spread:     optionalFloat(spread.Float64(), hasSpread),
			Gaps:       gaps,
			Bids:       levelInfos(bids),
			Asks:       levelInfos(asks),
		}
	})

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *MarketHandler) GetCandles(c *fiber.Ctx) error {
	name := c.Params("instrument")

	inst, exists := h.Feed.Market().Lookup(name)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Instrument not found",
		})
	}

	minutes, err := strconv.Atoi(c.Query("resolution", "1"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid resolution: must be a number of minutes",
		})
	}
	resolution, err := candle.ParseResolution(minutes)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	limit := queryLimit(c, "limit", h.maxCandles, h.maxCandles)

	var (
		candles    []candle.Candle
		registered bool
	)
	inst.ReadTrades(func(tl *candle.TradeLog) {
		chart, ok := tl.Chart(resolution)
		if !ok {
			return
		}
		registered = true
		candles = chart.Last(limit)
	})

	if !registered {
		log.Debug().
			Str("instrument", name).
			Int("resolution", minutes).
			Msg("Candles requested for unregistered resolution")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Resolution " + resolution.String() + " is not tracked",
		})
	}

	list := models.CandleList{
		Instrument: name,
		Resolution: resolution.Minutes(),
		Candles:    make([]models.CandleInfo, 0, len(candles)),
	}
	for _, cd := range candles {
		list.Candles = append(list.Candles, cd.Info())
	}

	return c.Status(fiber.StatusOK).JSON(list)
}

func (h *MarketHandler) ListInstruments(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"instruments": h.Feed.Market().Names(),
	})
}

func (h *MarketHandler) HealthCheck(c *fiber.Ctx) error {
	connected := h.Connected()
	ready := h.Feed.Ready()

	status := "healthy"
	if !connected || !ready {
		status = "degraded"
	}

	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		Connected:     connected,
		Ready:         ready,
		SessionID:     h.Feed.Client().SessionID().String(),
	})
}

func (h *MarketHandler) Metrics(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.Feed.Metrics())
}
