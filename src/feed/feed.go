package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"deribit-feed/src/book"
	"deribit-feed/src/candle"
	"deribit-feed/src/logger"
	"deribit-feed/src/models"
	"deribit-feed/src/publisher"
	"deribit-feed/src/rpc"
)

type Options struct {
	Instruments       []string
	BookInterval      string
	TradesInterval    string
	HeartbeatInterval int // seconds, 0 leaves heartbeats off
	CallTimeout       time.Duration
	ClientID          string
	ClientSecret      string
}

type Stats struct {
	Notifications atomic.Int64
	BookUpdates   atomic.Int64
	Snapshots     atomic.Int64
	Trades        atomic.Int64
	CandlesSealed atomic.Int64
	Gaps          atomic.Int64
	Rejected      atomic.Int64
}

// Feed is the subscriber loop: it drains the client's notification stream into the market.
type Feed struct {
	client    *rpc.Client
	market    *Market
	publisher publisher.Publisher
	opts      Options
	log       zerolog.Logger

	stats Stats
	ready atomic.Bool
}

func New(client *rpc.Client, market *Market, pub publisher.Publisher, opts Options) *Feed {
	if pub == nil {
		pub = publisher.Nop{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Feed{
		client:    client,
		market:    market,
		publisher: pub,
		opts:      opts,
		log:       logger.Component("feed"),
	}
}

func (f *Feed) Market() *Market {
	return f.market
}

func (f *Feed) Client() *rpc.Client {
	return f.client
}

// Ready reports whether at least one book snapshot has been loaded.
func (f *Feed) Ready() bool {
	return f.ready.Load()
}

func (f *Feed) Channels() []string {
	channels := make([]string, 0, 2*len(f.opts.Instruments))
	for _, instrument := range f.opts.Instruments {
		channels = append(channels,
			models.BookChannel(instrument, f.opts.BookInterval),
			models.TradesChannel(instrument, f.opts.TradesInterval),
		)
	}
	return channels
}

// Start authenticates when credentials are set, enables heartbeats and subscribes to every channel.
// Instruments are created before subscribing so their charts exist ahead of the first trade.
func (f *Feed) Start(ctx context.Context) ([]string, error) {
	for _, instrument := range f.opts.Instruments {
		f.market.GetOrCreate(instrument)
	}

	if f.opts.ClientID != "" {
		callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
		auth, err := f.client.Auth(callCtx, f.opts.ClientID, f.opts.ClientSecret)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		f.log.Info().
			Str("scope", auth.Scope).
			Int64("expires_in", auth.ExpiresIn).
			Msg("Authenticated")
	}

	if f.opts.HeartbeatInterval > 0 {
		callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
		_, err := f.client.SetHeartbeat(callCtx, f.opts.HeartbeatInterval)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("set heartbeat: %w", err)
		}
		f.log.Info().Int("interval_seconds", f.opts.HeartbeatInterval).Msg("Heartbeat enabled")
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()
	subscribe := f.client.Subscribe
	if f.opts.ClientID != "" {
		// authenticated sessions subscribe through the private method, which also accepts public channels
		subscribe = f.client.PrivateSubscribe
	}
	channels, err := subscribe(callCtx, f.Channels()...)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info().Strs("channels", channels).Msg("Subscribed")
	return channels, nil
}

// Run consumes notifications until the client closes (returns nil) or ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	stream := f.client.Notifications()
	for {
		n, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, rpc.ErrClosed) {
				f.log.Info().Msg("Notification stream closed")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// edge case: one bad frame never ends the loop
			f.log.Warn().Err(err).Msg("Skipping notification")
			continue
		}
		f.Handle(ctx, n)
	}
}

// Handle routes a single notification.
func (f *Feed) Handle(ctx context.Context, n models.Notification) {
	f.stats.Notifications.Add(1)

	switch n.Method {
	case models.MethodHeartbeat:
		f.handleHeartbeat(ctx, n)
	case models.MethodSubscription:
		params, err := n.Subscription()
		if err != nil {
			f.reject(err, n.Method)
			return
		}
		switch {
		case strings.HasPrefix(params.Channel, "book."):
			var data models.BookData
			if err := json.Unmarshal(params.Data, &data); err != nil {
				f.reject(err, params.Channel)
				return
			}
			if data.InstrumentName == "" {
				data.InstrumentName = instrumentFromChannel(params.Channel)
			}
			f.ApplyBook(&data)
		case strings.HasPrefix(params.Channel, "trades."):
			var trades []models.Trade
			if err := json.Unmarshal(params.Data, &trades); err != nil {
				f.reject(err, params.Channel)
				return
			}
			f.ApplyTrades(trades)
		default:
			f.log.Debug().Str("channel", params.Channel).Msg("Ignoring notification for unhandled channel")
		}
	default:
		f.log.Debug().Str("method", n.Method).Msg("Ignoring notification with unknown method")
	}
}

func (f *Feed) reject(err error, source string) {
	f.stats.Rejected.Add(1)
	f.log.Warn().Err(err).Str("source", source).Msg("Failed to decode notification")
}

func instrumentFromChannel(channel string) string {
	parts := strings.Split(channel, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func (f *Feed) handleHeartbeat(ctx context.Context, n models.Notification) {
	hb, err := n.Heartbeat()
	if err != nil {
		f.reject(err, n.Method)
		return
	}
	if hb.Type != models.HeartbeatTypeTestRequest {
		return
	}

	// the reply is awaited off the loop so the stream keeps draining
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
		defer cancel()
		if _, err := f.client.Test(callCtx); err != nil {
			f.log.Warn().Err(err).Msg("Heartbeat test request failed")
			return
		}
		f.log.Debug().Msg("Answered heartbeat test request")
	}()
}

// ApplyBook routes a payload without prev_change_id to Load and anything else to Update.
func (f *Feed) ApplyBook(data *models.BookData) {
	inst := f.market.GetOrCreate(data.InstrumentName)

	var top models.TopOfBook
	inst.writeBook(func(ob *book.OrderBook) {
		if data.IsSnapshot() {
			ob.Load(data)
			f.stats.Snapshots.Add(1)
		} else {
			if gap := ob.Update(data); gap {
				_, last := ob.Gaps()
				f.stats.Gaps.Add(1)
				f.log.Warn().
					Str("instrument", data.InstrumentName).
					Int64("expected_prev_change_id", last.Expected).
					Int64("prev_change_id", last.Got).
					Msg("Book change id gap")
			}
			f.stats.BookUpdates.Add(1)
		}
		top = TopOf(ob)
	})

	if data.IsSnapshot() && !f.ready.Swap(true) {
		f.log.Info().Str("instrument", data.InstrumentName).Msg("First book snapshot loaded")
	}

	if err := f.publisher.PublishTopOfBook(top); err != nil {
		f.log.Warn().Err(err).Str("instrument", top.Instrument).Msg("Failed to publish top of book")
	}
}

func (f *Feed) ApplyTrades(trades []models.Trade) {
	for _, t := range trades {
		inst := f.market.GetOrCreate(t.InstrumentName)

		var sealed []candle.Sealed
		inst.writeTrades(func(tl *candle.TradeLog) {
			sealed = tl.NewTrade(t)
		})
		f.stats.Trades.Add(1)

		for _, s := range sealed {
			f.stats.CandlesSealed.Add(1)
			event := models.CandleEvent{
				Instrument: t.InstrumentName,
				Resolution: s.Resolution.Minutes(),
				Candle:     s.Candle.Info(),
			}
			if err := f.publisher.PublishCandle(event); err != nil {
				f.log.Warn().Err(err).Str("instrument", t.InstrumentName).Msg("Failed to publish candle")
			}
		}
	}
}

// TopOf summarises a book. The caller holds the instrument lock.
func TopOf(ob *book.OrderBook) models.TopOfBook {
	top := models.TopOfBook{
		Instrument: ob.Instrument,
		Timestamp:  ob.Timestamp(),
		ChangeID:   ob.ChangeID(),
	}
	if p, ok := ob.BestBid(); ok {
		v := p.Float64()
		top.BestBid = &v
	}
	if p, ok := ob.BestAsk(); ok {
		v := p.Float64()
		top.BestAsk = &v
	}
	if p, ok := ob.Spread(); ok {
		v := p.Float64()
		top.Spread = &v
	}
	return top
}

func (f *Feed) Metrics() models.MetricsResponse {
	return models.MetricsResponse{
		NotificationsReceived: f.stats.Notifications.Load(),
		BookUpdatesApplied:    f.stats.BookUpdates.Load(),
		SnapshotsLoaded:       f.stats.Snapshots.Load(),
		TradesReceived:        f.stats.Trades.Load(),
		CandlesSealed:         f.stats.CandlesSealed.Load(),
		SequenceGaps:          f.stats.Gaps.Load(),
		NotificationsDropped:  f.client.Notifications().Dropped(),
		MalformedFrames:       f.client.Malformed() + f.stats.Rejected.Load(),
		PendingCalls:          f.client.PendingCount(),
	}
}
