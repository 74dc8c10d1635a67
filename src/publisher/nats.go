package publisher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"deribit-feed/src/config"
	"deribit-feed/src/logger"
	"deribit-feed/src/models"
)

// Publisher fans derived market state out to downstream consumers.
type Publisher interface {
	PublishTopOfBook(top models.TopOfBook) error
	PublishCandle(event models.CandleEvent) error
	Close() error
}

// Nop discards everything. Used when publishing is disabled.
type Nop struct{}

func (Nop) PublishTopOfBook(models.TopOfBook) error  { return nil }
func (Nop) PublishCandle(models.CandleEvent) error { return nil }
func (Nop) Close() error                           { return nil }

// NATSPublisher publishes JSON messages with NATS core (fire and forget).
type NATSPublisher struct {
	nc        *nats.Conn
	prefix    string
	log       zerolog.Logger
	connected atomic.Bool
}

func BookSubject(prefix, instrument string) string {
	return prefix + ".book." + instrument
}

func CandleSubject(prefix, instrument string, minutes int) string {
	return prefix + ".candle." + instrument + "." + strconv.Itoa(minutes)
}

// ConnectNATS dials the server. With RetryOnFailedConnect an unreachable server is not fatal;
// publishes are buffered by the client until it connects.
func ConnectNATS(cfg config.NATSConfig, clientName string) (*NATSPublisher, error) {
	np := &NATSPublisher{
		prefix: cfg.SubjectPrefix,
		log:    logger.Component("publisher"),
	}

	name := cfg.ClientName
	if name == "" {
		name = clientName
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			np.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connected")
			np.connected.Store(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.log.Warn().Msg("NATS connection closed")
			np.connected.Store(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.log.Warn().Err(err).Msg("NATS disconnected, attempting reconnect")
			np.connected.Store(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			np.connected.Store(true)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	np.nc = nc
	if nc.IsConnected() {
		np.connected.Store(true)
	}
	return np, nil
}

func (np *NATSPublisher) publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := np.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (np *NATSPublisher) PublishTopOfBook(top models.TopOfBook) error {
	return np.publish(BookSubject(np.prefix, top.Instrument), top)
}

func (np *NATSPublisher) PublishCandle(event models.CandleEvent) error {
	return np.publish(CandleSubject(np.prefix, event.Instrument, event.Resolution), event)
}

func (np *NATSPublisher) IsConnected() bool {
	return np.connected.Load()
}

// Close flushes buffered messages and closes the connection.
func (np *NATSPublisher) Close() error {
	if np.nc == nil {
		return nil
	}
	err := np.nc.Drain()
	if err != nil {
		np.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
