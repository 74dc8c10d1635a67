package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"deribit-feed/src/logger"
)

var ErrNotConnected = errors.New("transport: not connected")

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        16 << 20,
	}
}

// WebSocket is one venue connection. Writes are text frames, reads are delivered by Run.
type WebSocket struct {
	url  string
	opts Options
	log  zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, opts Options) (*WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	w := &WebSocket{
		url:  url,
		opts: opts,
		log:  logger.Component("transport").With().Str("url", url).Logger(),
		conn: conn,
	}
	w.connected.Store(true)
	w.log.Info().Msg("WebSocket connected")
	return w, nil
}

func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

// WriteMessage sends one text frame. The deadline is the earlier of ctx and the write timeout.
func (w *WebSocket) WriteMessage(ctx context.Context, data []byte) error {
	if !w.connected.Load() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Time{}
	if w.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(w.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Run reads frames until the connection fails or ctx is done, handing each text frame to onFrame.
// It returns nil on a normal close.
func (w *WebSocket) Run(ctx context.Context, onFrame func([]byte)) error {
	stop := context.AfterFunc(ctx, func() {
		_ = w.Close()
	})
	defer stop()

	for {
		messageType, message, err := w.conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			// edge case: shutting down is not a read failure
			if ctx.Err() != nil || w.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message error: %w", err)
		}

		if messageType == websocket.TextMessage {
			onFrame(message)
		}
	}
}

// Close sends a close frame and tears down the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.connected.Store(false)

		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.writeMu.Unlock()

		if closeErr := w.conn.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close connection %s: %w", w.url, closeErr)
		}
		w.log.Info().Msg("WebSocket disconnected")
	})
	return err
}
