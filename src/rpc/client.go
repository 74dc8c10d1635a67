package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"deribit-feed/src/models"
)

// Sink is the outbound half of the connection. Writes are serialised by the Client.
type Sink interface {
	WriteMessage(ctx context.Context, data []byte) error
}

type Options struct {
	StreamCapacity int
	Overflow       OverflowPolicy
	Logger         *zerolog.Logger
}

// Client correlates requests written to a Sink with responses passed to Dispatch.
type Client struct {
	sink      Sink
	sessionID uuid.UUID
	log       zerolog.Logger

	// writeMu orders id allocation, registration and the write as one unit.
	writeMu sync.Mutex
	nextID  uint64

	pendingMu sync.Mutex
	pending   map[uint64]*PendingCall
	closed    bool

	stream *Stream

	unmatched atomic.Int64
	malformed atomic.Int64
}

func NewClient(sink Sink, opts Options) *Client {
	// a caller supplied logger is expected to carry its own component field
	base := log.With().Str("component", "rpc").Logger()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	sessionID := uuid.New()

	return &Client{
		sink:      sink,
		sessionID: sessionID,
		log: base.With().
			Str("session_id", sessionID.String()).
			Logger(),
		pending: make(map[uint64]*PendingCall),
		stream:  NewStream(opts.StreamCapacity, opts.Overflow),
	}
}

func (c *Client) SessionID() uuid.UUID {
	return c.sessionID
}

// Notifications is the stream of every inbound frame without an id.
func (c *Client) Notifications() *Stream {
	return c.stream
}

// Send writes req and returns its completion handle. The call is registered before the write
// so a response racing the write always finds it. A failed write leaves nothing registered.
func (c *Client) Send(ctx context.Context, req models.Request) (*PendingCall, error) {
	method := req.Method()
	params, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "encode " + method, Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.nextID == math.MaxUint64 {
		panic("rpc: request id space exhausted")
	}
	id := c.nextID

	frame, err := json.Marshal(models.RequestEnvelope{
		JSONRPC: models.JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &TransportError{Op: "encode " + method, Err: err}
	}

	call := newCall(id, method)
	if err := c.register(call); err != nil {
		return nil, err
	}
	c.nextID++

	c.log.Trace().
		Uint64("id", id).
		Str("method", method).
		RawJSON("params", params).
		Msg("Sending request")

	if err := c.sink.WriteMessage(ctx, frame); err != nil {
		c.unregister(id)
		return nil, &TransportError{Op: "write " + method, Err: err}
	}

	return call, nil
}

func (c *Client) register(call *PendingCall) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, exists := c.pending[call.ID]; exists {
		panic(fmt.Sprintf("rpc: request id %d registered twice", call.ID))
	}
	c.pending[call.ID] = call
	return nil
}

func (c *Client) unregister(id uint64) *PendingCall {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	call, exists := c.pending[id]
	if !exists {
		return nil
	}
	delete(c.pending, id)
	return call
}

// recoverID pulls just the request id out of a frame that failed to decode as a whole.
func recoverID(data []byte) (uint64, bool) {
	var partial struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || partial.ID == nil {
		return 0, false
	}
	return *partial.ID, true
}

// Dispatch routes one inbound frame. Frames with an id complete the matching call,
// everything else goes onto the notification stream.
func (c *Client) Dispatch(data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.malformed.Add(1)
		c.log.Warn().
			Err(err).
			Int("bytes", len(data)).
			Msg("Malformed inbound frame")

		reason := "malformed frame: " + err.Error()
		if id, ok := recoverID(data); ok {
			// edge case: a broken response still completes its call when the id survives
			if call := c.unregister(id); call != nil {
				call.fulfil(models.Response{}, &ProtocolError{Reason: reason, ID: &id})
				return
			}
			c.unmatched.Add(1)
			return
		}
		c.stream.push(streamItem{err: &ProtocolError{Reason: reason}})
		return
	}

	if !frame.IsResponse() {
		c.stream.push(streamItem{notification: frame.Notification()})
		return
	}

	resp := frame.Response()
	call := c.unregister(resp.ID)
	if call == nil {
		// edge case: late, duplicate or foreign ids are dropped
		c.unmatched.Add(1)
		c.log.Warn().
			Uint64("id", resp.ID).
			Msg("Response for unknown request id dropped")
		return
	}

	if !resp.HasResult() && resp.Error == nil {
		id := resp.ID
		call.fulfil(resp, &ProtocolError{Reason: "response carries neither result nor error", ID: &id})
		return
	}

	call.fulfil(resp, nil)
}

// Close fails every pending call with ErrCancelled and closes the notification stream.
// Later calls fail with ErrClosed. Safe to call more than once.
func (c *Client) Close(cause error) {
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*PendingCall)
	c.pendingMu.Unlock()

	for _, call := range pending {
		call.fulfil(models.Response{}, ErrCancelled)
	}
	c.stream.close(cause)

	event := c.log.Info().Int("cancelled_calls", len(pending))
	if cause != nil {
		event = event.Err(cause)
	}
	event.Msg("RPC client closed")
}

func (c *Client) Closed() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.closed
}

func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Unmatched counts responses dropped because no call was waiting for their id.
func (c *Client) Unmatched() int64 {
	return c.unmatched.Load()
}

func (c *Client) Malformed() int64 {
	return c.malformed.Load()
}
