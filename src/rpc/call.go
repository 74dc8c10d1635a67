package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"deribit-feed/src/models"
)

// PendingCall is the completion handle of one in-flight request. It is fulfilled exactly once.
type PendingCall struct {
	ID     uint64
	Method string

	once sync.Once
	done chan struct{}
	resp models.Response
	err  error
}

func newCall(id uint64, method string) *PendingCall {
	return &PendingCall{
		ID:     id,
		Method: method,
		done:   make(chan struct{}),
	}
}

func (c *PendingCall) fulfil(resp models.Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}

func (c *PendingCall) Done() <-chan struct{} {
	return c.done
}

// Await waits for the raw response. The venue error field is left in the envelope.
// Giving up on ctx does not unregister the call; a late response is still consumed.
func (c *PendingCall) Await(ctx context.Context) (models.Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return models.Response{}, ctx.Err()
	}
}

// Envelope is a response with its result decoded into R.
type Envelope[R any] struct {
	JSONRPC string
	ID      uint64
	Result  R
	Error   *models.RPCError
	Testnet bool
	UsIn    int64
	UsOut   int64
	UsDiff  int64
}

func decodeEnvelope[R any](method string, resp models.Response) (Envelope[R], error) {
	env := Envelope[R]{
		JSONRPC: resp.JSONRPC,
		ID:      resp.ID,
		Error:   resp.Error,
		Testnet: resp.Testnet,
		UsIn:    resp.UsIn,
		UsOut:   resp.UsOut,
		UsDiff:  resp.UsDiff,
	}
	if resp.HasResult() {
		if err := json.Unmarshal(resp.Result, &env.Result); err != nil {
			return env, &DecodeError{Method: method, Err: err}
		}
	}
	return env, nil
}

// Future is a typed view of a PendingCall.
type Future[R any] struct {
	call *PendingCall
}

func (p *Future[R]) ID() uint64 {
	return p.call.ID
}

func (p *Future[R]) Done() <-chan struct{} {
	return p.call.Done()
}

// AwaitRaw returns the decoded envelope including any venue error.
func (p *Future[R]) AwaitRaw(ctx context.Context) (Envelope[R], error) {
	resp, err := p.call.Await(ctx)
	if err != nil {
		return Envelope[R]{}, err
	}
	return decodeEnvelope[R](p.call.Method, resp)
}

// Await returns the decoded result, or the venue error as a *models.RPCError.
func (p *Future[R]) Await(ctx context.Context) (R, error) {
	env, err := p.AwaitRaw(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	if env.Error != nil {
		var zero R
		return zero, env.Error
	}
	return env.Result, nil
}

// Start writes req and returns a typed handle without waiting for the response.
func Start[R any](ctx context.Context, c *Client, req models.Request) (*Future[R], error) {
	call, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Future[R]{call: call}, nil
}

func Call[R any](ctx context.Context, c *Client, req models.Request) (R, error) {
	p, err := Start[R](ctx, c, req)
	if err != nil {
		var zero R
		return zero, err
	}
	return p.Await(ctx)
}

func CallRaw[R any](ctx context.Context, c *Client, req models.Request) (Envelope[R], error) {
	p, err := Start[R](ctx, c, req)
	if err != nil {
		return Envelope[R]{}, err
	}
	return p.AwaitRaw(ctx)
}
