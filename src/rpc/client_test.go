package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"deribit-feed/src/models"
)

// fakeSink records outbound frames and optionally answers them.
type fakeSink struct {
	mu      sync.Mutex
	frames  []models.RequestEnvelope
	fail    error
	respond func(env models.RequestEnvelope)
}

func (s *fakeSink) WriteMessage(_ context.Context, data []byte) error {
	var env models.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	s.mu.Lock()
	fail := s.fail
	if fail == nil {
		s.frames = append(s.frames, env)
	}
	respond := s.respond
	s.mu.Unlock()

	if fail != nil {
		return fail
	}
	if respond != nil {
		respond(env)
	}
	return nil
}

func (s *fakeSink) sent() []models.RequestEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RequestEnvelope, len(s.frames))
	copy(out, s.frames)
	return out
}

func newTestClient(sink Sink, capacity int, policy OverflowPolicy) *Client {
	nop := zerolog.Nop()
	return NewClient(sink, Options{StreamCapacity: capacity, Overflow: policy, Logger: &nop})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIDsStartAtZeroAndIncrease(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		call, err := client.Send(ctx, models.GetTimeRequest{})
		require.NoError(t, err)
		require.Equal(t, uint64(i), call.ID)
	}

	frames := sink.sent()
	require.Len(t, frames, 3)
	for i, f := range frames {
		require.Equal(t, uint64(i), f.ID)
		require.Equal(t, "public/get_time", f.Method)
		require.Equal(t, models.JSONRPCVersion, f.JSONRPC)
	}
	require.Equal(t, 3, client.PendingCount())
}

func TestResponsesMatchedByIDOutOfOrder(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	ctx := testContext(t)

	first, err := Start[int64](ctx, client, models.GetTimeRequest{})
	require.NoError(t, err)
	second, err := Start[string](ctx, client, models.SetHeartbeatRequest{Interval: 10})
	require.NoError(t, err)

	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":0,"result":1618936720000,"usIn":10,"usOut":15,"usDiff":5}`))

	ok, err := second.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ok)

	env, err := first.AwaitRaw(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1618936720000), env.Result)
	require.Equal(t, int64(5), env.UsDiff)
	require.Equal(t, uint64(0), env.ID)
	require.Zero(t, client.PendingCount())
}

func TestUnknownIDDropped(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)
	ctx := testContext(t)

	call, err := client.Send(ctx, models.TestRequest{})
	require.NoError(t, err)

	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":42,"result":{"version":"1"}}`))
	require.Equal(t, int64(1), client.Unmatched())
	require.Equal(t, 1, client.PendingCount())
	require.Zero(t, client.Notifications().Len(), "responses never reach the notification stream")

	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":0,"result":{"version":"1.2.26"}}`))
	resp, err := call.Await(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"version":"1.2.26"}`, string(resp.Result))

	// edge case: a duplicate of an already consumed id is dropped too
	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":0,"result":{"version":"1.2.26"}}`))
	require.Equal(t, int64(2), client.Unmatched())
}

func TestWriteFailureIsTransportError(t *testing.T) {
	sink := &fakeSink{fail: errors.New("broken pipe")}
	client := newTestClient(sink, 0, OverflowBlock)
	ctx := testContext(t)

	_, err := client.Send(ctx, models.TestRequest{})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Contains(t, transportErr.Op, "public/test")
	require.Zero(t, client.PendingCount())

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	call, err := client.Send(ctx, models.TestRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), call.ID, "a failed write still consumes its id")
}

func TestEmptyResponseIsProtocolError(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)
	ctx := testContext(t)

	future, err := Start[string](ctx, client, models.DisableHeartbeatRequest{})
	require.NoError(t, err)

	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":0}`))
	_, err = future.Await(ctx)

	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	require.NotNil(t, protocolErr.ID)
	require.Equal(t, uint64(0), *protocolErr.ID)
}

func TestMalformedResponseFailsItsCall(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
	}{
		{name: "error is not an object", frame: `{"jsonrpc":"2.0","id":0,"error":"boom"}`},
		{name: "timing field has wrong type", frame: `{"jsonrpc":"2.0","id":0,"result":"ok","usIn":"x"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(&fakeSink{}, 0, OverflowBlock)
			ctx := testContext(t)

			future, err := Start[string](ctx, client, models.DisableHeartbeatRequest{})
			require.NoError(t, err)

			client.Dispatch([]byte(tc.frame))

			awaitCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_, err = future.Await(awaitCtx)

			var protocolErr *ProtocolError
			require.ErrorAs(t, err, &protocolErr)
			require.NotNil(t, protocolErr.ID)
			require.Equal(t, uint64(0), *protocolErr.ID)
			require.Equal(t, 0, client.PendingCount())
			require.Equal(t, int64(1), client.Malformed())
			require.Equal(t, 0, client.Notifications().Len())
		})
	}
}

func TestMalformedFrameWithoutIDGoesToStream(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)
	ctx := testContext(t)

	client.Dispatch([]byte(`{"jsonrpc":"2.0","method":"subscription","params":"oops"`))
	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":7,"error":"late"}`))

	require.Equal(t, 1, client.Notifications().Len())
	require.Equal(t, int64(1), client.Unmatched())

	_, err := client.Notifications().Next(ctx)
	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	require.Nil(t, protocolErr.ID)
}

func TestVenueErrorSurfaced(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	sink.respond = func(env models.RequestEnvelope) {
		client.Dispatch([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":13009,"message":"invalid_token"}}`, env.ID)))
	}
	ctx := testContext(t)

	_, err := client.Auth(ctx, "id", "secret")
	var rpcErr *models.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, int64(13009), rpcErr.Code)
	require.Equal(t, "invalid_token", rpcErr.Message)

	env, err := CallRaw[models.AuthResponse](ctx, client, models.NewCredentialsAuth("id", "secret"))
	require.NoError(t, err, "the raw layer leaves the venue error in the envelope")
	require.NotNil(t, env.Error)
	require.Equal(t, int64(13009), env.Error.Code)

	auth := sink.sent()[0]
	require.JSONEq(t, `{"grant_type":"client_credentials","client_id":"id","client_secret":"secret"}`, string(auth.Params))
}

func TestResultTypeMismatchIsDecodeError(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	sink.respond = func(env models.RequestEnvelope) {
		client.Dispatch([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"unexpected":true}}`, env.ID)))
	}
	ctx := testContext(t)

	_, err := client.Subscribe(ctx, models.BookChannel("ETH-PERPETUAL", "100ms"))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, "public/subscribe", decodeErr.Method)
}

func TestTypedHelpers(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	sink.respond = func(env models.RequestEnvelope) {
		var result string
		switch env.Method {
		case "public/test":
			result = `{"version":"1.2.26"}`
		case "public/subscribe":
			result = `["book.ETH-PERPETUAL.100ms","trades.ETH-PERPETUAL.100ms"]`
		case "public/set_heartbeat":
			result = `"ok"`
		default:
			result = `null`
		}
		client.Dispatch([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, env.ID, result)))
	}
	ctx := testContext(t)

	version, err := client.Test(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.2.26", version.Version)

	channels, err := client.Subscribe(ctx, models.BookChannel("ETH-PERPETUAL", "100ms"), models.TradesChannel("ETH-PERPETUAL", "100ms"))
	require.NoError(t, err)
	require.Equal(t, []string{"book.ETH-PERPETUAL.100ms", "trades.ETH-PERPETUAL.100ms"}, channels)

	ok, err := client.SetHeartbeat(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "ok", ok)

	frames := sink.sent()
	require.JSONEq(t, `{"interval":10}`, string(frames[2].Params))

	_, err = client.GetTime(ctx)
	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr, "a null result with no error is a protocol violation")
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	// answer from another goroutine, in reverse-ish order, echoing the id as the result
	sink.respond = func(env models.RequestEnvelope) {
		go func() {
			time.Sleep(time.Duration(env.ID%3) * time.Millisecond)
			client.Dispatch([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, env.ID, env.ID)))
		}()
	}
	ctx := testContext(t)

	const callers = 64
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			future, err := Start[uint64](ctx, client, models.GetTimeRequest{})
			if err != nil {
				errs <- err
				return
			}
			got, err := future.Await(ctx)
			if err != nil {
				errs <- err
				return
			}
			if got != future.ID() {
				errs <- fmt.Errorf("call %d received result for %d", future.ID(), got)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	require.Zero(t, client.PendingCount())
	require.Len(t, sink.sent(), callers)
}

func TestSynchronousResponseDuringWrite(t *testing.T) {
	sink := &fakeSink{}
	client := newTestClient(sink, 0, OverflowBlock)
	// edge case: the response lands before Send returns
	sink.respond = func(env models.RequestEnvelope) {
		client.Dispatch([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"ok"}`, env.ID)))
	}
	ctx := testContext(t)

	got, err := client.DisableHeartbeat(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Zero(t, client.Unmatched())
}

func TestAbandonedCallCleanedUp(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)

	call, err := client.Send(context.Background(), models.TestRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = call.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, client.PendingCount())

	client.Dispatch([]byte(`{"jsonrpc":"2.0","id":0,"result":{"version":"1"}}`))
	require.Zero(t, client.PendingCount())
	require.Zero(t, client.Unmatched())
}

func TestCloseCancelsPending(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)
	ctx := testContext(t)

	future, err := Start[int64](ctx, client, models.GetTimeRequest{})
	require.NoError(t, err)

	client.Dispatch([]byte(`{"jsonrpc":"2.0","method":"heartbeat","params":{"type":"heartbeat"}}`))

	client.Close(errors.New("connection reset"))
	client.Close(nil)

	_, err = future.Await(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	require.True(t, client.Closed())

	_, err = client.Send(ctx, models.TestRequest{})
	require.ErrorIs(t, err, ErrClosed)

	n, err := client.Notifications().Next(ctx)
	require.NoError(t, err, "queued notifications survive close")
	require.Equal(t, models.MethodHeartbeat, n.Method)

	_, err = client.Notifications().Next(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.Contains(t, err.Error(), "connection reset")
}
