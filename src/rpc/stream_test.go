package rpc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deribit-feed/src/models"
)

func notificationFrame(channel string, seq int) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"subscription","params":{"channel":%q,"data":{"seq":%d}}}`, channel, seq))
}

func seqOf(t *testing.T, n models.Notification) string {
	t.Helper()
	params, err := n.Subscription()
	require.NoError(t, err)
	return string(params.Data)
}

func TestNotificationsRoutedToStream(t *testing.T) {
	client := newTestClient(&fakeSink{}, 0, OverflowBlock)
	ctx := testContext(t)

	client.Dispatch(notificationFrame("book.ETH-PERPETUAL.100ms", 1))
	client.Dispatch([]byte(`{not json`))
	client.Dispatch(notificationFrame("trades.ETH-PERPETUAL.100ms", 2))

	n, err := client.Notifications().Next(ctx)
	require.NoError(t, err)
	params, err := n.Subscription()
	require.NoError(t, err)
	require.Equal(t, "book.ETH-PERPETUAL.100ms", params.Channel)

	// edge case: a malformed frame is reported on its own and the stream carries on
	_, err = client.Notifications().Next(ctx)
	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	require.Equal(t, int64(1), client.Malformed())

	n, err = client.Notifications().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"seq":2}`, seqOf(t, n))
}

func TestStreamDropNewest(t *testing.T) {
	client := newTestClient(&fakeSink{}, 2, OverflowDropNewest)
	ctx := testContext(t)

	for i := 1; i <= 4; i++ {
		client.Dispatch(notificationFrame("c", i))
	}

	stream := client.Notifications()
	require.Equal(t, int64(2), stream.Dropped())
	require.Equal(t, 2, stream.Len())

	n, _ := stream.Next(ctx)
	require.Equal(t, `{"seq":1}`, seqOf(t, n))
	n, _ = stream.Next(ctx)
	require.Equal(t, `{"seq":2}`, seqOf(t, n))
}

func TestStreamDropOldest(t *testing.T) {
	client := newTestClient(&fakeSink{}, 2, OverflowDropOldest)
	ctx := testContext(t)

	for i := 1; i <= 4; i++ {
		client.Dispatch(notificationFrame("c", i))
	}

	stream := client.Notifications()
	require.Equal(t, int64(2), stream.Dropped())

	n, _ := stream.Next(ctx)
	require.Equal(t, `{"seq":3}`, seqOf(t, n))
	n, _ = stream.Next(ctx)
	require.Equal(t, `{"seq":4}`, seqOf(t, n))
}

func TestStreamBlockWaitsForConsumer(t *testing.T) {
	client := newTestClient(&fakeSink{}, 1, OverflowBlock)
	ctx := testContext(t)

	client.Dispatch(notificationFrame("c", 1))

	produced := make(chan struct{})
	go func() {
		client.Dispatch(notificationFrame("c", 2))
		close(produced)
	}()

	select {
	case <-produced:
		t.Fatal("Producer should block while the stream is full")
	case <-time.After(20 * time.Millisecond):
	}

	n, err := client.Notifications().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"seq":1}`, seqOf(t, n))

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("Producer should resume once space is available")
	}

	n, err = client.Notifications().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"seq":2}`, seqOf(t, n))
	require.Zero(t, client.Notifications().Dropped())
}

func TestStreamBlockedProducerReleasedByClose(t *testing.T) {
	client := newTestClient(&fakeSink{}, 1, OverflowBlock)
	client.Dispatch(notificationFrame("c", 1))

	produced := make(chan struct{})
	go func() {
		client.Dispatch(notificationFrame("c", 2))
		close(produced)
	}()

	client.Close(nil)

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("Close should release a blocked producer")
	}
}

func TestStreamNextHonoursContext(t *testing.T) {
	stream := NewStream(0, OverflowBlock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamWakesWaitingConsumer(t *testing.T) {
	stream := NewStream(0, OverflowBlock)
	ctx := testContext(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		stream.push(streamItem{notification: models.Notification{Method: models.MethodHeartbeat}})
	}()

	n, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, models.MethodHeartbeat, n.Method)
}

func TestParseOverflowPolicy(t *testing.T) {
	testCases := map[string]OverflowPolicy{
		"":            OverflowBlock,
		"block":       OverflowBlock,
		"drop_oldest": OverflowDropOldest,
		"DROP_NEWEST": OverflowDropNewest,
	}
	for input, expected := range testCases {
		got, err := ParseOverflowPolicy(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, got, input)
		if input != "" {
			require.Equal(t, expected.String(), got.String())
		}
	}

	_, err := ParseOverflowPolicy("spill")
	require.Error(t, err)
}
