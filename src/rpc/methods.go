package rpc

import (
	"context"

	"deribit-feed/src/models"
)

func (c *Client) Test(ctx context.Context) (models.TestResponse, error) {
	return Call[models.TestResponse](ctx, c, models.TestRequest{})
}

// GetTime returns the venue clock in unix milliseconds.
func (c *Client) GetTime(ctx context.Context) (int64, error) {
	return Call[int64](ctx, c, models.GetTimeRequest{})
}

func (c *Client) SetHeartbeat(ctx context.Context, intervalSeconds int) (string, error) {
	return Call[string](ctx, c, models.SetHeartbeatRequest{Interval: intervalSeconds})
}

func (c *Client) DisableHeartbeat(ctx context.Context) (string, error) {
	return Call[string](ctx, c, models.DisableHeartbeatRequest{})
}

// Subscribe returns the channels the venue accepted.
func (c *Client) Subscribe(ctx context.Context, channels ...string) ([]string, error) {
	return Call[[]string](ctx, c, models.SubscribeRequest{Channels: channels})
}

func (c *Client) Unsubscribe(ctx context.Context, channels ...string) ([]string, error) {
	return Call[[]string](ctx, c, models.UnsubscribeRequest{Channels: channels})
}

// PrivateSubscribe needs an authenticated session.
func (c *Client) PrivateSubscribe(ctx context.Context, channels ...string) ([]string, error) {
	return Call[[]string](ctx, c, models.PrivateSubscribeRequest{Channels: channels})
}

func (c *Client) Auth(ctx context.Context, clientID, clientSecret string) (models.AuthResponse, error) {
	return Call[models.AuthResponse](ctx, c, models.NewCredentialsAuth(clientID, clientSecret))
}
