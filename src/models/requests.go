package models

import "fmt"

// Request is the params object of an outbound call. Method names the venue endpoint.
type Request interface {
	Method() string
}

type TestRequest struct {
	ExpectedResult string `json:"expected_result,omitempty"`
}

func (TestRequest) Method() string { return "public/test" }

type TestResponse struct {
	Version string `json:"version"`
}

type GetTimeRequest struct{}

func (GetTimeRequest) Method() string { return "public/get_time" }

// SetHeartbeatRequest interval is in seconds.
type SetHeartbeatRequest struct {
	Interval int `json:"interval"`
}

func (SetHeartbeatRequest) Method() string { return "public/set_heartbeat" }

type DisableHeartbeatRequest struct{}

func (DisableHeartbeatRequest) Method() string { return "public/disable_heartbeat" }

type SubscribeRequest struct {
	Channels []string `json:"channels"`
}

func (SubscribeRequest) Method() string { return "public/subscribe" }

type UnsubscribeRequest struct {
	Channels []string `json:"channels"`
}

func (UnsubscribeRequest) Method() string { return "public/unsubscribe" }

type PrivateSubscribeRequest struct {
	Channels []string `json:"channels"`
}

func (PrivateSubscribeRequest) Method() string { return "private/subscribe" }

const GrantClientCredentials = "client_credentials"

type AuthRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope,omitempty"`
}

func (AuthRequest) Method() string { return "public/auth" }

func NewCredentialsAuth(clientID, clientSecret string) AuthRequest {
	return AuthRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
}

type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

func BookChannel(instrument, interval string) string {
	return fmt.Sprintf("book.%s.%s", instrument, interval)
}

func TradesChannel(instrument, interval string) string {
	return fmt.Sprintf("trades.%s.%s", instrument, interval)
}
