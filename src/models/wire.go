package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

const JSONRPCVersion = "2.0"

// Notification methods pushed by the venue.
const (
	MethodSubscription = "subscription"
	MethodHeartbeat    = "heartbeat"
)

// RequestEnvelope is the outbound frame. Params holds the already encoded Request.
type RequestEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Frame is any inbound message before it is classified as a response or a notification.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Testnet bool            `json:"testnet,omitempty"`
	UsIn    int64           `json:"usIn,omitempty"`
	UsOut   int64           `json:"usOut,omitempty"`
	UsDiff  int64           `json:"usDiff,omitempty"`
}

func (f *Frame) IsResponse() bool {
	return f.ID != nil
}

func (f *Frame) Response() Response {
	return Response{
		JSONRPC: f.JSONRPC,
		ID:      *f.ID,
		Result:  f.Result,
		Error:   f.Error,
		Testnet: f.Testnet,
		UsIn:    f.UsIn,
		UsOut:   f.UsOut,
		UsDiff:  f.UsDiff,
	}
}

func (f *Frame) Notification() Notification {
	return Notification{
		JSONRPC: f.JSONRPC,
		Method:  f.Method,
		Params:  f.Params,
	}
}

// Response is a correlated reply with the result still undecoded.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Testnet bool            `json:"testnet"`
	UsIn    int64           `json:"usIn"`
	UsOut   int64           `json:"usOut"`
	UsDiff  int64           `json:"usDiff"`
}

// HasResult reports whether the result field carried a value. A literal null counts as absent.
func (r *Response) HasResult() bool {
	trimmed := strings.TrimSpace(string(r.Result))
	return trimmed != "" && trimmed != "null"
}

type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type SubscriptionParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type HeartbeatParams struct {
	Type string `json:"type"`
}

const (
	HeartbeatTypeHeartbeat   = "heartbeat"
	HeartbeatTypeTestRequest = "test_request"
)

func (n Notification) Subscription() (SubscriptionParams, error) {
	var params SubscriptionParams
	if n.Method != MethodSubscription {
		return params, fmt.Errorf("notification method %q is not %q", n.Method, MethodSubscription)
	}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return params, fmt.Errorf("decode subscription params: %w", err)
	}
	return params, nil
}

func (n Notification) Heartbeat() (HeartbeatParams, error) {
	var params HeartbeatParams
	if n.Method != MethodHeartbeat {
		return params, fmt.Errorf("notification method %q is not %q", n.Method, MethodHeartbeat)
	}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return params, fmt.Errorf("decode heartbeat params: %w", err)
	}
	return params, nil
}
