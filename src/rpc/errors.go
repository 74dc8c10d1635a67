package rpc

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("rpc: client closed")
	ErrCancelled = errors.New("rpc: call cancelled before a response arrived")
)

// TransportError is a failed write to the outbound sink. It fails one call, not the client.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is an inbound frame that breaks the envelope contract.
type ProtocolError struct {
	Reason string
	ID     *uint64
}

func (e *ProtocolError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("rpc protocol violation (id %d): %s", *e.ID, e.Reason)
	}
	return "rpc protocol violation: " + e.Reason
}

// DecodeError is a result that does not match the type expected for the method.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("rpc decode %s result: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
