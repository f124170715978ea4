package client

import (
	"errors"
	"fmt"

	"go-ubus/message"
	"go-ubus/registry"
)

// ErrNotConnected is returned by operations attempted while disconnected.
// They fail without touching the network.
var ErrNotConnected = errors.New("ubus: not connected")

// ConnectionError reports a broker that cannot be reached, or a session
// that broke while in use.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ubus: connection to %s failed: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParameterEncodingError reports call parameters that cannot be sent.
type ParameterEncodingError struct {
	Err error
}

func (e *ParameterEncodingError) Error() string {
	return fmt.Sprintf("ubus: invalid parameters: %v", e.Err)
}

func (e *ParameterEncodingError) Unwrap() error { return e.Err }

// CallError reports a call the broker answered with a non-OK status,
// including calls that timed out.
type CallError struct {
	Status  message.Status
	Message string
}

func newCallError(status message.Status) *CallError {
	return &CallError{Status: status, Message: status.Message()}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ubus: %s (status %d)", e.Message, e.Status)
}

type (
	LookupError         = registry.LookupError
	ObjectNotFoundError = registry.ObjectNotFoundError
)
