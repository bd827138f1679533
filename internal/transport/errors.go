// internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by Send when no complete response arrived
	// within the deadline. The transport remains usable afterwards.
	ErrTimeout = errors.New("response timeout")

	// ErrClosed is returned by Send after Close has released the port
	ErrClosed = errors.New("transport closed")
)

// ConnectionError indicates the underlying serial endpoint could not be
// opened or configured
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("serial port %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
