// internal/device/client.go
package device

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"perfusion-service/internal/transport"
)

var (
	// ErrNoResponse is wrapped into the Error returned after the retry
	// budget is exhausted without a response from the device
	ErrNoResponse = errors.New("no response from device")
)

// Error is the device-level failure surfaced to callers after the
// client gave up on a command
type Error struct {
	Port string
	Addr int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %d on %s: %v", e.Addr, e.Port, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bus is the transport surface a Client needs. *transport.Transport
// satisfies it; tests substitute a fake.
type Bus interface {
	Send(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error)
	Port() string
}

// Client is a thin per-device handle on a shared serial bus: a device
// address plus a retry policy. It holds no transport state across
// calls; each Command acquires the bus for exactly one request/response
// cycle per attempt. Address framing is done by the driver layer, the
// client only decides when to retry and when to give up.
type Client struct {
	bus     Bus
	addr    int
	retries int
	logger  *zap.Logger
}

// NewClient binds a device address on the given bus. retries is the
// number of re-attempts after the first timeout; retries=2 means at
// most three attempts total.
func NewClient(bus Bus, addr int, retries int, logger *zap.Logger) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		bus:     bus,
		addr:    addr,
		retries: retries,
		logger: logger.With(
			zap.String("component", "device_client"),
			zap.String("port", bus.Port()),
			zap.Int("addr", addr),
		),
	}
}

// Addr returns the device address on the multi-drop bus
func (c *Client) Addr() int {
	return c.addr
}

// Port returns the port identifier of the underlying bus
func (c *Client) Port() string {
	return c.bus.Port()
}

// Command sends payload and returns the device response. Timeouts are
// retried up to the configured count; the bus state is deterministic
// per attempt, so no backoff is applied beyond the transport's own
// timeout. Any other transport failure, and timeout after the last
// attempt, surface as *Error.
func (c *Client) Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error) {
	attempts := c.retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		rsp, err := c.bus.Send(ctx, payload, spec)
		if err == nil {
			return rsp, nil
		}
		if !errors.Is(err, transport.ErrTimeout) {
			return nil, &Error{Port: c.bus.Port(), Addr: c.addr, Err: err}
		}
		if attempt < attempts {
			c.logger.Debug("Command timed out, retrying",
				zap.ByteString("command", payload),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
			)
		}
	}

	c.logger.Warn("Command failed after retries",
		zap.ByteString("command", payload),
		zap.Int("attempts", attempts),
	)
	return nil, &Error{Port: c.bus.Port(), Addr: c.addr, Err: ErrNoResponse}
}
