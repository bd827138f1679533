// internal/transport/transport.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

// readSlice is the poll interval for endpoint reads. Short enough that
// Send can honor its own deadline, long enough to avoid busy-spinning.
const readSlice = 10 * time.Millisecond

// Endpoint is the byte-level connection a Transport drives.
// serial.Port satisfies it; tests substitute an in-memory implementation.
type Endpoint interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// inputDrainer is implemented by endpoints that can discard stale bytes
// left in the receive buffer (serial.Port does).
type inputDrainer interface {
	ResetInputBuffer() error
}

// ResponseSpec describes how to recognize a complete device response:
// either read until Terminator is seen, or read exactly Length bytes.
// Timeout overrides the port default when positive.
type ResponseSpec struct {
	Terminator byte
	Length     int
	Timeout    time.Duration
}

// Stats tracks transport activity counters
type Stats struct {
	Commands     int64         `json:"commands"`
	Timeouts     int64         `json:"timeouts"`
	BytesWritten int64         `json:"bytes_written"`
	BytesRead    int64         `json:"bytes_read"`
	LastActivity time.Time     `json:"last_activity"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// Transport owns one physical serial connection and serializes all
// command/response cycles onto it. The mutex is the single point of
// mutual exclusion for the bus: concurrent Send calls queue behind it,
// so bytes from different commands never interleave on the wire.
type Transport struct {
	config   model.SerialPortConfig
	endpoint Endpoint
	logger   *zap.Logger

	mu     sync.Mutex // held for the full write+read cycle, and by Close
	closed bool

	statsMu sync.Mutex
	stats   Stats
}

// Open opens the configured serial port and wraps it in a Transport
func Open(cfg model.SerialPortConfig, logger *zap.Logger) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: serial.StopBits(cfg.StopBits),
	}

	switch cfg.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, &ConnectionError{Port: cfg.Port, Err: err}
	}

	if err := port.SetReadTimeout(readSlice); err != nil {
		port.Close()
		return nil, &ConnectionError{Port: cfg.Port, Err: err}
	}

	logger.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
	)

	return New(port, cfg, logger), nil
}

// New wraps an already-open endpoint. Used by Open and by tests.
func New(endpoint Endpoint, cfg model.SerialPortConfig, logger *zap.Logger) *Transport {
	return &Transport{
		config:   cfg,
		endpoint: endpoint,
		logger: logger.With(
			zap.String("component", "transport"),
			zap.String("port", cfg.Port),
		),
	}
}

// Port returns the port identifier this transport is bound to
func (t *Transport) Port() string {
	return t.config.Port
}

// IsOpen returns whether the transport still holds the endpoint
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Send writes payload to the port and reads the response described by
// spec. The full request/response cycle runs under the transport mutex:
// a second concurrent caller blocks until the first cycle completes.
// On timeout the partial response read so far is returned together with
// an error wrapping ErrTimeout, and the transport stays usable.
func (t *Transport) Send(ctx context.Context, payload []byte, spec ResponseSpec) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Stale bytes from a previously timed-out command would desync the
	// request/response pairing; discard them before writing.
	if drainer, ok := t.endpoint.(inputDrainer); ok {
		if err := drainer.ResetInputBuffer(); err != nil {
			t.logger.Warn("Failed to drain input buffer", zap.Error(err))
		}
	}

	start := time.Now()
	n, err := t.endpoint.Write(payload)
	if err != nil {
		return nil, fmt.Errorf("write to %s: %w", t.config.Port, err)
	}
	if n != len(payload) {
		return nil, fmt.Errorf("incomplete write to %s: wrote %d of %d bytes", t.config.Port, n, len(payload))
	}

	rsp, err := t.readResponse(ctx, spec)

	t.recordSend(start, len(payload), len(rsp), err)
	if err != nil {
		return rsp, err
	}

	t.logger.Debug("Command completed",
		zap.Int("request_bytes", len(payload)),
		zap.Int("response_bytes", len(rsp)),
		zap.Duration("latency", time.Since(start)),
	)
	return rsp, nil
}

// readResponse accumulates bytes until the spec is satisfied or the
// deadline elapses. The endpoint polls in readSlice increments so the
// hard deadline is honored within one slice.
func (t *Transport) readResponse(ctx context.Context, spec ResponseSpec) ([]byte, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = t.config.Timeout
	}
	deadline := time.Now().Add(timeout)

	var rsp []byte
	buf := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return rsp, ctx.Err()
		default:
		}

		n, err := t.endpoint.Read(buf)
		if err != nil && err != io.EOF {
			return rsp, fmt.Errorf("read from %s: %w", t.config.Port, err)
		}
		if n > 0 {
			rsp = append(rsp, buf[:n]...)

			if spec.Terminator != 0 {
				if idx := bytes.IndexByte(rsp, spec.Terminator); idx >= 0 {
					return rsp[:idx], nil
				}
			} else if spec.Length > 0 && len(rsp) >= spec.Length {
				return rsp[:spec.Length], nil
			}
		}

		if err == io.EOF || time.Now().After(deadline) {
			return rsp, fmt.Errorf("%s: %w", t.config.Port, ErrTimeout)
		}
	}
}

// Close releases the underlying endpoint exactly once. It waits for an
// in-flight Send to finish its request/response cycle first.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.endpoint.Close(); err != nil {
		t.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("close %s: %w", t.config.Port, err)
	}

	t.logger.Info("Serial port closed")
	return nil
}

// Stats returns a copy of the activity counters
func (t *Transport) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.stats
}

func (t *Transport) recordSend(start time.Time, wrote, read int, err error) {
	latency := time.Since(start)

	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	t.stats.Commands++
	t.stats.BytesWritten += int64(wrote)
	t.stats.BytesRead += int64(read)
	t.stats.LastActivity = time.Now()
	if errors.Is(err, ErrTimeout) {
		t.stats.Timeouts++
	}
	if t.stats.AvgLatency == 0 {
		t.stats.AvgLatency = latency
	} else {
		t.stats.AvgLatency = (t.stats.AvgLatency + latency) / 2
	}
}
