package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"perfusion-service/internal/transport"
)

// fakeBus counts attempts and answers according to a per-call plan
type fakeBus struct {
	calls   int
	respond func(call int, payload []byte) ([]byte, error)
}

func (f *fakeBus) Send(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error) {
	f.calls++
	return f.respond(f.calls, payload)
}

func (f *fakeBus) Port() string { return "/dev/ttyFAKE" }

func timeoutErr() error {
	return fmt.Errorf("/dev/ttyFAKE: %w", transport.ErrTimeout)
}

func TestCommandRetriesExactlyOnTimeout(t *testing.T) {
	bus := &fakeBus{respond: func(call int, payload []byte) ([]byte, error) {
		return nil, timeoutErr()
	}}
	client := NewClient(bus, 1, 2, zap.NewNop())

	_, err := client.Command(context.Background(), []byte("1H\r"), transport.ResponseSpec{Length: 1})
	if err == nil {
		t.Fatal("expected error from silent device")
	}
	if bus.calls != 3 {
		t.Fatalf("attempts = %d, want 3 (retries=2)", bus.calls)
	}
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}

	var devErr *Error
	if !errors.As(err, &devErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if devErr.Addr != 1 || devErr.Port != "/dev/ttyFAKE" {
		t.Fatalf("error context = addr %d port %s", devErr.Addr, devErr.Port)
	}
}

func TestCommandSucceedsAfterTransientTimeout(t *testing.T) {
	bus := &fakeBus{respond: func(call int, payload []byte) ([]byte, error) {
		if call == 1 {
			return nil, timeoutErr()
		}
		return []byte("*"), nil
	}}
	client := NewClient(bus, 1, 3, zap.NewNop())

	rsp, err := client.Command(context.Background(), []byte("1H\r"), transport.ResponseSpec{Length: 1})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if string(rsp) != "*" {
		t.Fatalf("response = %q, want %q", rsp, "*")
	}
	if bus.calls != 2 {
		t.Fatalf("attempts = %d, want 2", bus.calls)
	}
}

func TestCommandDoesNotRetryIOErrors(t *testing.T) {
	ioErr := errors.New("input/output error")
	bus := &fakeBus{respond: func(call int, payload []byte) ([]byte, error) {
		return nil, ioErr
	}}
	client := NewClient(bus, 4, 5, zap.NewNop())

	_, err := client.Command(context.Background(), []byte("4E\r"), transport.ResponseSpec{Terminator: '\n'})
	if err == nil {
		t.Fatal("expected error")
	}
	if bus.calls != 1 {
		t.Fatalf("attempts = %d, want 1 (IO errors are not retried)", bus.calls)
	}
	if !errors.Is(err, ioErr) {
		t.Fatalf("err = %v, want wrapped %v", err, ioErr)
	}
}

func TestCommandIsIdempotentOverRepeatedCalls(t *testing.T) {
	bus := &fakeBus{respond: func(call int, payload []byte) ([]byte, error) {
		return append([]byte("ok:"), payload...), nil
	}}
	client := NewClient(bus, 2, 0, zap.NewNop())

	for i := 0; i < 5; i++ {
		rsp, err := client.Command(context.Background(), []byte("2#\r"), transport.ResponseSpec{Terminator: '\n'})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if string(rsp) != "ok:2#\r" {
			t.Fatalf("call %d: response = %q", i, rsp)
		}
	}
}

func TestNegativeRetriesClampedToZero(t *testing.T) {
	bus := &fakeBus{respond: func(call int, payload []byte) ([]byte, error) {
		return nil, timeoutErr()
	}}
	client := NewClient(bus, 1, -3, zap.NewNop())

	_, err := client.Command(context.Background(), []byte("1E\r"), transport.ResponseSpec{Length: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if bus.calls != 1 {
		t.Fatalf("attempts = %d, want 1", bus.calls)
	}
}
