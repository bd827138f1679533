package fetbox

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

// scriptBus answers each command from a script function and records
// the wire traffic
type scriptBus struct {
	sent   []string
	script func(cmd string) string
}

func (b *scriptBus) Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error) {
	cmd := string(payload)
	b.sent = append(b.sent, cmd)
	return []byte(b.script(cmd)), nil
}

func (b *scriptBus) Addr() int    { return 0 }
func (b *scriptBus) Port() string { return "/dev/ttyUSB0" }

func ackAll(cmd string) string { return "*\r" }

func newTestDriver(t *testing.T, script func(string) string) (*Driver, *scriptBus) {
	t.Helper()
	bus := &scriptBus{script: script}
	d, err := New(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, bus
}

func TestIdentifyParsesControllerID(t *testing.T) {
	d, bus := newTestDriver(t, func(cmd string) string {
		return "fetbox3\r"
	})

	info, err := d.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if info["id"] != 3 {
		t.Fatalf("id = %v, want 3", info["id"])
	}
	if bus.sent[0] != "@#\n" {
		t.Fatalf("wire command = %q", bus.sent[0])
	}
}

func TestIdentifyRejectsForeignDevice(t *testing.T) {
	d, _ := newTestDriver(t, func(cmd string) string {
		return "ELM327 v1.5\r"
	})

	if _, err := d.Identify(context.Background()); err == nil {
		t.Fatal("expected error for a non-FETbox response")
	}
}

func TestChannelCommandWireFormat(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *Driver) error
		want string
	}{
		{"enable", func(d *Driver) error { return d.EnableChannel(context.Background(), 2) }, "@H2\n"},
		{"disable", func(d *Driver) error { return d.DisableChannel(context.Background(), 5) }, "@I5\n"},
		{"pwm", func(d *Driver) error { return d.SetPWM(context.Background(), 1, 64) }, "@S1064\n"},
		{"hit-hold", func(d *Driver) error { return d.HitHold(context.Background(), 3, 0.5) }, "@V3128\n"},
		{"digital write", func(d *Driver) error { return d.DigitalWrite(context.Background(), 7, 1) }, "@E071\n"},
		{"analog write", func(d *Driver) error { return d.AnalogWrite(context.Background(), 11, 200) }, "@B11200\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, bus := newTestDriver(t, ackAll)
			if err := tt.run(d); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if bus.sent[0] != tt.want {
				t.Fatalf("wire = %q, want %q", bus.sent[0], tt.want)
			}
		})
	}
}

func TestChannelRangeValidated(t *testing.T) {
	d, bus := newTestDriver(t, ackAll)

	if err := d.EnableChannel(context.Background(), 0); err == nil {
		t.Fatal("expected error for channel 0")
	}
	if err := d.EnableChannel(context.Background(), 6); err == nil {
		t.Fatal("expected error for channel 6")
	}
	if len(bus.sent) != 0 {
		t.Fatalf("invalid channel reached the wire: %q", bus.sent)
	}
}

func TestBadAckResentThenRejected(t *testing.T) {
	d, bus := newTestDriver(t, func(cmd string) string {
		return "?\r"
	})

	err := d.EnableChannel(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for an unacknowledged command")
	}
	if len(bus.sent) != ackAttempts {
		t.Fatalf("attempts = %d, want %d", len(bus.sent), ackAttempts)
	}
}

func TestBadAckRecoversOnResend(t *testing.T) {
	calls := 0
	d, bus := newTestDriver(t, func(cmd string) string {
		calls++
		if calls == 1 {
			return "?\r"
		}
		return "*\r"
	})

	if err := d.EnableChannel(context.Background(), 1); err != nil {
		t.Fatalf("EnableChannel: %v", err)
	}
	if len(bus.sent) != 2 {
		t.Fatalf("attempts = %d, want 2", len(bus.sent))
	}
}

func TestReadsParseNumericResponses(t *testing.T) {
	d, bus := newTestDriver(t, func(cmd string) string {
		if strings.HasPrefix(cmd, "@A") {
			return "782\r"
		}
		return "1\r"
	})

	analog, err := d.AnalogRead(context.Background(), 14)
	if err != nil {
		t.Fatalf("AnalogRead: %v", err)
	}
	if analog != 782 {
		t.Fatalf("analog = %d, want 782", analog)
	}
	if bus.sent[0] != "@A14\n" {
		t.Fatalf("wire = %q", bus.sent[0])
	}

	digital, err := d.DigitalRead(context.Background(), 7)
	if err != nil {
		t.Fatalf("DigitalRead: %v", err)
	}
	if digital != 1 {
		t.Fatalf("digital = %d, want 1", digital)
	}
}

func TestExecuteResolvesAnalogPinNames(t *testing.T) {
	d, bus := newTestDriver(t, func(cmd string) string {
		return "512\r"
	})

	result, err := d.Execute(context.Background(), &model.Operation{
		Type:   model.OperationTypeAnalogRead,
		Params: model.JSONObject{"pin": "A3"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["value"] != 512 {
		t.Fatalf("value = %v, want 512", result["value"])
	}
	if bus.sent[0] != "@A17\n" {
		t.Fatalf("wire = %q, want pin A3 resolved to 17", bus.sent[0])
	}
}

func TestExecuteRejectsUnknownOperation(t *testing.T) {
	d, _ := newTestDriver(t, ackAll)

	if _, err := d.Execute(context.Background(), &model.Operation{
		Type: model.OperationTypeStartPump,
	}); err == nil {
		t.Fatal("expected error for a pump operation on a FETbox")
	}
}
