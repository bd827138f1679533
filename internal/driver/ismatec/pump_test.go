package ismatec

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

// scriptBus answers each command from a script function and records
// the wire traffic
type scriptBus struct {
	addr   int
	sent   []string
	script func(cmd string) string
}

func (b *scriptBus) Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error) {
	cmd := string(payload)
	b.sent = append(b.sent, cmd)
	return []byte(b.script(cmd)), nil
}

func (b *scriptBus) Addr() int    { return b.addr }
func (b *scriptBus) Port() string { return "/dev/ttyUSB1" }

func passAll(cmd string) string { return "*" }

func TestDigitalStartStopWireFormat(t *testing.T) {
	bus := &scriptBus{addr: 1, script: passAll}
	d, err := NewRegloDigital(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegloDigital: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if bus.sent[0] != "1H\r" || bus.sent[1] != "1I\r" {
		t.Fatalf("wire = %q", bus.sent)
	}
}

func TestDigitalSetFlowRate(t *testing.T) {
	bus := &scriptBus{addr: 1, script: func(cmd string) string {
		if strings.Contains(cmd, "f0122-1") {
			return "12.2 mL/min\r\n"
		}
		return "*"
	}}
	d, _ := NewRegloDigital(bus, zap.NewNop())

	rate, _ := decimal.NewFromString("12.2")
	applied, err := d.SetFlowRate(context.Background(), rate)
	if err != nil {
		t.Fatalf("SetFlowRate: %v", err)
	}
	if !applied.Equal(rate) {
		t.Fatalf("applied = %s, want %s", applied, rate)
	}

	// mL/min mode is set once before the first flow command
	if bus.sent[0] != "1M\r" {
		t.Fatalf("first command = %q, want mode switch", bus.sent[0])
	}
	if bus.sent[1] != "1f0122-1\r" {
		t.Fatalf("flow command = %q", bus.sent[1])
	}

	// a second set must not repeat the mode switch
	if _, err := d.SetFlowRate(context.Background(), rate); err != nil {
		t.Fatalf("second SetFlowRate: %v", err)
	}
	if bus.sent[2] != "1f0122-1\r" {
		t.Fatalf("third command = %q, mode switch repeated", bus.sent[2])
	}
}

func TestDigitalRefusalResentThenFails(t *testing.T) {
	bus := &scriptBus{addr: 2, script: func(cmd string) string { return "#" }}
	d, _ := NewRegloDigital(bus, zap.NewNop())

	err := d.Start(context.Background())
	if err == nil {
		t.Fatal("expected error after repeated refusals")
	}
	if len(bus.sent) != passFailAttempts {
		t.Fatalf("attempts = %d, want %d", len(bus.sent), passFailAttempts)
	}
}

func TestDigitalRunStates(t *testing.T) {
	tests := []struct {
		name string
		rsp  string
		want int
	}{
		{"running", "+", RunStateRunning},
		{"stopped", "-", RunStateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &scriptBus{addr: 1, script: func(cmd string) string { return tt.rsp }}
			d, _ := NewRegloDigital(bus, zap.NewNop())

			state, err := d.RunState(context.Background())
			if err != nil {
				t.Fatalf("RunState: %v", err)
			}
			if state != tt.want {
				t.Fatalf("state = %d, want %d", state, tt.want)
			}
		})
	}
}

func TestDigitalOverloadDetected(t *testing.T) {
	// '#' on the run-state query and a dead name query means the motor
	// tripped overload protection
	bus := &scriptBus{addr: 1}
	bus.script = func(cmd string) string { return "#" }
	d, _ := NewRegloDigital(bus, zap.NewNop())
	d.pump.bus = &failingBus{scriptBus: bus}

	state, err := d.RunState(context.Background())
	if err != nil {
		t.Fatalf("RunState: %v", err)
	}
	if state != RunStateOverload {
		t.Fatalf("state = %d, want %d", state, RunStateOverload)
	}
}

// failingBus answers '#' to single-byte reads and errors on queries
type failingBus struct {
	*scriptBus
}

func (b *failingBus) Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error) {
	if spec.Length == 1 {
		return []byte("#"), nil
	}
	return nil, context.DeadlineExceeded
}

func TestDigitalDisplayTextTruncated(t *testing.T) {
	bus := &scriptBus{addr: 1, script: passAll}
	d, _ := NewRegloDigital(bus, zap.NewNop())

	if err := d.DisplayText(context.Background(), "FLUSHING"); err != nil {
		t.Fatalf("DisplayText: %v", err)
	}
	// remote mode first, then the four-character text
	if bus.sent[0] != "1B\r" {
		t.Fatalf("first command = %q, want remote mode", bus.sent[0])
	}
	if bus.sent[1] != "1DAFLUS\r" {
		t.Fatalf("text command = %q", bus.sent[1])
	}
}

func TestDigitalTubeDiameterSnapped(t *testing.T) {
	bus := &scriptBus{addr: 1, script: passAll}
	d, _ := NewRegloDigital(bus, zap.NewNop())

	applied, err := d.SetTubeDiameter(context.Background(), 1.0)
	if err != nil {
		t.Fatalf("SetTubeDiameter: %v", err)
	}
	if applied != 1.02 {
		t.Fatalf("applied = %v, want 1.02", applied)
	}
	if bus.sent[0] != "1+0102\r" {
		t.Fatalf("wire = %q", bus.sent[0])
	}
}

func TestICCChannelCommandsEnableChannelMode(t *testing.T) {
	bus := &scriptBus{addr: 2, script: passAll}
	d, err := NewRegloICC(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegloICC: %v", err)
	}

	if err := d.StartChannel(context.Background(), 3); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}
	// channel addressing mode first, then channel 3 start addressed to
	// pump 2
	if bus.sent[0] != "2~1\r" {
		t.Fatalf("first command = %q, want channel mode", bus.sent[0])
	}
	if bus.sent[1] != "3H2\r" {
		t.Fatalf("start command = %q", bus.sent[1])
	}

	if err := d.StopChannel(context.Background(), 3); err != nil {
		t.Fatalf("StopChannel: %v", err)
	}
	if bus.sent[2] != "3I2\r" {
		t.Fatalf("stop command = %q, channel mode repeated or wrong frame", bus.sent[2])
	}
}

func TestICCPerChannelFlow(t *testing.T) {
	bus := &scriptBus{addr: 1, script: func(cmd string) string {
		if strings.Contains(cmd, "f00") {
			return "0.57 mL/min\r\n"
		}
		return "*"
	}}
	d, _ := NewRegloICC(bus, zap.NewNop())

	rate, _ := decimal.NewFromString("0.57")
	applied, err := d.SetChannelFlowRate(context.Background(), 2, rate)
	if err != nil {
		t.Fatalf("SetChannelFlowRate: %v", err)
	}
	if !applied.Equal(rate) {
		t.Fatalf("applied = %s, want %s", applied, rate)
	}

	last := bus.sent[len(bus.sent)-1]
	if last != "2f0057-2\r" {
		t.Fatalf("flow command = %q", last)
	}
}

func TestICCExecuteRequiresChannelForFlow(t *testing.T) {
	bus := &scriptBus{addr: 1, script: passAll}
	d, _ := NewRegloICC(bus, zap.NewNop())

	_, err := d.Execute(context.Background(), &model.Operation{
		Type:   model.OperationTypeSetFlowRate,
		Params: model.JSONObject{"rate": 1.5},
	})
	if err == nil {
		t.Fatal("expected error for pump-wide flow on a Reglo ICC")
	}

	_, err = d.Execute(context.Background(), &model.Operation{
		Type:   model.OperationTypeSetFlowRate,
		Params: model.JSONObject{"rate": 1.5, "channel": float64(9)},
	})
	if err == nil {
		t.Fatal("expected error for an out-of-range channel")
	}
}
