// internal/driver/fetbox/fetbox.go
package fetbox

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

// ackAttempts bounds resends of a command the controller answered but
// did not acknowledge. Silent-device timeouts are retried one level
// down by the device client; this covers garbled or rejected commands.
const ackAttempts = 3

const responseTimeout = 300 * time.Millisecond

// Bus is the addressed command surface the driver talks through
type Bus interface {
	Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error)
	Addr() int
	Port() string
}

// Driver speaks the FETbox controller protocol: '@'-prefixed,
// LF-terminated command strings switching MOSFET output channels and
// exposing raw Arduino pin I/O.
type Driver struct {
	bus    Bus
	logger *zap.Logger
}

// New creates a FETbox driver on the given bus
func New(bus Bus, logger *zap.Logger) (*Driver, error) {
	return &Driver{
		bus: bus,
		logger: logger.With(
			zap.String("driver", "fetbox"),
			zap.String("port", bus.Port()),
		),
	}, nil
}

// Kind reports the hardware family
func (d *Driver) Kind() model.DeviceKind {
	return model.DeviceKindFETbox
}

// Ping confirms the controller answers its heartbeat command
func (d *Driver) Ping(ctx context.Context) error {
	return d.sendAck(ctx, CMD_HEARTBEAT)
}

// Identify queries the controller's firmware ID. A FETbox answers the
// ID inquiry with "fetbox<n>"; anything else means the wrong device or
// wrong port settings.
func (d *Driver) Identify(ctx context.Context) (model.JSONObject, error) {
	rsp, err := d.query(ctx, CMD_GET_ID)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(rsp, "fetbox") {
		return nil, fmt.Errorf("device on %s is not a FETbox (got %q)", d.bus.Port(), rsp)
	}
	id, err := strconv.Atoi(rsp[len("fetbox"):])
	if err != nil {
		return nil, fmt.Errorf("malformed FETbox ID response %q: %w", rsp, err)
	}
	return model.JSONObject{"kind": string(model.DeviceKindFETbox), "id": id}, nil
}

// Execute runs one operation against the controller
func (d *Driver) Execute(ctx context.Context, op *model.Operation) (model.JSONObject, error) {
	switch op.Type {
	case model.OperationTypePing:
		return model.JSONObject{"ok": true}, d.Ping(ctx)

	case model.OperationTypeEnableChannel:
		ch, err := channelParam(op.Params)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": ch, "enabled": true}, d.EnableChannel(ctx, ch)

	case model.OperationTypeDisableChannel:
		ch, err := channelParam(op.Params)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": ch, "enabled": false}, d.DisableChannel(ctx, ch)

	case model.OperationTypeSetPWM:
		ch, err := channelParam(op.Params)
		if err != nil {
			return nil, err
		}
		pwm, err := op.Params.Int("pwm")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": ch, "pwm": pwm}, d.SetPWM(ctx, ch, pwm)

	case model.OperationTypeHitHold:
		ch, err := channelParam(op.Params)
		if err != nil {
			return nil, err
		}
		duty, err := op.Params.Float("duty")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": ch, "duty": duty}, d.HitHold(ctx, ch, duty)

	case model.OperationTypeDigitalRead:
		pin, err := digitalPinParam(op.Params)
		if err != nil {
			return nil, err
		}
		val, err := d.DigitalRead(ctx, pin)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"pin": pin, "value": val}, nil

	case model.OperationTypeDigitalWrite:
		pin, err := digitalPinParam(op.Params)
		if err != nil {
			return nil, err
		}
		val, err := op.Params.Int("value")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"pin": pin, "value": val}, d.DigitalWrite(ctx, pin, val)

	case model.OperationTypeAnalogRead:
		pin, err := analogPinParam(op.Params)
		if err != nil {
			return nil, err
		}
		val, err := d.AnalogRead(ctx, pin)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"pin": pin, "value": val}, nil

	case model.OperationTypeAnalogWrite:
		pin, err := op.Params.Int("pin")
		if err != nil {
			return nil, err
		}
		pwm, err := op.Params.Int("pwm")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"pin": pin, "pwm": pwm}, d.AnalogWrite(ctx, pin, pwm)

	case model.OperationTypeRawCommand:
		cmd, err := op.Params.String("command")
		if err != nil {
			return nil, err
		}
		rsp, err := d.query(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"response": rsp}, nil
	}

	return nil, fmt.Errorf("operation %q not supported by FETbox driver", op.Type)
}

// EnableChannel sets a MOSFET output channel HIGH
func (d *Driver) EnableChannel(ctx context.Context, channel int) error {
	if err := validChannel(channel); err != nil {
		return err
	}
	if err := d.sendAck(ctx, fmt.Sprintf(CMD_ENABLE, channel)); err != nil {
		return err
	}
	d.logger.Info("Channel enabled", zap.Int("channel", channel))
	return nil
}

// DisableChannel sets a MOSFET output channel LOW
func (d *Driver) DisableChannel(ctx context.Context, channel int) error {
	if err := validChannel(channel); err != nil {
		return err
	}
	if err := d.sendAck(ctx, fmt.Sprintf(CMD_DISABLE, channel)); err != nil {
		return err
	}
	d.logger.Info("Channel disabled", zap.Int("channel", channel))
	return nil
}

// SetPWM sets an output channel's 8-bit PWM value
func (d *Driver) SetPWM(ctx context.Context, channel, pwm int) error {
	if err := validChannel(channel); err != nil {
		return err
	}
	if pwm < 0 || pwm > 255 {
		return fmt.Errorf("pwm %d out of range 0-255", pwm)
	}
	if err := d.sendAck(ctx, fmt.Sprintf(CMD_PWM, channel, pwm)); err != nil {
		return err
	}
	d.logger.Info("Channel PWM set", zap.Int("channel", channel), zap.Int("pwm", pwm))
	return nil
}

// HitHold drives a channel HIGH briefly, then drops to duty*255 PWM.
// Keeps solenoid valves held open without overheating the coil.
func (d *Driver) HitHold(ctx context.Context, channel int, duty float64) error {
	if err := validChannel(channel); err != nil {
		return err
	}
	if duty < 0 || duty > 1 {
		return fmt.Errorf("duty %v out of range 0.0-1.0", duty)
	}
	hold := int(duty*255 + 0.5)
	if err := d.sendAck(ctx, fmt.Sprintf(CMD_HIT_HOLD, channel, hold)); err != nil {
		return err
	}
	d.logger.Info("Channel hit-and-hold enabled", zap.Int("channel", channel), zap.Float64("duty", duty))
	return nil
}

// DigitalRead reads a pin state, 1 HIGH or 0 LOW
func (d *Driver) DigitalRead(ctx context.Context, pin int) (int, error) {
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_DIGITAL_READ, pin))
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(rsp)
	if err != nil {
		return 0, fmt.Errorf("bad digital read response %q for pin %d: %w", rsp, pin, err)
	}
	return val, nil
}

// DigitalWrite sets a pin HIGH (1) or LOW (0)
func (d *Driver) DigitalWrite(ctx context.Context, pin, value int) error {
	if value != 0 && value != 1 {
		return fmt.Errorf("digital write value %d must be 0 or 1", value)
	}
	return d.sendAck(ctx, fmt.Sprintf(CMD_DIGITAL_WRT, pin, value))
}

// AnalogRead reads a 10-bit analog pin value, 0-1023
func (d *Driver) AnalogRead(ctx context.Context, pin int) (int, error) {
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_ANALOG_READ, pin))
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(rsp)
	if err != nil {
		return 0, fmt.Errorf("bad analog read response %q for pin %d: %w", rsp, pin, err)
	}
	return val, nil
}

// AnalogWrite sets a PWM-capable pin's 8-bit output value
func (d *Driver) AnalogWrite(ctx context.Context, pin, pwm int) error {
	if !pwmPins[pin] {
		return fmt.Errorf("pin %d is not PWM capable", pin)
	}
	if pwm < 0 || pwm > 255 {
		return fmt.Errorf("pwm %d out of range 0-255", pwm)
	}
	if pin != freePWMPin {
		d.logger.Warn("analogWrite to a MOSFET gate pin", zap.Int("pin", pin))
	}
	return d.sendAck(ctx, fmt.Sprintf(CMD_ANALOG_WRT, pin, pwm))
}

// sendAck sends a command that must answer '*', resending on a bad ack
func (d *Driver) sendAck(ctx context.Context, cmd string) error {
	spec := transport.ResponseSpec{Terminator: '\n', Timeout: responseTimeout}
	var rsp []byte
	var err error
	for attempt := 1; attempt <= ackAttempts; attempt++ {
		rsp, err = d.bus.Command(ctx, []byte(cmd), spec)
		if err != nil {
			return err
		}
		if bytes.ContainsRune(rsp, '*') {
			return nil
		}
		d.logger.Warn("Command not acknowledged, resending",
			zap.String("command", strings.TrimRight(cmd, "\n")),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("command %q rejected after %d attempts (last response %q)",
		strings.TrimRight(cmd, "\n"), ackAttempts, rsp)
}

// query sends a command and returns its LF-terminated response trimmed
func (d *Driver) query(ctx context.Context, cmd string) (string, error) {
	rsp, err := d.bus.Command(ctx, []byte(cmd), transport.ResponseSpec{Terminator: '\n', Timeout: responseTimeout})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(rsp)), nil
}

func validChannel(channel int) error {
	if channel < minChannel || channel > maxChannel {
		return fmt.Errorf("channel %d out of range %d-%d", channel, minChannel, maxChannel)
	}
	return nil
}

func channelParam(params model.JSONObject) (int, error) {
	return params.Int("channel")
}

// digitalPinParam accepts a pin number (2-13) or an analog pin name
// (A0-A5); A6/A7 are analog read-only
func digitalPinParam(params model.JSONObject) (int, error) {
	if name, err := params.String("pin"); err == nil {
		pin, ok := analogPinTable[name]
		if !ok || pin > analogPinTable["A5"] {
			return 0, fmt.Errorf("%q is not a digital-capable pin", name)
		}
		return pin, nil
	}
	pin, err := params.Int("pin")
	if err != nil {
		return 0, err
	}
	if pin < 2 || pin > 19 {
		return 0, fmt.Errorf("pin %d is not digital-capable", pin)
	}
	return pin, nil
}

// analogPinParam accepts an analog pin name (A0-A7) or number (14-21)
func analogPinParam(params model.JSONObject) (int, error) {
	if name, err := params.String("pin"); err == nil {
		pin, ok := analogPinTable[name]
		if !ok {
			return 0, fmt.Errorf("%q is not an analog pin (A0-A7)", name)
		}
		return pin, nil
	}
	pin, err := params.Int("pin")
	if err != nil {
		return 0, err
	}
	if pin < 14 || pin > 21 {
		return 0, fmt.Errorf("pin %d is not an analog pin", pin)
	}
	return pin, nil
}
