// internal/driver/ismatec/icc.go
package ismatec

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

// displayWidthICC is the Reglo ICC LCD text capacity
const displayWidthICC = 15

const defaultICCChannels = 4

// RegloICC drives an Ismatec Reglo ICC multi-channel peristaltic pump.
// The protocol is the Reglo Digital's with one twist: once channel
// addressing is enabled, per-channel commands carry the channel number
// in the address slot and the pump address after the command letter.
type RegloICC struct {
	pump
	addr     int
	channels int

	chanMode bool
	flowMode bool
	lastDir  map[int]string
}

// NewRegloICC creates a Reglo ICC driver on the given bus
func NewRegloICC(bus Bus, logger *zap.Logger) (*RegloICC, error) {
	return &RegloICC{
		pump: pump{
			bus: bus,
			logger: logger.With(
				zap.String("driver", "reglo_icc"),
				zap.String("port", bus.Port()),
				zap.Int("addr", bus.Addr()),
			),
		},
		addr:     bus.Addr(),
		channels: defaultICCChannels,
		lastDir:  make(map[int]string),
	}, nil
}

// Kind reports the hardware family
func (d *RegloICC) Kind() model.DeviceKind {
	return model.DeviceKindRegloICC
}

// Ping confirms the pump answers its name query
func (d *RegloICC) Ping(ctx context.Context) error {
	_, err := d.query(ctx, fmt.Sprintf(CMD_GET_NAME, d.addr))
	return err
}

// Identify queries the pump name and firmware version
func (d *RegloICC) Identify(ctx context.Context) (model.JSONObject, error) {
	name, err := d.query(ctx, fmt.Sprintf(CMD_GET_NAME, d.addr))
	if err != nil {
		return nil, err
	}
	return model.JSONObject{
		"kind":     string(model.DeviceKindRegloICC),
		"name":     name,
		"address":  d.addr,
		"channels": d.channels,
	}, nil
}

// Execute runs one operation against the pump. Pump-wide operations
// omit the "channel" parameter; per-channel variants carry it.
func (d *RegloICC) Execute(ctx context.Context, op *model.Operation) (model.JSONObject, error) {
	channel, err := op.Params.IntDefault("channel", 0)
	if err != nil {
		return nil, err
	}
	if channel != 0 {
		if err := d.validChannel(channel); err != nil {
			return nil, err
		}
	}

	switch op.Type {
	case model.OperationTypePing:
		return model.JSONObject{"ok": true}, d.Ping(ctx)

	case model.OperationTypeStartPump:
		if channel != 0 {
			return model.JSONObject{"channel": channel, "running": true}, d.StartChannel(ctx, channel)
		}
		return model.JSONObject{"running": true}, d.Start(ctx)

	case model.OperationTypeStopPump:
		if channel != 0 {
			return model.JSONObject{"channel": channel, "running": false}, d.StopChannel(ctx, channel)
		}
		return model.JSONObject{"running": false}, d.Stop(ctx)

	case model.OperationTypeSetFlowRate:
		rate, err := op.Params.Decimal("rate")
		if err != nil {
			return nil, err
		}
		if channel == 0 {
			return nil, fmt.Errorf("flow rate on a Reglo ICC is set per channel")
		}
		applied, err := d.SetChannelFlowRate(ctx, channel, rate)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": channel, "flow_ml_min": flowResult(applied)}, nil

	case model.OperationTypeGetFlowRate:
		if channel == 0 {
			return nil, fmt.Errorf("flow rate on a Reglo ICC is queried per channel")
		}
		rate, err := d.ChannelFlowRate(ctx, channel)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"channel": channel, "flow_ml_min": flowResult(rate)}, nil

	case model.OperationTypeSetDirection:
		dir, err := op.Params.String("direction")
		if err != nil {
			return nil, err
		}
		if channel != 0 {
			return model.JSONObject{"channel": channel, "direction": dir}, d.SetChannelDirection(ctx, channel, dir)
		}
		return model.JSONObject{"direction": dir}, d.SetDirection(ctx, dir)

	case model.OperationTypeGetRunState:
		state, err := d.RunState(ctx, channel)
		if err != nil {
			return nil, err
		}
		result := model.JSONObject{"run_state": state}
		if channel != 0 {
			result["channel"] = channel
		}
		return result, nil

	case model.OperationTypeDisplayText:
		text, err := op.Params.String("text")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"text": text}, d.DisplayText(ctx, text)

	case model.OperationTypeRestoreDisplay:
		return model.JSONObject{"restored": true}, d.sendPassFail(ctx, fmt.Sprintf(CMD_DISP_MANUAL, d.addr))

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

	return nil, fmt.Errorf("operation %q not supported by Reglo ICC driver", op.Type)
}

// Start runs every channel with a non-zero flow rate
func (d *RegloICC) Start(ctx context.Context) error {
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_START, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Pump started, all channels")
	return nil
}

// Stop halts every channel
func (d *RegloICC) Stop(ctx context.Context) error {
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_STOP, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Pump stopped, all channels")
	return nil
}

// StartChannel runs a single channel
func (d *RegloICC) StartChannel(ctx context.Context, channel int) error {
	if err := d.ensureChanMode(ctx); err != nil {
		return err
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_CHAN_START, channel, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Channel started", zap.Int("channel", channel))
	return nil
}

// StopChannel halts a single channel
func (d *RegloICC) StopChannel(ctx context.Context, channel int) error {
	if err := d.ensureChanMode(ctx); err != nil {
		return err
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_CHAN_STOP, channel, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Channel stopped", zap.Int("channel", channel))
	return nil
}

// SetChannelFlowRate sets one channel's flow in mL/min and returns the
// rate the pump applied
func (d *RegloICC) SetChannelFlowRate(ctx context.Context, channel int, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := d.ensureChanMode(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := d.ensureFlowMode(ctx); err != nil {
		return decimal.Zero, err
	}

	wire, err := EncodeFlow(rate)
	if err != nil {
		return decimal.Zero, err
	}
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_SET_FLOW, channel, wire))
	if err != nil {
		return decimal.Zero, err
	}
	applied, err := ParseFlowResponse(rsp)
	if err != nil {
		return decimal.Zero, err
	}
	d.logger.Info("Channel flow rate set",
		zap.Int("channel", channel),
		zap.String("requested", rate.String()),
		zap.String("applied", applied.String()),
	)
	return applied, nil
}

// ChannelFlowRate queries one channel's flow in mL/min
func (d *RegloICC) ChannelFlowRate(ctx context.Context, channel int) (decimal.Decimal, error) {
	if err := d.ensureChanMode(ctx); err != nil {
		return decimal.Zero, err
	}
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_GET_FLOW, channel))
	if err != nil {
		return decimal.Zero, err
	}
	return ParseFlowResponse(rsp)
}

// SetDirection sets rotation for the whole pump
func (d *RegloICC) SetDirection(ctx context.Context, direction string) error {
	cmd, err := directionCommand(direction, d.addr)
	if err != nil {
		return err
	}
	if err := d.sendPassFail(ctx, cmd); err != nil {
		return err
	}
	for ch := 1; ch <= d.channels; ch++ {
		d.lastDir[ch] = direction
	}
	return nil
}

// SetChannelDirection sets rotation for one channel
func (d *RegloICC) SetChannelDirection(ctx context.Context, channel int, direction string) error {
	if err := d.ensureChanMode(ctx); err != nil {
		return err
	}
	var cmd string
	switch direction {
	case "cw", "clockwise":
		cmd = fmt.Sprintf(CMD_CHAN_CLOCKWISE, channel, d.addr)
	case "ccw", "counterclockwise", "counter-clockwise":
		cmd = fmt.Sprintf(CMD_CHAN_CNTR_CLCKWS, channel, d.addr)
	default:
		return fmt.Errorf("direction %q must be cw or ccw", direction)
	}
	if err := d.sendPassFail(ctx, cmd); err != nil {
		return err
	}
	d.lastDir[channel] = direction
	return nil
}

// RunState queries run state for one channel, or the whole pump when
// channel is 0
func (d *RegloICC) RunState(ctx context.Context, channel int) (int, error) {
	var cmd string
	if channel == 0 {
		cmd = fmt.Sprintf(CMD_RUN_STATE, d.addr)
	} else {
		if err := d.ensureChanMode(ctx); err != nil {
			return RunStateError, err
		}
		cmd = fmt.Sprintf(CMD_CHAN_RUN_STATE, channel, d.addr)
	}

	rsp, err := d.queryByte(ctx, cmd)
	if err != nil {
		return RunStateError, err
	}
	switch rsp {
	case '+':
		return RunStateRunning, nil
	case '-':
		return RunStateStopped, nil
	}
	return RunStateError, fmt.Errorf("unrecognized run state response %q", rsp)
}

// DisplayText shows text on the pump LCD, switching the control panel
// to remote mode first
func (d *RegloICC) DisplayText(ctx context.Context, text string) error {
	if len(text) > displayWidthICC {
		d.logger.Warn("Display text truncated", zap.String("text", text))
		text = text[:displayWidthICC]
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_DISP_REMOTE, d.addr)); err != nil {
		return err
	}
	return d.sendPassFail(ctx, fmt.Sprintf(CMD_DISPLAY_TXT, d.addr, text))
}

// ensureChanMode enables per-channel addressing once per driver
// lifetime
func (d *RegloICC) ensureChanMode(ctx context.Context) error {
	if d.chanMode {
		return nil
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_CHAN_MODE, d.addr, 1)); err != nil {
		return err
	}
	d.chanMode = true
	return nil
}

// ensureFlowMode switches speed control to mL/min once per driver
// lifetime
func (d *RegloICC) ensureFlowMode(ctx context.Context) error {
	if d.flowMode {
		return nil
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_MODE_FLOW, d.addr)); err != nil {
		return err
	}
	d.flowMode = true
	return nil
}

func (d *RegloICC) validChannel(channel int) error {
	if channel < 1 || channel > d.channels {
		return fmt.Errorf("channel %d out of range 1-%d", channel, d.channels)
	}
	return nil
}
