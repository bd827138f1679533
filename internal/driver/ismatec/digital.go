// internal/driver/ismatec/digital.go
package ismatec

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

// displayWidthDigital is the Reglo Digital LCD text capacity
const displayWidthDigital = 4

// RegloDigital drives an Ismatec Reglo Digital peristaltic pump over
// its addressed, CR-terminated serial protocol. The pump cannot be
// queried for rotation direction, so the last commanded direction is
// tracked in software.
type RegloDigital struct {
	pump
	addr int

	flowMode bool
	lastDir  string
}

// NewRegloDigital creates a Reglo Digital driver on the given bus
func NewRegloDigital(bus Bus, logger *zap.Logger) (*RegloDigital, error) {
	return &RegloDigital{
		pump: pump{
			bus: bus,
			logger: logger.With(
				zap.String("driver", "reglo_digital"),
				zap.String("port", bus.Port()),
				zap.Int("addr", bus.Addr()),
			),
		},
		addr: bus.Addr(),
	}, nil
}

// Kind reports the hardware family
func (d *RegloDigital) Kind() model.DeviceKind {
	return model.DeviceKindRegloDigital
}

// Ping confirms the pump answers its name query
func (d *RegloDigital) Ping(ctx context.Context) error {
	_, err := d.query(ctx, fmt.Sprintf(CMD_GET_NAME, d.addr))
	return err
}

// Identify queries the pump name and firmware version
func (d *RegloDigital) Identify(ctx context.Context) (model.JSONObject, error) {
	name, err := d.query(ctx, fmt.Sprintf(CMD_GET_NAME, d.addr))
	if err != nil {
		return nil, err
	}
	return model.JSONObject{
		"kind":    string(model.DeviceKindRegloDigital),
		"name":    name,
		"address": d.addr,
	}, nil
}

// Execute runs one operation against the pump
func (d *RegloDigital) Execute(ctx context.Context, op *model.Operation) (model.JSONObject, error) {
	switch op.Type {
	case model.OperationTypePing:
		return model.JSONObject{"ok": true}, d.Ping(ctx)

	case model.OperationTypeStartPump:
		return model.JSONObject{"running": true}, d.Start(ctx)

	case model.OperationTypeStopPump:
		return model.JSONObject{"running": false}, d.Stop(ctx)

	case model.OperationTypeSetFlowRate:
		rate, err := op.Params.Decimal("rate")
		if err != nil {
			return nil, err
		}
		actual, err := d.SetFlowRate(ctx, rate)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"flow_ml_min": flowResult(actual)}, nil

	case model.OperationTypeGetFlowRate:
		rate, err := d.FlowRate(ctx)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"flow_ml_min": flowResult(rate)}, nil

	case model.OperationTypeSetDirection:
		dir, err := op.Params.String("direction")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"direction": dir}, d.SetDirection(ctx, dir)

	case model.OperationTypeGetRunState:
		state, err := d.RunState(ctx)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"run_state": state, "direction": d.lastDir}, nil

	case model.OperationTypeDisplayText:
		text, err := op.Params.String("text")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"text": text}, d.DisplayText(ctx, text)

	case model.OperationTypeRestoreDisplay:
		return model.JSONObject{"restored": true}, d.RestoreDisplay(ctx)

	case model.OperationTypeSetTubeDiameter:
		diameter, err := op.Params.Float("diameter_mm")
		if err != nil {
			return nil, err
		}
		applied, err := d.SetTubeDiameter(ctx, diameter)
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"diameter_mm": applied}, nil

	case model.OperationTypeSetCalFlow:
		rate, err := op.Params.Decimal("rate")
		if err != nil {
			return nil, err
		}
		return model.JSONObject{"cal_flow_ml_min": flowResult(rate)}, d.SetCalFlow(ctx, rate)

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

	return nil, fmt.Errorf("operation %q not supported by Reglo Digital driver", op.Type)
}

// Start runs the pump head
func (d *RegloDigital) Start(ctx context.Context) error {
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_START, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Pump started")
	return nil
}

// Stop halts the pump head
func (d *RegloDigital) Stop(ctx context.Context) error {
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_STOP, d.addr)); err != nil {
		return err
	}
	d.logger.Info("Pump stopped")
	return nil
}

// SetFlowRate sets the flow in mL/min and returns the rate the pump
// actually applied, which can differ from the request by calibration
// rounding
func (d *RegloDigital) SetFlowRate(ctx context.Context, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := d.ensureFlowMode(ctx); err != nil {
		return decimal.Zero, err
	}

	wire, err := EncodeFlow(rate)
	if err != nil {
		return decimal.Zero, err
	}
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_SET_FLOW, d.addr, wire))
	if err != nil {
		return decimal.Zero, err
	}

	applied, err := ParseFlowResponse(rsp)
	if err != nil {
		return decimal.Zero, err
	}
	d.logger.Info("Flow rate set",
		zap.String("requested", rate.String()),
		zap.String("applied", applied.String()),
	)
	return applied, nil
}

// FlowRate queries the current flow in mL/min
func (d *RegloDigital) FlowRate(ctx context.Context) (decimal.Decimal, error) {
	rsp, err := d.query(ctx, fmt.Sprintf(CMD_GET_FLOW, d.addr))
	if err != nil {
		return decimal.Zero, err
	}
	return ParseFlowResponse(rsp)
}

// SetDirection sets the pump head rotation, "cw" or "ccw"
func (d *RegloDigital) SetDirection(ctx context.Context, direction string) error {
	cmd, err := directionCommand(direction, d.addr)
	if err != nil {
		return err
	}
	if err := d.sendPassFail(ctx, cmd); err != nil {
		return err
	}
	d.lastDir = direction
	d.logger.Info("Pump direction set", zap.String("direction", direction))
	return nil
}

// RunState queries whether the pump head is turning. A '#' answer is
// double-checked against the name query; a second refusal means the
// motor tripped its overload protection.
func (d *RegloDigital) RunState(ctx context.Context) (int, error) {
	rsp, err := d.queryByte(ctx, fmt.Sprintf(CMD_RUN_STATE, d.addr))
	if err != nil {
		return RunStateError, err
	}
	switch rsp {
	case '+':
		return RunStateRunning, nil
	case '-':
		return RunStateStopped, nil
	case '#':
		if _, err := d.query(ctx, fmt.Sprintf(CMD_GET_NAME, d.addr)); err != nil {
			return RunStateOverload, nil
		}
		return RunStateError, nil
	}
	return RunStateError, fmt.Errorf("unrecognized run state response %q", rsp)
}

// DisplayText shows up to four characters on the pump LCD, switching
// the control panel to remote mode first
func (d *RegloDigital) DisplayText(ctx context.Context, text string) error {
	if len(text) > displayWidthDigital {
		d.logger.Warn("Display text truncated", zap.String("text", text))
		text = text[:displayWidthDigital]
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_DISP_REMOTE, d.addr)); err != nil {
		return err
	}
	return d.sendPassFail(ctx, fmt.Sprintf(CMD_DISPLAY_TXT, d.addr, text))
}

// RestoreDisplay returns the LCD and control panel to normal mode
func (d *RegloDigital) RestoreDisplay(ctx context.Context) error {
	return d.sendPassFail(ctx, fmt.Sprintf(CMD_DISP_MANUAL, d.addr))
}

// SetTubeDiameter sets the tubing inner diameter the flow calibration
// is computed from, snapped to the nearest calibrated value. Returns
// the diameter actually applied.
func (d *RegloDigital) SetTubeDiameter(ctx context.Context, diameter float64) (float64, error) {
	applied := nearestTubingID(diameter)
	if applied != diameter {
		d.logger.Info("Tubing diameter snapped to nearest calibrated value",
			zap.Float64("requested", diameter),
			zap.Float64("applied", applied),
		)
	}
	cmd := fmt.Sprintf(CMD_SET_TUBE_ID, d.addr, encodeTubingID(applied))
	if err := d.sendPassFail(ctx, cmd); err != nil {
		return 0, err
	}
	return applied, nil
}

// SetCalFlow sets the calibrated volumetric flow at maximum pump speed
func (d *RegloDigital) SetCalFlow(ctx context.Context, rate decimal.Decimal) error {
	wire, err := EncodeFlow(rate)
	if err != nil {
		return err
	}
	return d.sendPassFail(ctx, fmt.Sprintf(CMD_SET_CAL_FLOW, d.addr, wire))
}

// ensureFlowMode switches speed control to mL/min once per driver
// lifetime; the pump powers up in whatever mode it was left in
func (d *RegloDigital) ensureFlowMode(ctx context.Context) error {
	if d.flowMode {
		return nil
	}
	if err := d.sendPassFail(ctx, fmt.Sprintf(CMD_MODE_FLOW, d.addr)); err != nil {
		return err
	}
	d.flowMode = true
	return nil
}
