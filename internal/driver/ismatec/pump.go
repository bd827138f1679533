// internal/driver/ismatec/pump.go
package ismatec

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perfusion-service/internal/transport"
)

const responseTimeout = 500 * time.Millisecond

// passFailAttempts bounds resends of a settings command the pump
// answered '#' (or garbage) instead of '*'
const passFailAttempts = 3

// Bus is the addressed command surface pump drivers talk through
type Bus interface {
	Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error)
	Addr() int
	Port() string
}

// pump holds the request/response plumbing shared by the Reglo
// Digital and Reglo ICC drivers: pass/fail settings commands with
// bounded resends, and string queries.
type pump struct {
	bus    Bus
	logger *zap.Logger
}

// sendPassFail issues a settings command. The pump answers one byte:
// '*' accepted, '#' refused. A refusal is resent a bounded number of
// times before surfacing as an error.
func (p *pump) sendPassFail(ctx context.Context, cmd string) error {
	spec := transport.ResponseSpec{Length: 1, Timeout: responseTimeout}
	var rsp []byte
	var err error
	for attempt := 1; attempt <= passFailAttempts; attempt++ {
		rsp, err = p.bus.Command(ctx, []byte(cmd), spec)
		if err != nil {
			return err
		}
		if len(rsp) > 0 && rsp[0] == '*' {
			return nil
		}
		p.logger.Warn("Pump refused command, resending",
			zap.String("command", strings.TrimRight(cmd, "\r")),
			zap.ByteString("response", rsp),
			zap.Int("attempt", attempt),
		)
	}
	if len(rsp) > 0 && rsp[0] == '#' {
		return fmt.Errorf("pump refused command %q after %d attempts",
			strings.TrimRight(cmd, "\r"), passFailAttempts)
	}
	return fmt.Errorf("unrecognized pump response %q to command %q",
		rsp, strings.TrimRight(cmd, "\r"))
}

// query issues a command answered by a line of text and returns it
// trimmed of framing
func (p *pump) query(ctx context.Context, cmd string) (string, error) {
	rsp, err := p.bus.Command(ctx, []byte(cmd), transport.ResponseSpec{Terminator: '\n', Timeout: responseTimeout})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(rsp)), nil
}

// queryByte issues a command answered by a single status byte
func (p *pump) queryByte(ctx context.Context, cmd string) (byte, error) {
	rsp, err := p.bus.Command(ctx, []byte(cmd), transport.ResponseSpec{Length: 1, Timeout: responseTimeout})
	if err != nil {
		return 0, err
	}
	if len(rsp) == 0 {
		return 0, fmt.Errorf("empty pump response to %q", strings.TrimRight(cmd, "\r"))
	}
	return rsp[0], nil
}

// nearestTubingID snaps a requested tubing inner diameter to the
// closest calibrated value
func nearestTubingID(diameter float64) float64 {
	nearest := validTubingIDs[0]
	for _, id := range validTubingIDs {
		if math.Abs(id-diameter) < math.Abs(nearest-diameter) {
			nearest = id
		}
	}
	return nearest
}

// directionParam maps a direction parameter to the rotation command.
// Accepts "cw"/"ccw" and "clockwise"/"counterclockwise".
func directionCommand(direction string, addr int) (string, error) {
	switch strings.ToLower(direction) {
	case "cw", "clockwise":
		return fmt.Sprintf(CMD_CLOCKWISE, addr), nil
	case "ccw", "counterclockwise", "counter-clockwise":
		return fmt.Sprintf(CMD_CNTR_CLCKWS, addr), nil
	}
	return "", fmt.Errorf("direction %q must be cw or ccw", direction)
}

// encodeTubingID renders a tubing diameter as 1/100ths of a mm
func encodeTubingID(diameter float64) string {
	return fmt.Sprintf("%04d", int(diameter*100+0.5))
}

// flowResult packages a decimal rate for a JSON result payload
func flowResult(rate decimal.Decimal) interface{} {
	f, _ := rate.Float64()
	return f
}
