// internal/driver/ismatec/flow.go
package ismatec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Flow rates cross the wire as a 4-digit mantissa and a signed
// single-digit power-of-ten exponent: "0122-1" is 122 x 10^-1, i.e.
// 12.2 mL/min.

var flowTen = big.NewInt(10)

// EncodeFlow renders a flow rate in the pump's mantissa/exponent wire
// format. Rates with more than four significant digits are truncated.
func EncodeFlow(rate decimal.Decimal) (string, error) {
	if rate.Sign() <= 0 {
		return "", fmt.Errorf("flow rate must be positive, got %s", rate)
	}

	mantissa := rate.Coefficient()
	exponent := int(rate.Exponent())
	for mantissa.Cmp(big.NewInt(9999)) > 0 {
		mantissa.Quo(mantissa, flowTen)
		exponent++
	}
	if exponent < -9 || exponent > 9 {
		return "", fmt.Errorf("flow rate %s out of representable range", rate)
	}
	return fmt.Sprintf("%04d%+d", mantissa.Int64(), exponent), nil
}

// DecodeFlow parses the mantissa/exponent wire format back into a
// decimal flow rate
func DecodeFlow(wire string) (decimal.Decimal, error) {
	if len(wire) != 6 {
		return decimal.Zero, fmt.Errorf("flow encoding %q must be 6 characters", wire)
	}
	mantissa, err := strconv.ParseInt(wire[:4], 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad flow mantissa in %q: %w", wire, err)
	}
	exponent, err := strconv.ParseInt(wire[4:], 10, 32)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad flow exponent in %q: %w", wire, err)
	}
	return decimal.New(mantissa, int32(exponent)), nil
}

// ParseFlowResponse parses a flow query response, which some firmware
// revisions suffix with the unit
func ParseFlowResponse(rsp string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(rsp, "mL/min", ""))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad flow response %q: %w", rsp, err)
	}
	return d, nil
}
