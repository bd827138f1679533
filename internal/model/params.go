// internal/model/params.go
package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Operation params arrive as decoded JSON, so numbers are float64 and
// everything needs a checked conversion before it reaches a wire
// format string.

// Int extracts an integer parameter
func (o JSONObject) Int(key string) (int, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
}

// IntDefault extracts an integer parameter, falling back when absent
func (o JSONObject) IntDefault(key string, def int) (int, error) {
	if _, ok := o[key]; !ok {
		return def, nil
	}
	return o.Int(key)
}

// String extracts a string parameter
func (o JSONObject) String(key string) (string, error) {
	raw, ok := o[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	return s, nil
}

// Float extracts a float parameter
func (o JSONObject) Float(key string) (float64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
}

// Decimal extracts a decimal parameter from a JSON number or numeric
// string, preserving the caller's digits in the string case
func (o JSONObject) Decimal(key string) (decimal.Decimal, error) {
	raw, ok := o[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("missing parameter %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parameter %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
}
