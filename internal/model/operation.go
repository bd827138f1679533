// internal/model/operation.go
package model

// OperationType represents the type of device operation
type OperationType string

const (
	// FETbox actuator operations
	OperationTypeEnableChannel  OperationType = "ENABLE_CHANNEL"
	OperationTypeDisableChannel OperationType = "DISABLE_CHANNEL"
	OperationTypeSetPWM         OperationType = "SET_PWM"
	OperationTypeHitHold        OperationType = "HIT_HOLD"
	OperationTypeDigitalRead    OperationType = "DIGITAL_READ"
	OperationTypeDigitalWrite   OperationType = "DIGITAL_WRITE"
	OperationTypeAnalogRead     OperationType = "ANALOG_READ"
	OperationTypeAnalogWrite    OperationType = "ANALOG_WRITE"

	// Pump operations (Reglo Digital / Reglo ICC)
	OperationTypeStartPump       OperationType = "START_PUMP"
	OperationTypeStopPump        OperationType = "STOP_PUMP"
	OperationTypeSetFlowRate     OperationType = "SET_FLOW_RATE"
	OperationTypeGetFlowRate     OperationType = "GET_FLOW_RATE"
	OperationTypeSetDirection    OperationType = "SET_DIRECTION"
	OperationTypeGetRunState     OperationType = "GET_RUN_STATE"
	OperationTypeDisplayText     OperationType = "DISPLAY_TEXT"
	OperationTypeRestoreDisplay  OperationType = "RESTORE_DISPLAY"
	OperationTypeSetTubeDiameter OperationType = "SET_TUBE_DIAMETER"
	OperationTypeSetCalFlow      OperationType = "SET_CAL_FLOW"

	// Common
	OperationTypePing       OperationType = "PING"
	OperationTypeRawCommand OperationType = "RAW_COMMAND"
)

// Operation describes a single command to execute against a device.
// Params carry operation-specific arguments (channel numbers, flow
// rates, pin names) keyed by the driver's documented parameter names.
type Operation struct {
	Type   OperationType `json:"type"`
	Params JSONObject    `json:"params,omitempty"`
}
