// internal/driver/ismatec/commands.go
package ismatec

// Command format strings, CR-terminated, prefixed with the pump (or,
// on the Reglo ICC in channel mode, channel) address. Settings
// commands answer a single byte: '*' pass, '#' fail. Queries answer a
// CR/LF-terminated string.
//
// Reglo Digital manual pp. 33-38; Reglo ICC manual rev. C.
const (
	CMD_START        = "%dH\r"    // start pump rotation
	CMD_STOP         = "%dI\r"    // stop pump rotation
	CMD_CLOCKWISE    = "%dJ\r"    // rotation clockwise
	CMD_CNTR_CLCKWS  = "%dK\r"    // rotation counter-clockwise
	CMD_MODE_RPM     = "%dL\r"    // speed control in RPM mode
	CMD_MODE_FLOW    = "%dM\r"    // speed control in mL/min mode
	CMD_SET_FLOW     = "%df%s\r"  // flow in mL/min, "1f0122-1" = 12.2 mL/min
	CMD_GET_FLOW     = "%df\r"    // current flow in mL/min
	CMD_SET_CAL_FLOW = "%d!%s\r"  // calibrated flow at max RPM
	CMD_GET_CAL_FLOW = "%d!\r"    // query calibrated flow at max RPM
	CMD_SET_TUBE_ID  = "%d+%s\r"  // tubing inner diameter, 1/100 mm
	CMD_DISP_MANUAL  = "%dA\r"    // control panel manual/normal
	CMD_DISP_REMOTE  = "%dB\r"    // control panel remote/disabled
	CMD_DISPLAY_TXT  = "%dDA%s\r" // show text on the LCD
	CMD_GET_NAME     = "%d#\r"    // pump name and firmware version
	CMD_RUN_STATE    = "%dE\r"    // running (+) or stopped (-)

	// Reglo ICC only: per-channel addressing. In channel mode the
	// address slot carries the channel number instead of the pump
	// address.
	CMD_CHAN_MODE        = "%d~%d\r" // address channels (1) or whole pump (0)
	CMD_GET_DIR          = "%dxD\r"  // query rotation direction, J or K
	CMD_CHAN_START       = "%dH%d\r" // [channel]H[pump addr]
	CMD_CHAN_STOP        = "%dI%d\r" // [channel]I[pump addr]
	CMD_CHAN_CLOCKWISE   = "%dJ%d\r" // [channel]J[pump addr]
	CMD_CHAN_CNTR_CLCKWS = "%dK%d\r" // [channel]K[pump addr]
	CMD_CHAN_RUN_STATE   = "%dE%d\r" // [channel]E[pump addr]
)

// Run state query results
const (
	RunStateStopped = 0
	RunStateRunning = 1
	RunStateError   = -1
	// stopped with the motor in overload protection; needs a manual
	// reset on the pump
	RunStateOverload = -2
)

// validTubingIDs lists the tubing inner diameters (mm) the pumps are
// calibrated for
var validTubingIDs = []float64{
	0.13, 0.19, 0.25, 0.38, 0.44, 0.51, 0.57, 0.64, 0.76, 0.89, 0.95,
	1.02, 1.09, 1.14, 1.22, 1.30, 1.42, 1.52, 1.65, 1.75, 1.85, 2.06,
	2.29, 2.54, 2.79, 3.17,
}
