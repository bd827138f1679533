// internal/driver/fetbox/commands.go
package fetbox

// Command format strings, LF-terminated. Acknowledged commands answer
// '*'; queries answer an LF-terminated string.
const (
	CMD_GET_ID       = "@#\n"         // controller ID inquiry, answers "fetbox<id>"
	CMD_HEARTBEAT    = "@?\n"         // always answers '*'
	CMD_ENABLE       = "@H%d\n"       // enable channel n, output HIGH
	CMD_DISABLE      = "@I%d\n"       // disable channel n, output LOW
	CMD_PWM          = "@S%d%03d\n"   // channel n PWM 0-255
	CMD_HIT_HOLD     = "@V%d%03d\n"   // hit-and-hold channel n, hold PWM 0-255
	CMD_DIGITAL_READ = "@D%02d\n"     // digitalRead pin
	CMD_DIGITAL_WRT  = "@E%02d%d\n"   // digitalWrite pin, 0/1
	CMD_ANALOG_READ  = "@A%02d\n"     // analogRead pin, answers 0-1023
	CMD_ANALOG_WRT   = "@B%02d%03d\n" // analogWrite pin, PWM 0-255
)

const (
	// MOSFET output channels
	minChannel = 1
	maxChannel = 5

	// Arduino Nano PWM-capable pins; 11 is the only one not routed to
	// a MOSFET gate
	freePWMPin = 11
)

var pwmPins = map[int]bool{3: true, 5: true, 6: true, 9: true, 10: true, 11: true}

// analogPinTable maps analog pin names to Arduino pin numbers.
// A0-A7 map to 14-21; A6/A7 are analog read-only.
var analogPinTable = map[string]int{
	"A0": 14, "A1": 15, "A2": 16, "A3": 17,
	"A4": 18, "A5": 19, "A6": 20, "A7": 21,
}
