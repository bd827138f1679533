// internal/driver/driver.go
package driver

import (
	"context"

	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

// CommandBus is the addressed request/response surface a driver issues
// commands through. *device.Client satisfies it.
type CommandBus interface {
	Command(ctx context.Context, payload []byte, spec transport.ResponseSpec) ([]byte, error)
	Addr() int
	Port() string
}

// Driver translates device-agnostic operations into the wire protocol
// of one hardware family. Drivers are stateless beyond their bus
// binding and small cached identity data; all serialization onto the
// physical port happens below them in the transport.
type Driver interface {
	// Kind reports the hardware family this driver speaks for
	Kind() model.DeviceKind

	// Ping confirms the device is present and responsive
	Ping(ctx context.Context) error

	// Identify queries device identity (firmware ID, model name)
	Identify(ctx context.Context) (model.JSONObject, error)

	// Execute runs one operation and returns its result payload
	Execute(ctx context.Context, op *model.Operation) (model.JSONObject, error)
}
