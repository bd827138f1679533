// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"perfusion-service/internal/driver/fetbox"
	"perfusion-service/internal/driver/ismatec"
	"perfusion-service/internal/model"
)

// RegisterDefaultDrivers registers all built-in hardware drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register(model.DeviceKindFETbox,
		func(bus CommandBus, logger *zap.Logger) (Driver, error) {
			return fetbox.New(bus, logger)
		})

	registry.Register(model.DeviceKindRegloDigital,
		func(bus CommandBus, logger *zap.Logger) (Driver, error) {
			return ismatec.NewRegloDigital(bus, logger)
		})

	registry.Register(model.DeviceKindRegloICC,
		func(bus CommandBus, logger *zap.Logger) (Driver, error) {
			return ismatec.NewRegloICC(bus, logger)
		})
}
