// internal/driver/registry.go
package driver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

// Factory creates a driver bound to a command bus
type Factory func(bus CommandBus, logger *zap.Logger) (Driver, error)

// Registry manages device driver registration and creation
type Registry struct {
	drivers map[model.DeviceKind]Factory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[model.DeviceKind]Factory),
		logger:  logger,
	}
}

// Register registers a driver factory for a hardware family
func (r *Registry) Register(kind model.DeviceKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[kind] = factory
	r.logger.Info("Driver registered", zap.String("kind", string(kind)))
}

// CreateDriver creates a driver instance for the device kind
func (r *Registry) CreateDriver(kind model.DeviceKind, bus CommandBus, logger *zap.Logger) (Driver, error) {
	r.mu.RLock()
	factory, exists := r.drivers[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no driver registered for device kind %q", kind)
	}
	return factory(bus, logger)
}

// IsSupported checks whether a device kind has a registered driver
func (r *Registry) IsSupported(kind model.DeviceKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.drivers[kind]
	return exists
}

// SupportedKinds lists the device kinds with registered drivers
func (r *Registry) SupportedKinds() []model.DeviceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]model.DeviceKind, 0, len(r.drivers))
	for kind := range r.drivers {
		kinds = append(kinds, kind)
	}
	return kinds
}
