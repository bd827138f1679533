// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/device"
	"perfusion-service/internal/driver"
	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/model"
	"perfusion-service/internal/repository"
	"perfusion-service/internal/transport"
)

// DeviceService owns the in-memory device registry and the lifecycle
// from registration through serial connection to command execution.
// Devices are process-lifetime state; what persists is run history,
// handled by the schedule service.
type DeviceService struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]*connectedDevice

	transports *transport.Manager
	drivers    *driver.Registry
	events     *eventbus.Bus
	audit      repository.OperationLogRepository
	cfg        *config.Config
	logger     *zap.Logger
}

// connectedDevice pairs the registry record with its live plumbing.
// client and drv are nil while the device is disconnected.
type connectedDevice struct {
	device *model.Device
	client *device.Client
	drv    driver.Driver
}

// RegisterDeviceRequest carries a device registration
type RegisterDeviceRequest struct {
	Name     string           `json:"name" binding:"required"`
	Kind     model.DeviceKind `json:"kind" binding:"required"`
	Address  int              `json:"address"`
	Port     string           `json:"port" binding:"required"`
	BaudRate int              `json:"baud_rate"`
	Timeout  time.Duration    `json:"timeout"`
}

// NewDeviceService creates the device service. audit may be nil when
// the database is disabled.
func NewDeviceService(
	transports *transport.Manager,
	drivers *driver.Registry,
	events *eventbus.Bus,
	audit repository.OperationLogRepository,
	cfg *config.Config,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		devices:    make(map[uuid.UUID]*connectedDevice),
		transports: transports,
		drivers:    drivers,
		events:     events,
		audit:      audit,
		cfg:        cfg,
		logger:     logger.With(zap.String("service", "device")),
	}
}

// RegisterDevice adds a device to the registry in Disconnected state.
// Serial settings omitted from the request fall back to configured
// defaults.
func (ds *DeviceService) RegisterDevice(ctx context.Context, req *RegisterDeviceRequest) (*model.Device, error) {
	if !model.ValidKind(req.Kind) {
		return nil, fmt.Errorf("unknown device kind %q", req.Kind)
	}
	if !ds.drivers.IsSupported(req.Kind) {
		return nil, fmt.Errorf("no driver available for device kind %q", req.Kind)
	}
	if req.Port == "" {
		return nil, fmt.Errorf("port is required")
	}

	portCfg := model.SerialPortConfig{
		Port:     req.Port,
		BaudRate: req.BaudRate,
		DataBits: ds.cfg.Serial.DataBits,
		StopBits: ds.cfg.Serial.StopBits,
		Parity:   ds.cfg.Serial.Parity,
		Timeout:  req.Timeout,
	}
	if portCfg.BaudRate == 0 {
		portCfg.BaudRate = ds.cfg.Serial.BaudRate
	}
	if portCfg.Timeout == 0 {
		portCfg.Timeout = ds.cfg.Serial.Timeout
	}

	now := time.Now()
	dev := &model.Device{
		ID:         uuid.New(),
		Name:       req.Name,
		Kind:       req.Kind,
		Address:    req.Address,
		PortConfig: portCfg,
		Status:     model.DeviceStatusDisconnected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ds.mu.Lock()
	ds.devices[dev.ID] = &connectedDevice{device: dev}
	ds.mu.Unlock()

	ds.logger.Info("Device registered",
		zap.String("device_id", dev.ID.String()),
		zap.String("name", dev.Name),
		zap.String("kind", string(dev.Kind)),
		zap.String("port", dev.PortConfig.Port),
	)
	return dev.Clone(), nil
}

// ConnectDevice opens (or shares) the device's serial transport,
// builds its driver, and verifies identity on the wire
func (ds *DeviceService) ConnectDevice(ctx context.Context, id uuid.UUID) error {
	ds.mu.Lock()
	cd, ok := ds.devices[id]
	if !ok {
		ds.mu.Unlock()
		return fmt.Errorf("device %s not found", id)
	}
	if cd.device.Status == model.DeviceStatusConnected {
		ds.mu.Unlock()
		return nil
	}
	cd.device.Status = model.DeviceStatusConnecting
	portCfg := cd.device.PortConfig
	kind := cd.device.Kind
	addr := cd.device.Address
	ds.mu.Unlock()

	t, err := ds.transports.Acquire(portCfg)
	if err != nil {
		ds.setError(id, err)
		return fmt.Errorf("failed to open port %s: %w", portCfg.Port, err)
	}

	client := device.NewClient(t, addr, ds.cfg.Device.CommandRetries, ds.logger)
	drv, err := ds.drivers.CreateDriver(kind, client, ds.logger)
	if err != nil {
		ds.transports.Release(portCfg.Port)
		ds.setError(id, err)
		return err
	}

	info, err := drv.Identify(ctx)
	if err != nil {
		ds.transports.Release(portCfg.Port)
		ds.setError(id, err)
		return fmt.Errorf("device identification failed: %w", err)
	}

	now := time.Now()
	ds.mu.Lock()
	cd.client = client
	cd.drv = drv
	cd.device.Status = model.DeviceStatusConnected
	cd.device.Identity = info
	cd.device.LastPing = &now
	cd.device.LastError = ""
	cd.device.UpdatedAt = now
	ds.mu.Unlock()

	ds.logger.Info("Device connected",
		zap.String("device_id", id.String()),
		zap.String("port", portCfg.Port),
	)
	ds.publish("device.connected", id, model.JSONObject{"identity": info})
	return nil
}

// DisconnectDevice releases the device's transport reference. The port
// itself stays open while other devices on the same bus still hold it.
func (ds *DeviceService) DisconnectDevice(ctx context.Context, id uuid.UUID) error {
	ds.mu.Lock()
	cd, ok := ds.devices[id]
	if !ok {
		ds.mu.Unlock()
		return fmt.Errorf("device %s not found", id)
	}
	if cd.device.Status != model.DeviceStatusConnected {
		ds.mu.Unlock()
		return nil
	}
	port := cd.device.PortConfig.Port
	cd.client = nil
	cd.drv = nil
	cd.device.Status = model.DeviceStatusDisconnected
	cd.device.UpdatedAt = time.Now()
	ds.mu.Unlock()

	if err := ds.transports.Release(port); err != nil {
		ds.logger.Warn("Transport release failed", zap.String("port", port), zap.Error(err))
	}

	ds.logger.Info("Device disconnected", zap.String("device_id", id.String()))
	ds.publish("device.disconnected", id, nil)
	return nil
}

// DeleteDevice disconnects and removes a device from the registry
func (ds *DeviceService) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	if err := ds.DisconnectDevice(ctx, id); err != nil {
		return err
	}

	ds.mu.Lock()
	delete(ds.devices, id)
	ds.mu.Unlock()

	ds.logger.Info("Device deleted", zap.String("device_id", id.String()))
	return nil
}

// GetDevice returns a copy of the device record
func (ds *DeviceService) GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	cd, ok := ds.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s not found", id)
	}
	return cd.device.Clone(), nil
}

// ListDevices returns copies of all device records, ordered by ID
func (ds *DeviceService) ListDevices(ctx context.Context) []*model.Device {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make([]*model.Device, 0, len(ds.devices))
	for _, cd := range ds.devices {
		out = append(out, cd.device.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].ID.String() < out[b].ID.String()
	})
	return out
}

// ExecuteOperation runs one operation against a connected device
func (ds *DeviceService) ExecuteOperation(ctx context.Context, id uuid.UUID, op *model.Operation) (model.JSONObject, error) {
	ds.mu.RLock()
	cd, ok := ds.devices[id]
	var drv driver.Driver
	var name string
	if ok {
		drv = cd.drv
		name = cd.device.Name
	}
	ds.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("device %s not found", id)
	}
	if drv == nil {
		return nil, fmt.Errorf("device %s is not connected", id)
	}

	opCtx := ctx
	if ds.cfg.Device.OperationTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, ds.cfg.Device.OperationTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := drv.Execute(opCtx, op)
	duration := time.Since(start)

	if err != nil {
		ds.logger.Error("Operation failed",
			zap.String("device_id", id.String()),
			zap.String("operation", string(op.Type)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		var devErr *device.Error
		if errors.As(err, &devErr) {
			// the device went quiet; reflect it in the registry
			ds.setError(id, err)
		}
		ds.publish("operation.failed", id, model.JSONObject{
			"operation": string(op.Type),
			"error":     err.Error(),
		})
		ds.recordOperation(id, name, op, nil, err, duration)
		return nil, err
	}

	now := time.Now()
	ds.mu.Lock()
	cd.device.LastPing = &now
	ds.mu.Unlock()

	ds.logger.Debug("Operation completed",
		zap.String("device_id", id.String()),
		zap.String("operation", string(op.Type)),
		zap.Duration("duration", duration),
	)
	ds.publish("operation.completed", id, model.JSONObject{
		"operation": string(op.Type),
		"result":    result,
	})
	ds.recordOperation(id, name, op, result, nil, duration)
	return result, nil
}

// ListDeviceOperations returns recent audit entries for one device.
// Requires the database.
func (ds *DeviceService) ListDeviceOperations(ctx context.Context, id uuid.UUID, limit int) ([]*model.OperationLog, error) {
	if ds.audit == nil {
		return nil, fmt.Errorf("operation audit requires the database to be enabled")
	}
	if _, err := ds.GetDevice(ctx, id); err != nil {
		return nil, err
	}
	return ds.audit.ListByDevice(ctx, id, limit)
}

// ListRecentOperations returns the latest audit entries across all
// devices. Requires the database.
func (ds *DeviceService) ListRecentOperations(ctx context.Context, limit int) ([]*model.OperationLog, error) {
	if ds.audit == nil {
		return nil, fmt.Errorf("operation audit requires the database to be enabled")
	}
	return ds.audit.ListRecent(ctx, limit)
}

// recordOperation writes one audit entry off the request path. Audit
// failures are logged, never surfaced to the caller.
func (ds *DeviceService) recordOperation(id uuid.UUID, name string, op *model.Operation, result model.JSONObject, opErr error, duration time.Duration) {
	if ds.audit == nil {
		return
	}

	entry := &model.OperationLog{
		DeviceID:      id,
		DeviceName:    name,
		OperationType: op.Type,
		Params:        op.Params,
		Result:        result,
		Success:       opErr == nil,
		DurationMs:    int(duration.Milliseconds()),
	}
	if opErr != nil {
		msg := opErr.Error()
		entry.ErrorMessage = &msg
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ds.audit.Create(writeCtx, entry); err != nil {
			ds.logger.Warn("Failed to record operation audit entry", zap.Error(err))
		}
	}()
}

// PingDevice checks a connected device is still responsive
func (ds *DeviceService) PingDevice(ctx context.Context, id uuid.UUID) error {
	ds.mu.RLock()
	cd, ok := ds.devices[id]
	var drv driver.Driver
	if ok {
		drv = cd.drv
	}
	ds.mu.RUnlock()

	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	if drv == nil {
		return fmt.Errorf("device %s is not connected", id)
	}

	if err := drv.Ping(ctx); err != nil {
		ds.setError(id, err)
		return err
	}

	now := time.Now()
	ds.mu.Lock()
	cd.device.LastPing = &now
	if cd.device.Status == model.DeviceStatusError {
		cd.device.Status = model.DeviceStatusConnected
		cd.device.LastError = ""
	}
	ds.mu.Unlock()
	return nil
}

// RunHeartbeat pings connected devices on the configured interval
// until ctx is cancelled. Run from its own goroutine.
func (ds *DeviceService) RunHeartbeat(ctx context.Context) {
	interval := ds.cfg.Device.HeartbeatInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, dev := range ds.ListDevices(ctx) {
				if dev.Status != model.DeviceStatusConnected && dev.Status != model.DeviceStatusError {
					continue
				}
				if err := ds.PingDevice(ctx, dev.ID); err != nil {
					ds.logger.Warn("Heartbeat failed",
						zap.String("device_id", dev.ID.String()),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// Shutdown disconnects everything and closes all transports
func (ds *DeviceService) Shutdown(ctx context.Context) {
	for _, dev := range ds.ListDevices(ctx) {
		if dev.Status == model.DeviceStatusConnected {
			ds.DisconnectDevice(ctx, dev.ID)
		}
	}
	if err := ds.transports.CloseAll(); err != nil {
		ds.logger.Warn("Transport shutdown error", zap.Error(err))
	}
}

func (ds *DeviceService) setError(id uuid.UUID, err error) {
	ds.mu.Lock()
	if cd, ok := ds.devices[id]; ok {
		cd.device.Status = model.DeviceStatusError
		cd.device.LastError = err.Error()
		cd.device.UpdatedAt = time.Now()
	}
	ds.mu.Unlock()

	ds.publish("device.error", id, model.JSONObject{"error": err.Error()})
}

func (ds *DeviceService) publish(eventType string, id uuid.UUID, data model.JSONObject) {
	payload := map[string]interface{}{"device_id": id.String()}
	for k, v := range data {
		payload[k] = v
	}
	ds.events.Publish(eventbus.Event{
		Type:   eventType,
		Source: "device_service",
		Data:   payload,
	})
}
