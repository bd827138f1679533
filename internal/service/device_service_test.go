package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/config"
	"perfusion-service/internal/driver"
	"perfusion-service/internal/eventbus"
	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{
			BaudRate: 115200,
			DataBits: 8,
			StopBits: 1,
			Parity:   "none",
			Timeout:  time.Second,
		},
		Device: config.DeviceConfig{
			CommandRetries:   2,
			OperationTimeout: time.Second,
		},
	}
}

func newTestDeviceService(t *testing.T) *DeviceService {
	t.Helper()
	logger := zap.NewNop()
	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)
	bus := eventbus.New(logger)
	return NewDeviceService(transport.NewManager(logger), registry, bus, nil, testConfig(), logger)
}

func TestRegisterDeviceAppliesSerialDefaults(t *testing.T) {
	ds := newTestDeviceService(t)

	dev, err := ds.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "media pump",
		Kind: model.DeviceKindRegloDigital,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if dev.Status != model.DeviceStatusDisconnected {
		t.Fatalf("status = %s, want DISCONNECTED", dev.Status)
	}
	if dev.PortConfig.BaudRate != 115200 {
		t.Fatalf("baud rate = %d, want default 115200", dev.PortConfig.BaudRate)
	}
	if dev.PortConfig.Timeout != time.Second {
		t.Fatalf("timeout = %s, want default 1s", dev.PortConfig.Timeout)
	}
}

func TestRegisterDeviceValidation(t *testing.T) {
	ds := newTestDeviceService(t)

	tests := []struct {
		name string
		req  RegisterDeviceRequest
	}{
		{"unknown kind", RegisterDeviceRequest{Name: "x", Kind: "TOASTER", Port: "/dev/ttyUSB0"}},
		{"missing port", RegisterDeviceRequest{Name: "x", Kind: model.DeviceKindFETbox}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ds.RegisterDevice(context.Background(), &tt.req); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestGetDeviceReturnsCopy(t *testing.T) {
	ds := newTestDeviceService(t)

	dev, err := ds.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "valve box",
		Kind: model.DeviceKindFETbox,
		Port: "/dev/ttyACM0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	got, err := ds.GetDevice(context.Background(), dev.ID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}

	// mutating the returned record must not touch the registry
	got.Name = "changed"
	again, _ := ds.GetDevice(context.Background(), dev.ID)
	if again.Name != "valve box" {
		t.Fatalf("registry record mutated through returned copy: %q", again.Name)
	}
}

func TestListDevicesOrderedByID(t *testing.T) {
	ds := newTestDeviceService(t)

	for i := 0; i < 5; i++ {
		if _, err := ds.RegisterDevice(context.Background(), &RegisterDeviceRequest{
			Name: "dev",
			Kind: model.DeviceKindFETbox,
			Port: "/dev/ttyACM0",
		}); err != nil {
			t.Fatalf("RegisterDevice: %v", err)
		}
	}

	devices := ds.ListDevices(context.Background())
	if len(devices) != 5 {
		t.Fatalf("got %d devices, want 5", len(devices))
	}
	for i := 1; i < len(devices); i++ {
		if devices[i-1].ID.String() >= devices[i].ID.String() {
			t.Fatalf("devices not ordered by ID at index %d", i)
		}
	}
}

func TestExecuteOperationRequiresConnection(t *testing.T) {
	ds := newTestDeviceService(t)

	dev, err := ds.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloICC,
		Port: "/dev/ttyUSB1",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	op := &model.Operation{Type: model.OperationTypeStartPump}
	if _, err := ds.ExecuteOperation(context.Background(), dev.ID, op); err == nil {
		t.Fatal("expected error executing against disconnected device")
	}
}

func TestDeviceNotFound(t *testing.T) {
	ds := newTestDeviceService(t)
	missing := uuid.New()

	if _, err := ds.GetDevice(context.Background(), missing); err == nil {
		t.Fatal("GetDevice: expected error for unknown device")
	}
	if err := ds.ConnectDevice(context.Background(), missing); err == nil {
		t.Fatal("ConnectDevice: expected error for unknown device")
	}
	if err := ds.PingDevice(context.Background(), missing); err == nil {
		t.Fatal("PingDevice: expected error for unknown device")
	}
}

func TestDeleteDeviceRemovesRegistration(t *testing.T) {
	ds := newTestDeviceService(t)

	dev, err := ds.RegisterDevice(context.Background(), &RegisterDeviceRequest{
		Name: "pump",
		Kind: model.DeviceKindRegloDigital,
		Port: "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	if err := ds.DeleteDevice(context.Background(), dev.ID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := ds.GetDevice(context.Background(), dev.ID); err == nil {
		t.Fatal("device still present after delete")
	}
}
