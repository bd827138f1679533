// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"perfusion-service/internal/device"
	"perfusion-service/internal/discovery"
	"perfusion-service/internal/driver/fetbox"
	"perfusion-service/internal/model"
	"perfusion-service/internal/transport"
)

// Scanner probes serial ports for FETbox controllers by issuing the ID
// inquiry at the controller's fixed baud rate. Pumps are not probed:
// a pump that is mid-run must not receive speculative commands, so
// pump registration stays explicit.
type Scanner struct {
	logger *zap.Logger
	config *Config
}

// Config for the serial scanner
type Config struct {
	BaudRate     int           `json:"baud_rate"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	PortPatterns []string      `json:"port_patterns"`
}

// NewScanner creates a serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{
			BaudRate:     115200,
			ProbeTimeout: 500 * time.Millisecond,
			PortPatterns: defaultPortPatterns(),
		}
	}
	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
	}
}

// GetScannerType returns the scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable reports whether serial scanning can run
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan enumerates serial ports and probes each for a FETbox
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		s.logger.Info("No serial ports found")
		return []*discovery.DiscoveredDevice{}, nil
	}

	s.logger.Info("Scanning serial ports", zap.Strings("ports", ports))

	var discovered []*discovery.DiscoveredDevice
	for _, port := range s.filterPorts(ports) {
		select {
		case <-ctx.Done():
			return discovered, ctx.Err()
		default:
		}

		dev := s.probePort(ctx, port)
		if dev != nil {
			discovered = append(discovered, dev)
		}
	}
	return discovered, nil
}

// probePort opens the port briefly and asks for a FETbox ID. Any
// failure means "not a FETbox", never a scan error.
func (s *Scanner) probePort(ctx context.Context, port string) *discovery.DiscoveredDevice {
	cfg := model.SerialPortConfig{
		Port:     port,
		BaudRate: s.config.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  s.config.ProbeTimeout,
	}

	t, err := transport.Open(cfg, s.logger)
	if err != nil {
		s.logger.Debug("Port not openable", zap.String("port", port), zap.Error(err))
		return nil
	}
	defer t.Close()

	client := device.NewClient(t, 0, 0, s.logger)
	drv, err := fetbox.New(client, s.logger)
	if err != nil {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*s.config.ProbeTimeout)
	defer cancel()

	info, err := drv.Identify(probeCtx)
	if err != nil {
		s.logger.Debug("No FETbox on port", zap.String("port", port))
		return nil
	}

	s.logger.Info("FETbox detected",
		zap.String("port", port),
		zap.Any("id", info["id"]),
	)
	return &discovery.DiscoveredDevice{
		Kind: model.DeviceKindFETbox,
		Port: port,
		ConnectionInfo: map[string]interface{}{
			"baud_rate": s.config.BaudRate,
			"fetbox_id": info["id"],
		},
		Confidence: 0.95,
	}
}

func (s *Scanner) filterPorts(ports []string) []string {
	if len(s.config.PortPatterns) == 0 {
		return ports
	}
	var filtered []string
	for _, port := range ports {
		for _, pattern := range s.config.PortPatterns {
			if strings.Contains(port, pattern) {
				filtered = append(filtered, port)
				break
			}
		}
	}
	return filtered
}

func defaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM"}
	case "darwin":
		return []string{"tty.usb", "cu.usb"}
	default:
		return []string{"ttyUSB", "ttyACM"}
	}
}
