// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"perfusion-service/internal/discovery"
)

// Scanner enumerates USB devices and reports known serial adapter
// chips. It cannot tell which logical device sits behind a bridge, so
// results carry moderate confidence and no port binding; the serial
// scanner does the actual protocol-level identification.
type Scanner struct {
	logger   *zap.Logger
	adapters *AdapterDatabase
}

// NewScanner creates a USB scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:   logger.With(zap.String("scanner", "usb")),
		adapters: NewAdapterDatabase(),
	}
}

// GetScannerType returns the scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable reports whether USB enumeration can run
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	default:
		s.logger.Warn("USB scanning support unknown for OS", zap.String("os", runtime.GOOS))
		return false
	}
}

// Scan enumerates the USB bus for known serial adapters
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var discovered []*discovery.DiscoveredDevice

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		info := s.adapters.Lookup(desc.Vendor, desc.Product)
		if info == nil {
			return false
		}
		s.logger.Info("Known serial adapter found",
			zap.String("adapter", info.Name),
			zap.String("vid", desc.Vendor.String()),
			zap.String("pid", desc.Product.String()),
		)
		discovered = append(discovered, &discovery.DiscoveredDevice{
			ConnectionInfo: map[string]interface{}{
				"adapter":    info.Name,
				"chip":       info.Chip,
				"vendor_id":  desc.Vendor.String(),
				"product_id": desc.Product.String(),
				"bus":        desc.Bus,
				"address":    desc.Address,
			},
			Confidence: info.Confidence,
		})
		// identification only, do not claim the device
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("usb enumeration failed: %w", err)
	}
	for _, dev := range devices {
		dev.Close()
	}

	select {
	case <-ctx.Done():
		return discovered, ctx.Err()
	default:
	}
	return discovered, nil
}
