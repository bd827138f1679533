// internal/transport/manager.go
package transport

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"perfusion-service/internal/model"
)

// Manager hands out Transports keyed by port name and guarantees that
// no two Transports bind the same physical endpoint concurrently.
// Multi-drop devices on a shared bus acquire the same Transport; it is
// closed when the last holder releases it.
type Manager struct {
	mu     sync.Mutex
	open   map[string]*managedTransport
	logger *zap.Logger

	// openPort is swapped out in tests
	openPort func(cfg model.SerialPortConfig, logger *zap.Logger) (*Transport, error)
}

type managedTransport struct {
	transport *Transport
	refs      int
}

// NewManager creates an empty transport manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		open:     make(map[string]*managedTransport),
		logger:   logger.With(zap.String("component", "transport_manager")),
		openPort: Open,
	}
}

// Acquire returns the Transport bound to cfg.Port, opening it on first
// use. Later acquirers of the same port share the existing instance;
// their port settings must already agree with the first opener's.
func (m *Manager) Acquire(cfg model.SerialPortConfig) (*Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt, ok := m.open[cfg.Port]; ok {
		existing := mt.transport.config
		if existing.BaudRate != cfg.BaudRate || existing.Parity != cfg.Parity {
			return nil, fmt.Errorf("port %s already open with baud_rate=%d parity=%s",
				cfg.Port, existing.BaudRate, existing.Parity)
		}
		mt.refs++
		m.logger.Debug("Sharing open transport",
			zap.String("port", cfg.Port),
			zap.Int("refs", mt.refs),
		)
		return mt.transport, nil
	}

	t, err := m.openPort(cfg, m.logger)
	if err != nil {
		return nil, err
	}

	m.open[cfg.Port] = &managedTransport{transport: t, refs: 1}
	return t, nil
}

// Release drops one reference to the port's Transport and closes it
// when no holders remain
func (m *Manager) Release(port string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.open[port]
	if !ok {
		return fmt.Errorf("port %s is not open", port)
	}

	mt.refs--
	if mt.refs > 0 {
		return nil
	}

	delete(m.open, port)
	return mt.transport.Close()
}

// CloseAll force-closes every open transport, regardless of refcounts.
// Used at shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for port, mt := range m.open {
		if err := mt.transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.open, port)
	}
	return firstErr
}

// OpenPorts lists the port names with a live Transport
func (m *Manager) OpenPorts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ports := make([]string, 0, len(m.open))
	for port := range m.open {
		ports = append(ports, port)
	}
	return ports
}
