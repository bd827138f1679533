// internal/model/device.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeviceKind represents the hardware family of a device
type DeviceKind string

const (
	DeviceKindFETbox       DeviceKind = "FETBOX"
	DeviceKindRegloDigital DeviceKind = "REGLO_DIGITAL"
	DeviceKindRegloICC     DeviceKind = "REGLO_ICC"
)

// DeviceStatus represents the current status of a device
type DeviceStatus string

const (
	DeviceStatusConnected    DeviceStatus = "CONNECTED"
	DeviceStatusDisconnected DeviceStatus = "DISCONNECTED"
	DeviceStatusError        DeviceStatus = "ERROR"
	DeviceStatusConnecting   DeviceStatus = "CONNECTING"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// SerialPortConfig identifies one physical serial endpoint and how to drive it
type SerialPortConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// Device represents one piece of perfusion hardware in the registry.
// Several devices may share the same serial port (multi-drop pump bus);
// they are distinguished by Address.
type Device struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Kind       DeviceKind       `json:"kind"`
	Address    int              `json:"address"`
	PortConfig SerialPortConfig `json:"port_config"`
	Status     DeviceStatus     `json:"status"`
	Identity   JSONObject       `json:"identity,omitempty"`
	LastPing   *time.Time       `json:"last_ping,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Clone returns a copy safe to hand outside the registry lock
func (d *Device) Clone() *Device {
	c := *d
	if d.LastPing != nil {
		ping := *d.LastPing
		c.LastPing = &ping
	}
	if d.Identity != nil {
		c.Identity = make(JSONObject, len(d.Identity))
		for k, v := range d.Identity {
			c.Identity[k] = v
		}
	}
	return &c
}

// IsConnected checks if the device currently holds an open transport
func (d *Device) IsConnected() bool {
	return d.Status == DeviceStatusConnected
}

// ValidKind reports whether k names a supported hardware family
func ValidKind(k DeviceKind) bool {
	switch k {
	case DeviceKindFETbox, DeviceKindRegloDigital, DeviceKindRegloICC:
		return true
	}
	return false
}
