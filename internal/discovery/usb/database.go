// internal/discovery/usb/database.go
package usb

import (
	"github.com/google/gousb"
)

// AdapterInfo describes a known USB-serial bridge chip. Lab serial
// hardware reaches the host through one of a handful of adapter chips;
// identifying the chip narrows down what is plugged in before any
// serial probing happens.
type AdapterInfo struct {
	Name       string
	Chip       string
	Confidence float64
}

// AdapterDatabase maps USB vendor/product IDs to known serial adapters
type AdapterDatabase struct {
	vendors map[gousb.ID]map[gousb.ID]*AdapterInfo
}

// NewAdapterDatabase creates and populates the adapter database
func NewAdapterDatabase() *AdapterDatabase {
	db := &AdapterDatabase{
		vendors: make(map[gousb.ID]map[gousb.ID]*AdapterInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *AdapterDatabase) initializeDatabase() {
	// FTDI (0x0403): FT232 bridges, used by Ismatec serial cables
	db.vendors[0x0403] = map[gousb.ID]*AdapterInfo{
		0x6001: {Name: "FTDI FT232R", Chip: "FT232R", Confidence: 0.6},
		0x6015: {Name: "FTDI FT231X", Chip: "FT231X", Confidence: 0.6},
	}

	// QinHeng (0x1a86): CH340 bridges, common on Arduino Nano clones
	// used as FETbox controllers
	db.vendors[0x1a86] = map[gousb.ID]*AdapterInfo{
		0x7523: {Name: "QinHeng CH340", Chip: "CH340", Confidence: 0.7},
	}

	// Silicon Labs (0x10c4): CP210x bridges
	db.vendors[0x10c4] = map[gousb.ID]*AdapterInfo{
		0xea60: {Name: "Silicon Labs CP210x", Chip: "CP2102", Confidence: 0.6},
	}

	// Arduino (0x2341): genuine boards with onboard USB
	db.vendors[0x2341] = map[gousb.ID]*AdapterInfo{
		0x0043: {Name: "Arduino Uno R3", Chip: "ATmega16U2", Confidence: 0.7},
		0x7523: {Name: "Arduino Nano", Chip: "ATmega328", Confidence: 0.7},
	}
}

// Lookup identifies a vendor/product pair, nil when unknown
func (db *AdapterDatabase) Lookup(vendor, product gousb.ID) *AdapterInfo {
	products, ok := db.vendors[vendor]
	if !ok {
		return nil
	}
	return products[product]
}
