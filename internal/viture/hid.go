package viture

import (
	"fmt"
	"time"

	"github.com/sstallion/go-hid"
)

// Transport is a byte pipe to one HID interface of the glasses. *hid.Device
// satisfies it directly; tests substitute in-memory fakes.
type Transport interface {
	Write(p []byte) (int, error)
	// ReadWithTimeout returns 0 bytes and a nil error when no report
	// arrived within the timeout.
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// OpenFunc resolves and opens one HID interface of a device.
type OpenFunc func(vendor uint16, iface int) (Transport, error)

// openHID walks the HID enumeration for the vendor, matches on the USB
// interface number, and opens the first hit by platform path. The glasses
// expose the MCU command endpoint and the IMU stream as separate interfaces
// of the same device, so product id is not filtered on.
func openHID(vendor uint16, iface int) (Transport, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("viture: hid init: %w", err)
	}
	var path string
	err := hid.Enumerate(vendor, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if path == "" && info.InterfaceNbr == iface {
			path = info.Path
		}
		return nil
	})
	if path == "" {
		if err != nil {
			return nil, fmt.Errorf("viture: enumerate vendor 0x%04X: %w", vendor, err)
		}
		return nil, fmt.Errorf("viture: no HID interface %d for vendor 0x%04X (glasses unplugged?)", iface, vendor)
	}
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("viture: open %s: %w", path, err)
	}
	return dev, nil
}
