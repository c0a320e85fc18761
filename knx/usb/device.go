// Licensed under the MIT license which can be found in the LICENSE file.

package usb

import (
	"io"
	"strings"
)

// RawHIDDevice is the narrow capability interface this package needs from a
// USB HID device: fixed-size report read/write and identity strings used
// during enumeration. Implementations wrap a concrete HID library (or, for
// tests, an in-memory fake); this package never talks to hardware itself.
type RawHIDDevice interface {
	io.Closer

	// Write sends one HID report. report is always exactly ReportSize
	// bytes.
	Write(report []byte) error

	// Read blocks until one inbound HID report is available, or the
	// device is closed.
	Read() ([]byte, error)

	// Path returns the device's platform-specific identity, used for
	// logging and explicit selection.
	Path() string

	// VendorID and ProductID identify the device for matching against
	// the known KNX-USB interface list.
	VendorID() uint16
	ProductID() uint16

	// Product is the device's USB product string, if any.
	Product() string
}

// DeviceInfo describes an enumerated HID device, before it is opened.
type DeviceInfo struct {
	Path      string
	VendorID  uint16
	ProductID uint16
	Product   string
}

// HIDEnumerator discovers candidate HID devices. Implementations wrap the
// host's HID enumeration facility.
type HIDEnumerator interface {
	Enumerate() ([]DeviceInfo, error)
	Open(path string) (RawHIDDevice, error)
}

// knownVendorProduct lists (vendorID, productID) pairs of USB-HID
// interfaces known to speak the KNX USB Transfer Protocol.
var knownVendorProduct = map[[2]uint16]bool{
	{0x147B, 0x5920}: true, // Weinzierl KNX USB Interface
	{0x135E, 0x0030}: true, // MDT KNX USB Interface
	{0x0E77, 0x0111}: true, // GIRA/Jung/Siemens common reference
}

// SelectDevice picks the configured path, or failing that the first
// enumerated device whose vendor/product is known or whose product string
// contains "knx" (case-insensitively).
func SelectDevice(devices []DeviceInfo, path string) (DeviceInfo, bool) {
	if path != "" {
		for _, d := range devices {
			if d.Path == path {
				return d, true
			}
		}
		return DeviceInfo{}, false
	}

	for _, d := range devices {
		if knownVendorProduct[[2]uint16{d.VendorID, d.ProductID}] {
			return d, true
		}
	}

	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Product), "knx") {
			return d, true
		}
	}

	return DeviceInfo{}, false
}
