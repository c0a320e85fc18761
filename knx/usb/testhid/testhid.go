// Licensed under the MIT license which can be found in the LICENSE file.

// Package testhid provides an in-memory fake of a USB HID device, for
// testing code built on top of the usb package without real hardware.
package testhid

import (
	"errors"
	"sync"

	"github.com/knxlab/knx-go/knx/usb"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("testhid: device is closed")

// Device is an in-memory usb.RawHIDDevice. Outbound reports written by the
// code under test are captured in Sent; inbound reports can be queued for
// it to read via Feed.
type Device struct {
	info usb.DeviceInfo

	mu     sync.Mutex
	closed bool
	Sent   [][]byte

	inbound chan []byte
}

// New creates a fake device reporting the given identity.
func New(info usb.DeviceInfo) *Device {
	return &Device{
		info:    info,
		inbound: make(chan []byte, 64),
	}
}

// Feed queues a report for the next Read call.
func (d *Device) Feed(report []byte) {
	cp := append([]byte(nil), report...)
	d.inbound <- cp
}

// Write records an outbound report.
func (d *Device) Write(report []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.Sent = append(d.Sent, append([]byte(nil), report...))
	return nil
}

// Read returns the next queued inbound report, blocking until one is fed or
// the device is closed.
func (d *Device) Read() ([]byte, error) {
	report, ok := <-d.inbound
	if !ok {
		return nil, ErrClosed
	}
	return report, nil
}

// Close marks the device closed and unblocks any pending Read.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	close(d.inbound)

	return nil
}

// Path, VendorID, ProductID and Product report the identity New was
// constructed with.
func (d *Device) Path() string      { return d.info.Path }
func (d *Device) VendorID() uint16  { return d.info.VendorID }
func (d *Device) ProductID() uint16 { return d.info.ProductID }
func (d *Device) Product() string   { return d.info.Product }

// Enumerator is a fake usb.HIDEnumerator backed by a fixed device list.
type Enumerator struct {
	Devices map[string]*Device
	list    []usb.DeviceInfo
}

// NewEnumerator creates an Enumerator that will report devices as available
// for enumeration and hand out their *Device on Open.
func NewEnumerator(devices ...*Device) *Enumerator {
	e := &Enumerator{Devices: make(map[string]*Device)}
	for _, d := range devices {
		e.Devices[d.info.Path] = d
		e.list = append(e.list, d.info)
	}
	return e
}

// Enumerate returns the fixed device list.
func (e *Enumerator) Enumerate() ([]usb.DeviceInfo, error) {
	return e.list, nil
}

// Open returns the fake device registered under path.
func (e *Enumerator) Open(path string) (usb.RawHIDDevice, error) {
	d, ok := e.Devices[path]
	if !ok {
		return nil, errors.New("testhid: no such device: " + path)
	}
	return d, nil
}
