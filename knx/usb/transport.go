// Licensed under the MIT license which can be found in the LICENSE file.

package usb

import (
	"errors"
	"fmt"
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/util"
)

// ErrNotOpen is returned by operations attempted before Open or after Close.
var ErrNotOpen = errors.New("usb: transport is not open")

// ErrBusmonitor is returned by Send when the transport was opened in
// busmonitor mode, which cannot originate frames.
var ErrBusmonitor = errors.New("usb: cannot send while in busmonitor mode")

// ErrHidError wraps a failure from the underlying HID device, raised during
// Open's init batch or an ordinary read/write.
type ErrHidError struct {
	Op  string
	Err error
}

func (e *ErrHidError) Error() string {
	return fmt.Sprintf("usb: %s: %v", e.Op, e.Err)
}

func (e *ErrHidError) Unwrap() error {
	return e.Err
}

// communication mode values for PID_COMM_MODE, interface object 0x0008.
const (
	dataLinkLayer           uint8 = 0x00
	dataLinkLayerBusmonitor uint8 = 0x01

	commModeObjectType = cemi.ObjectType(0x0008)
	pidCommMode        = cemi.PropertyID(0x34)
)

const initFrameGap = 100 * time.Millisecond

// Transport exposes a KNX USB-HID interface as a cEMI bus connection. Its
// receive loop runs on a goroutine of its own, started by Open; Close, Send
// and ReadProperty run on the caller's goroutine, concurrently with that
// loop, and exchange results with it over channels.
type Transport struct {
	dev         RawHIDDevice
	busmonitor  bool
	recv        chan cemi.Message
	reset       chan struct{}
	propResults chan *cemi.MPropReadCon
	closed      chan struct{}
	reassembler reassembler
}

// Open enumerates dev's known HID devices via enum, selects the one at path
// (or the first recognized KNX interface if path is empty), and performs
// the vendor-specific init batch (reset, set active EMI to cEMI, set
// PID_COMM_MODE). busmonitor selects DataLinkLayerBusmonitor mode.
func Open(enum HIDEnumerator, path string, busmonitor bool) (*Transport, error) {
	devices, err := enum.Enumerate()
	if err != nil {
		return nil, &ErrHidError{Op: "enumerate", Err: err}
	}

	info, ok := SelectDevice(devices, path)
	if !ok {
		return nil, errors.New("usb: no matching KNX HID device found")
	}

	dev, err := enum.Open(info.Path)
	if err != nil {
		return nil, &ErrHidError{Op: "open", Err: err}
	}

	t := &Transport{
		dev:         dev,
		busmonitor:  busmonitor,
		recv:        make(chan cemi.Message),
		reset:       make(chan struct{}),
		propResults: make(chan *cemi.MPropReadCon),
		closed:      make(chan struct{}),
	}

	if err := t.initBatch(); err != nil {
		dev.Close()
		return nil, err
	}

	go t.serve()

	return t, nil
}

// initBatch sends M_Reset.req, a Bus Access Server feature frame selecting
// cEMI as the active EMI, and an M_PropWrite.req setting PID_COMM_MODE,
// waiting initFrameGap between each write. It does not wait for the
// M_PropWrite.con before returning; see the open question on strict
// confirmation recorded alongside this transport.
func (t *Transport) initBatch() error {
	reset := &cemi.MResetReq{}
	if err := t.writeCEMI(cemi.MResetReqCode, reset); err != nil {
		return &ErrHidError{Op: "send reset", Err: err}
	}
	time.Sleep(initFrameGap)

	if err := t.writeBusAccessFeature(); err != nil {
		return &ErrHidError{Op: "select active EMI", Err: err}
	}
	time.Sleep(initFrameGap)

	mode := dataLinkLayer
	if t.busmonitor {
		mode = dataLinkLayerBusmonitor
	}

	write := &cemi.MPropWriteReq{
		ObjectType:     commModeObjectType,
		ObjectInstance: 1,
		PropertyID:     pidCommMode,
		Count:          1,
		Data:           []byte{mode},
	}
	if err := t.writeCEMI(cemi.MPropWriteReqCode, write); err != nil {
		return &ErrHidError{Op: "set comm mode", Err: err}
	}
	time.Sleep(initFrameGap)

	return nil
}

// writeBusAccessFeature sends the Bus-Access-Server Feature-Set frame that
// selects cEMI as the device's active EMI.
func (t *Transport) writeBusAccessFeature() error {
	frame := &TransferFrame{
		Protocol: ProtocolBusAccessServerFeature,
		EMI:      CEMI,
		Body:     []byte{0x01, 0x01, 0x03}, // Set-Value, Active-EMI, cEMI
	}
	return t.writeFrame(frame)
}

// writeCEMI packs a cEMI message and ships it as a KNX-tunnel USB Transfer
// frame.
func (t *Transport) writeCEMI(code cemi.MessageCode, msg cemi.Message) error {
	body := make([]byte, 1+msg.Size())
	body[0] = byte(code)
	msg.Pack(body[1:])

	return t.writeFrame(&TransferFrame{
		Protocol: ProtocolKNXTunnel,
		EMI:      CEMI,
		Body:     body,
	})
}

// writeFrame packs frame into a USB Transfer payload and transmits it as
// one or more HID reports.
func (t *Transport) writeFrame(frame *TransferFrame) error {
	buffer := make([]byte, frame.Size())
	frame.Pack(buffer)

	for _, report := range packReports(buffer) {
		if err := t.dev.Write(report); err != nil {
			return err
		}
	}

	return nil
}

// Send transmits a cEMI L_Data.req frame onto the bus. It is rejected while
// the transport is in busmonitor mode.
func (t *Transport) Send(req *cemi.LDataReq) error {
	select {
	case <-t.closed:
		return ErrNotOpen
	default:
	}

	if t.busmonitor {
		return ErrBusmonitor
	}

	return t.writeCEMI(cemi.LDataReqCode, req)
}

// ReadProperty sends an M_PropRead.req and waits for a matching
// M_PropRead.con, or returns an error on timeout.
func (t *Transport) ReadProperty(req *cemi.MPropReadReq, timeout time.Duration) (*cemi.MPropReadCon, error) {
	select {
	case <-t.closed:
		return nil, ErrNotOpen
	default:
	}

	if err := t.writeCEMI(cemi.MPropReadReqCode, req); err != nil {
		return nil, err
	}

	deadline := time.After(timeout)
	for {
		select {
		case con := <-t.propResults:
			if con.ObjectType != req.ObjectType || con.ObjectInstance != req.ObjectInstance ||
				con.PropertyID != req.PropertyID || con.Start != req.Start {
				continue
			}
			return con, nil
		case <-deadline:
			return nil, errors.New("usb: timed out waiting for M_PropRead.con")
		case <-t.closed:
			return nil, ErrNotOpen
		}
	}
}

// Recv returns the channel on which inbound L_Data.ind and L_Busmon.ind
// cEMI frames are delivered.
func (t *Transport) Recv() <-chan cemi.Message {
	return t.recv
}

// Reset returns the channel on which a notification is delivered every
// time the device reports an M_Reset.ind.
func (t *Transport) Reset() <-chan struct{} {
	return t.reset
}

// Close shuts down the transport and releases the underlying HID device.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.dev.Close()
}

// serve is the transport's receive loop: it reads HID reports, reassembles
// USB Transfer frames, and dispatches their cEMI payload.
func (t *Transport) serve() {
	defer close(t.recv)
	defer close(t.reset)

	for {
		report, err := t.dev.Read()
		if err != nil {
			util.Log(t, "USB read failed, stopping receive loop: %v", err)
			return
		}

		body, complete := t.reassembler.feed(report)
		if !complete {
			continue
		}

		var frame TransferFrame
		if _, err := frame.Unpack(body); err != nil {
			util.Log(t, "Discarding malformed USB Transfer frame: %v", err)
			continue
		}

		if frame.Protocol != ProtocolKNXTunnel || frame.EMI != CEMI || len(frame.Body) < 1 {
			continue
		}

		t.dispatch(cemi.MessageCode(frame.Body[0]), frame.Body[1:])
	}
}

// dispatch decodes one cEMI frame by its message code and routes it to the
// receive channel, the reset channel, or the pending property-read waiter.
func (t *Transport) dispatch(code cemi.MessageCode, payload []byte) {
	switch code {
	case cemi.LDataIndCode, cemi.LBusmonIndCode:
		msg, err := cemi.Unpack(code, payload)
		if err != nil {
			util.Log(t, "Discarding malformed cEMI frame: %v", err)
			return
		}
		t.deliver(msg)

	case cemi.MResetIndCode:
		select {
		case t.reset <- struct{}{}:
		case <-t.closed:
		}

	case cemi.MPropReadConCode:
		msg, err := cemi.Unpack(code, payload)
		if err != nil {
			util.Log(t, "Discarding malformed M_PropRead.con: %v", err)
			return
		}
		select {
		case t.propResults <- msg.(*cemi.MPropReadCon):
		case <-t.closed:
		}

	default:
		util.Log(t, "Ignoring unsupported cEMI message code 0x%02x", uint8(code))
	}
}

func (t *Transport) deliver(msg cemi.Message) {
	select {
	case t.recv <- msg:
	case <-t.closed:
	}
}
