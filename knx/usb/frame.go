// Licensed under the MIT license which can be found in the LICENSE file.

// Package usb implements the KNX USB Transfer Protocol and its HID report
// framing, and a USB transport that exposes a KNX USB-HID interface as a
// cEMI bus connection.
package usb

import (
	"fmt"

	"github.com/knxlab/knx-go/knx/util"
)

// ReportSize is the fixed size of an outbound HID report.
const ReportSize = 64

// reportID is the only report ID this library sends or accepts.
const reportID uint8 = 0x01

// Package-type bits of a HID report's second byte.
const (
	packetStart uint8 = 0x01
	packetEnd   uint8 = 0x02
)

// maxBodyLen is the largest body chunk a single HID report can carry
// (64 bytes minus reportId, seq/type byte and bodyLen byte).
const maxBodyLen = ReportSize - 3

// ProtocolID identifies the kind of payload carried by a USB Transfer frame.
type ProtocolID uint8

// These are the protocol IDs this library understands.
const (
	ProtocolKNXTunnel              ProtocolID = 0x01
	ProtocolBusAccessServerFeature ProtocolID = 0x0F
)

// EMIID identifies the EMI variant of a USB Transfer frame's body.
type EMIID uint8

// These are the EMI IDs this library understands; only cEMI is supported
// beyond identification.
const (
	EMI1 EMIID = 0x01
	EMI2 EMIID = 0x02
	CEMI EMIID = 0x03
)

// TransferFrame is a decoded USB Transfer Protocol frame: an 8-byte header
// followed by a body whose first byte (for KNX tunnel frames) is the cEMI
// message code.
type TransferFrame struct {
	Protocol         ProtocolID
	EMI              EMIID
	ManufacturerCode uint16
	Body             []byte
}

// Pack assembles the USB Transfer frame (header + body) into buffer, which
// must be at least Size() bytes long.
func (f *TransferFrame) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint8(0x00), uint8(0x08), uint16(len(f.Body)),
		uint8(f.Protocol), uint8(f.EMI), f.ManufacturerCode,
	)
	copy(buffer[8:], f.Body)
}

// Size returns the packed size of the frame.
func (f *TransferFrame) Size() uint {
	return 8 + uint(len(f.Body))
}

// Unpack parses a USB Transfer frame out of data.
func (f *TransferFrame) Unpack(data []byte) (uint, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("usb: transfer frame too short: %d bytes", len(data))
	}

	var version, headerLen, protocol, emi uint8
	var bodyLen uint16

	n, err := util.UnpackSome(
		data,
		&version, &headerLen, &bodyLen,
		&protocol, &emi, &f.ManufacturerCode,
	)
	if err != nil {
		return n, err
	}

	if headerLen != 0x08 {
		return n, fmt.Errorf("usb: unexpected header length %d", headerLen)
	}

	if len(data) < int(n)+int(bodyLen) {
		return n, fmt.Errorf("usb: body shorter than declared length %d", bodyLen)
	}

	f.Protocol = ProtocolID(protocol)
	f.EMI = EMIID(emi)
	f.Body = append([]byte(nil), data[n:uint(n)+uint(bodyLen)]...)

	return uint(n) + uint(bodyLen), nil
}

// packReports splits body into one or more 64-byte HID reports, setting the
// start/end package-type bits appropriately. A single short body still
// produces exactly one report, with both bits set.
func packReports(body []byte) [][]byte {
	if len(body) == 0 {
		body = []byte{}
	}

	var reports [][]byte
	seq := uint8(0)

	for offset := 0; offset == 0 || offset < len(body); {
		end := offset + maxBodyLen
		if end > len(body) {
			end = len(body)
		}
		chunk := body[offset:end]

		var pkgType uint8
		if offset == 0 {
			pkgType |= packetStart
		}
		if end == len(body) {
			pkgType |= packetEnd
		}

		report := make([]byte, ReportSize)
		report[0] = reportID
		report[1] = (seq&0xF)<<4 | (pkgType & 0xF)
		report[2] = byte(len(chunk))
		copy(report[3:], chunk)

		reports = append(reports, report)

		seq++
		offset = end

		if len(body) == 0 {
			break
		}
	}

	return reports
}

// reassembler accumulates HID report bodies into complete USB Transfer
// frame payloads.
type reassembler struct {
	buffer []byte
}

// feed processes one inbound HID report. It returns the assembled body and
// true once a report with the "end" bit has been seen; otherwise it returns
// nil, false. Reports with a report ID other than 0x01 are ignored. A
// report with the "start" bit set discards any partially assembled buffer,
// matching a peer that begins a new packet mid-stream.
func (r *reassembler) feed(report []byte) ([]byte, bool) {
	if len(report) < 3 || report[0] != reportID {
		return nil, false
	}

	pkgType := report[1] & 0xF
	bodyLen := int(report[2])
	if bodyLen > len(report)-3 {
		bodyLen = len(report) - 3
	}
	body := report[3 : 3+bodyLen]

	if pkgType&packetStart != 0 {
		r.buffer = append([]byte(nil), body...)
	} else {
		r.buffer = append(r.buffer, body...)
	}

	if pkgType&packetEnd != 0 {
		assembled := r.buffer
		r.buffer = nil
		return assembled, true
	}

	return nil, false
}
