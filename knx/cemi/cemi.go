// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"fmt"
	"io"

	"github.com/knxlab/knx-go/knx/util"
)

// MessageCode identifies the kind of cEMI frame.
type MessageCode uint8

// These are the message codes used by the frames this library supports.
const (
	LDataReqCode   MessageCode = 0x11
	LDataConCode   MessageCode = 0x2E
	LDataIndCode   MessageCode = 0x29
	LBusmonIndCode MessageCode = 0x2B

	MPropReadReqCode MessageCode = 0xFC
	MPropReadConCode MessageCode = 0xFB

	MPropWriteReqCode MessageCode = 0xF6
	MPropWriteConCode MessageCode = 0xF5

	MResetReqCode MessageCode = 0xF1
	MResetIndCode MessageCode = 0xF0
)

// Control field 1 flags.
const (
	Control1StdFrame       uint8 = 1 << 7
	Control1NoRepeat       uint8 = 1 << 5
	Control1NoSysBroadcast uint8 = 1 << 4
	Control1WantAck        uint8 = 1 << 1
)

// Control field 2 flags.
const (
	Control2GroupAddr uint8 = 1 << 7
)

// Control2Hops encodes a hop count (0-7) into control field 2, addressing an
// individual destination. Use Control2Hops(n) | Control2GroupAddr for a
// group-addressed frame.
func Control2Hops(hops uint8) uint8 {
	return (hops & 0x7) << 4
}

// Message is implemented by every cEMI frame this library understands.
type Message interface {
	util.Packable
}

// additionalInfo is the (usually empty) block of additional information
// that follows a frame's message code. A malformed or truncated block is
// treated as empty rather than rejected, so a single garbled optional field
// cannot desynchronize the remainder of the frame.
func packAdditionalInfo(buffer []byte, info []byte) uint {
	buffer[0] = byte(len(info))
	copy(buffer[1:], info)
	return uint(1 + len(info))
}

func unpackAdditionalInfo(data []byte) (info []byte, n uint, err error) {
	if len(data) < 1 {
		return nil, 0, io.ErrUnexpectedEOF
	}

	length := int(data[0])
	if length == 0 || len(data) < 1+length {
		return nil, 1, nil
	}

	info = make([]byte, length)
	copy(info, data[1:1+length])

	return info, uint(1 + length), nil
}

// LData is the common payload of all L_Data frames: a link-layer data unit
// addressed from a source to a destination, carrying a transport unit.
//
// A standard frame (Control1's frame-type bit set) merges control field 2
// with the data-length nibble into a single byte following the addresses;
// an extended frame carries both as separate, full-width bytes. See
// unpackRegion/packRegion for the TPCI/APCI region that follows.
type LData struct {
	Info        []byte
	Control1    uint8
	Control2    uint8
	Source      IndividualAddr
	Destination uint16
	Data        TransportUnit
}

// Size returns the packed size of the L_Data payload, excluding the message
// code.
func (ld *LData) Size() uint {
	size := uint(1 + len(ld.Info) + 1)

	if ld.Control1&Control1StdFrame != 0 {
		size += 4 + 1
	} else {
		size += 1 + 4 + 1
	}

	if ld.Data != nil {
		rsize, _ := regionLayout(ld.Data)
		size += rsize
	}

	return size
}

// Pack serializes the L_Data payload into buffer.
func (ld *LData) Pack(buffer []byte) {
	n := packAdditionalInfo(buffer, ld.Info)

	buffer[n] = ld.Control1
	n++

	var dataLen uint8
	if ld.Data != nil {
		_, dataLen = regionLayout(ld.Data)
	}

	if ld.Control1&Control1StdFrame != 0 {
		util.PackSome(buffer[n:], uint16(ld.Source), ld.Destination)
		n += 4

		buffer[n] = (ld.Control2 & 0xF0) | (dataLen & 0xF)
		n++
	} else {
		buffer[n] = ld.Control2
		n++

		util.PackSome(buffer[n:], uint16(ld.Source), ld.Destination)
		n += 4

		buffer[n] = dataLen
		n++
	}

	if ld.Data != nil {
		packRegion(buffer[n:], ld.Data)
	}
}

// Unpack deserializes the L_Data payload from data.
func (ld *LData) Unpack(data []byte) (uint, error) {
	info, n, err := unpackAdditionalInfo(data)
	if err != nil {
		return n, err
	}
	ld.Info = info

	if len(data) < int(n)+1 {
		return n, io.ErrUnexpectedEOF
	}

	ld.Control1 = data[n]
	n++

	var dataLen uint8
	var src, dst uint16

	if ld.Control1&Control1StdFrame != 0 {
		if len(data) < int(n)+5 {
			return n, io.ErrUnexpectedEOF
		}

		m, err := util.UnpackSome(data[n:], &src, &dst)
		if err != nil {
			return n, err
		}
		n += m

		merged := data[n]
		n++

		ld.Control2 = merged & 0xF0
		dataLen = merged & 0xF
	} else {
		if len(data) < int(n)+6 {
			return n, io.ErrUnexpectedEOF
		}

		ld.Control2 = data[n]
		n++

		m, err := util.UnpackSome(data[n:], &src, &dst)
		if err != nil {
			return n, err
		}
		n += m

		dataLen = data[n]
		n++
	}

	ld.Source = IndividualAddr(src)
	ld.Destination = dst

	unit, m, err := unpackRegion(data[n:], dataLen)
	if err != nil {
		return n, err
	}
	ld.Data = unit
	n += m

	return n, nil
}

// IsGroupDestination reports whether control field 2 marks Destination as a
// group address rather than an individual address.
func (ld *LData) IsGroupDestination() bool {
	return ld.Control2&Control2GroupAddr != 0
}

// regionLayout computes the packed size of a transport unit's TPCI/APCI
// region and the data-length value that must be written into the enclosing
// frame's (merged or standalone) length field, without writing anything.
func regionLayout(unit TransportUnit) (size uint, dataLen uint8) {
	switch u := unit.(type) {
	case *ControlConn, *ControlDisc, *ControlAck, *ControlNak, *ControlData:
		return 1, 0

	case *AppData:
		if !u.Command.IsStandardCommand() {
			return uint(2 + len(u.Data)), uint8(len(u.Data))
		}
		if len(u.Data) == 0 {
			return 1, 0
		}
		return uint(1 + len(u.Data)), uint8(len(u.Data))

	default:
		return unit.Size(), 0
	}
}

// controlDataOf extracts the embedded ControlData of a T-level control unit.
func controlDataOf(unit TransportUnit) *ControlData {
	switch u := unit.(type) {
	case *ControlConn:
		return &u.ControlData
	case *ControlDisc:
		return &u.ControlData
	case *ControlAck:
		return &u.ControlData
	case *ControlNak:
		return &u.ControlData
	case *ControlData:
		return u
	default:
		return nil
	}
}

// packRegion writes unit's TPCI/APCI region (the bytes following the
// frame's data-length field) into buffer.
//
// Region byte 0's top bit discriminates T-level control units (Connect,
// Disconnect, Ack, Nak) from application data: control units occupy exactly
// one byte (bit 7 set, numbered flag, 4-bit sequence number, 2-bit command).
// Application data reserves byte 0's bottom two bits for the top two bits of
// the 10-bit APCI; "standard" commands (low 6 APCI bits zero) pack their
// first payload byte's low 6 bits together with the remaining 2 APCI bits
// into byte 1, while "extended" commands dedicate byte 1 entirely to the
// low 8 APCI bits and place payload afterwards, verbatim.
func packRegion(buffer []byte, unit TransportUnit) uint {
	if cd := controlDataOf(unit); cd != nil {
		buffer[0] = 1<<7 | (cd.Command & 0x3)
		if cd.Numbered {
			buffer[0] |= 1<<6 | (cd.SeqNumber&0xF)<<2
		}
		return 1
	}

	app, ok := unit.(*AppData)
	if !ok {
		sz := unit.Size()
		unit.Pack(buffer[:sz])
		return sz
	}

	var b0 byte
	if app.Numbered {
		b0 = 1<<6 | (app.SeqNumber&0xF)<<2
	}
	b0 |= byte(app.Command>>8) & 0x3

	if !app.Command.IsStandardCommand() {
		buffer[0] = b0
		buffer[1] = byte(app.Command & 0xFF)
		copy(buffer[2:], app.Data)
		return uint(2 + len(app.Data))
	}

	buffer[0] = b0
	if len(app.Data) == 0 {
		return 1
	}

	buffer[1] = (byte(app.Command>>6)&0x3)<<6 | (app.Data[0] & 0x3F)
	copy(buffer[2:], app.Data[1:])

	return uint(1 + len(app.Data))
}

// unpackRegion parses a TPCI/APCI region out of data, consuming the whole
// slice. A control unit is always exactly one byte. For application data,
// neither the command's own bit pattern nor its standard/extended class is
// enough on its own to tell a short-APCI frame apart from a long-APCI one
// with the same leading nibble (both occur in practice), so the region's
// total length is matched against dataLen+1 (short) and dataLen+2 (long)
// instead, mirroring packRegion. Callers must pass exactly the bytes that
// belong to this frame; extra trailing bytes would be misread as payload.
func unpackRegion(data []byte, dataLen uint8) (TransportUnit, uint, error) {
	if len(data) < 1 {
		return nil, 0, io.ErrUnexpectedEOF
	}

	b0 := data[0]

	if b0&0x80 != 0 {
		cd := ControlData{
			Numbered:  b0&0x40 != 0,
			SeqNumber: (b0 >> 2) & 0xF,
			Command:   b0 & 0x3,
		}

		switch TPCI(cd.Command) {
		case Connect:
			return TConnect(), 1, nil
		case Disconnect:
			return TDisconnect(), 1, nil
		case Ack:
			return TAck(cd.SeqNumber), 1, nil
		case Nak:
			return TNak(cd.SeqNumber), 1, nil
		default:
			return &cd, 1, nil
		}
	}

	app := &AppData{Numbered: b0&0x40 != 0, SeqNumber: (b0 >> 2) & 0xF}

	switch total := len(data); total {
	case int(dataLen) + 2:
		if total < 2 {
			return nil, 0, io.ErrUnexpectedEOF
		}

		app.Command = APCI(uint16(b0&0x3)<<8 | uint16(data[1]))
		app.Data = make([]byte, dataLen)
		copy(app.Data, data[2:total])

		return app, uint(total), nil

	case int(dataLen) + 1:
		if dataLen == 0 {
			app.Command = APCI(uint16(b0&0x3) << 8)
			return app, 1, nil
		}

		if total < 2 {
			return nil, 0, io.ErrUnexpectedEOF
		}

		app.Command = APCI(uint16(b0&0x3)<<8 | uint16(data[1]&0xC0))
		app.Data = make([]byte, dataLen)
		app.Data[0] = data[1] & 0x3F
		copy(app.Data[1:], data[2:total])

		return app, uint(total), nil

	default:
		return nil, 0, io.ErrUnexpectedEOF
	}
}

// LDataReq is an L_Data.req frame, requesting transmission of a frame onto
// the bus.
type LDataReq struct {
	LData
}

// Unpack deserializes an L_Data.req frame, the message code already consumed.
func (req *LDataReq) Unpack(data []byte) (uint, error) {
	return req.LData.Unpack(data)
}

// LDataCon is an L_Data.con frame, confirming or rejecting a prior
// L_Data.req.
type LDataCon struct {
	LData
}

// Unpack deserializes an L_Data.con frame, the message code already consumed.
func (con *LDataCon) Unpack(data []byte) (uint, error) {
	return con.LData.Unpack(data)
}

// LDataInd is an L_Data.ind frame, indicating a frame received off the bus.
type LDataInd struct {
	LData
}

// Unpack deserializes an L_Data.ind frame, the message code already consumed.
func (ind *LDataInd) Unpack(data []byte) (uint, error) {
	return ind.LData.Unpack(data)
}

// BusmonInd is an L_Busmon.ind frame, a raw bus-monitor capture of a frame
// that passed the bus, including ones with transmission errors.
type BusmonInd struct {
	Info    []byte
	Control uint8
	Payload []byte
}

// Size returns the packed size of the L_Busmon.ind payload, excluding the
// message code.
func (ind *BusmonInd) Size() uint {
	return uint(1 + len(ind.Info) + 1 + len(ind.Payload))
}

// Pack serializes the L_Busmon.ind payload into buffer.
func (ind *BusmonInd) Pack(buffer []byte) {
	n := packAdditionalInfo(buffer, ind.Info)
	buffer[n] = ind.Control
	copy(buffer[n+1:], ind.Payload)
}

// Unpack deserializes the L_Busmon.ind payload from data.
func (ind *BusmonInd) Unpack(data []byte) (uint, error) {
	info, n, err := unpackAdditionalInfo(data)
	if err != nil {
		return n, err
	}
	ind.Info = info

	if len(data) < int(n)+1 {
		return n, io.ErrUnexpectedEOF
	}

	ind.Control = data[n]
	n++

	ind.Payload = make([]byte, len(data)-int(n))
	copy(ind.Payload, data[n:])

	return uint(len(data)), nil
}

// PropertyID identifies an interface object property.
type PropertyID uint8

// ObjectType identifies an interface object type within a device.
type ObjectType uint16

// MPropReadReq is an M_PropRead.req frame, requesting the value of an
// interface object property from the connected device's management server.
type MPropReadReq struct {
	ObjectType     ObjectType
	ObjectInstance uint8
	PropertyID     PropertyID
	Count          uint8
	Start          uint16
}

// Size returns the packed size.
func (MPropReadReq) Size() uint { return 6 }

// Pack serializes the request into buffer.
func (req *MPropReadReq) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint16(req.ObjectType), req.ObjectInstance, uint8(req.PropertyID),
		(req.Count&0xF)<<4|uint8(req.Start>>8)&0xF, uint8(req.Start),
	)
}

// Unpack deserializes the request from data.
func (req *MPropReadReq) Unpack(data []byte) (uint, error) {
	var nElem uint8
	var start uint8

	n, err := util.UnpackSome(
		data,
		(*uint16)(&req.ObjectType), &req.ObjectInstance, (*uint8)(&req.PropertyID),
		&nElem, &start,
	)
	if err != nil {
		return n, err
	}

	req.Count = nElem >> 4
	req.Start = uint16(nElem&0xF)<<8 | uint16(start)

	return n, nil
}

// MPropReadCon is an M_PropRead.con frame, returning the value of a
// requested interface object property, or an empty Data on error.
type MPropReadCon struct {
	ObjectType     ObjectType
	ObjectInstance uint8
	PropertyID     PropertyID
	Count          uint8
	Start          uint16
	Data           []byte
}

// Size returns the packed size.
func (con *MPropReadCon) Size() uint {
	return uint(6 + len(con.Data))
}

// Pack serializes the confirmation into buffer.
func (con *MPropReadCon) Pack(buffer []byte) {
	n := util.PackSome(
		buffer,
		uint16(con.ObjectType), con.ObjectInstance, uint8(con.PropertyID),
		(con.Count&0xF)<<4|uint8(con.Start>>8)&0xF, uint8(con.Start),
	)
	copy(buffer[n:], con.Data)
}

// Unpack deserializes the confirmation from data.
func (con *MPropReadCon) Unpack(data []byte) (uint, error) {
	var nElem uint8
	var start uint8

	n, err := util.UnpackSome(
		data,
		(*uint16)(&con.ObjectType), &con.ObjectInstance, (*uint8)(&con.PropertyID),
		&nElem, &start,
	)
	if err != nil {
		return n, err
	}

	con.Count = nElem >> 4
	con.Start = uint16(nElem&0xF)<<8 | uint16(start)

	con.Data = make([]byte, len(data)-int(n))
	copy(con.Data, data[n:])

	return uint(len(data)), nil
}

// MPropWriteReq is an M_PropWrite.req frame, requesting that an interface
// object property be set to Data.
type MPropWriteReq struct {
	ObjectType     ObjectType
	ObjectInstance uint8
	PropertyID     PropertyID
	Count          uint8
	Start          uint16
	Data           []byte
}

// Size returns the packed size.
func (req *MPropWriteReq) Size() uint {
	return uint(6 + len(req.Data))
}

// Pack serializes the request into buffer.
func (req *MPropWriteReq) Pack(buffer []byte) {
	n := util.PackSome(
		buffer,
		uint16(req.ObjectType), req.ObjectInstance, uint8(req.PropertyID),
		(req.Count&0xF)<<4|uint8(req.Start>>8)&0xF, uint8(req.Start),
	)
	copy(buffer[n:], req.Data)
}

// Unpack deserializes the request from data.
func (req *MPropWriteReq) Unpack(data []byte) (uint, error) {
	var nElem uint8
	var start uint8

	n, err := util.UnpackSome(
		data,
		(*uint16)(&req.ObjectType), &req.ObjectInstance, (*uint8)(&req.PropertyID),
		&nElem, &start,
	)
	if err != nil {
		return n, err
	}

	req.Count = nElem >> 4
	req.Start = uint16(nElem&0xF)<<8 | uint16(start)

	req.Data = make([]byte, len(data)-int(n))
	copy(req.Data, data[n:])

	return uint(len(data)), nil
}

// MPropWriteCon is an M_PropWrite.con frame, confirming (or rejecting, via
// a non-zero Error) a prior M_PropWrite.req.
type MPropWriteCon struct {
	ObjectType     ObjectType
	ObjectInstance uint8
	PropertyID     PropertyID
	Count          uint8
	Start          uint16
	Error          uint8
}

// Size returns the packed size.
func (MPropWriteCon) Size() uint { return 7 }

// Pack serializes the confirmation into buffer.
func (con *MPropWriteCon) Pack(buffer []byte) {
	util.PackSome(
		buffer,
		uint16(con.ObjectType), con.ObjectInstance, uint8(con.PropertyID),
		(con.Count&0xF)<<4|uint8(con.Start>>8)&0xF, uint8(con.Start), con.Error,
	)
}

// Unpack deserializes the confirmation from data.
func (con *MPropWriteCon) Unpack(data []byte) (uint, error) {
	var nElem uint8
	var start uint8

	n, err := util.UnpackSome(
		data,
		(*uint16)(&con.ObjectType), &con.ObjectInstance, (*uint8)(&con.PropertyID),
		&nElem, &start, &con.Error,
	)
	if err != nil {
		return n, err
	}

	con.Count = nElem >> 4
	con.Start = uint16(nElem&0xF)<<8 | uint16(start)

	return n, nil
}

// MResetReq is an M_Reset.req frame, requesting that the connected device
// perform a basic restart.
type MResetReq struct{}

// Size returns the packed size.
func (MResetReq) Size() uint { return 0 }

// Pack serializes the request; M_Reset.req carries no payload.
func (MResetReq) Pack([]byte) {}

// Unpack deserializes the request; M_Reset.req carries no payload.
func (req *MResetReq) Unpack(data []byte) (uint, error) { return 0, nil }

// MResetInd is an M_Reset.ind frame, indicating the connected device has
// reset.
type MResetInd struct{}

// Size returns the packed size.
func (MResetInd) Size() uint { return 0 }

// Pack serializes the indication; M_Reset.ind carries no payload.
func (MResetInd) Pack([]byte) {}

// Unpack deserializes the indication; M_Reset.ind carries no payload.
func (ind *MResetInd) Unpack(data []byte) (uint, error) { return 0, nil }

// Unpack decodes a cEMI frame whose message code has already been consumed,
// constructing the concrete Message type it identifies.
func Unpack(code MessageCode, data []byte) (Message, error) {
	var msg Message

	switch code {
	case LDataReqCode:
		msg = &LDataReq{}
	case LDataConCode:
		msg = &LDataCon{}
	case LDataIndCode:
		msg = &LDataInd{}
	case LBusmonIndCode:
		msg = &BusmonInd{}
	case MPropReadReqCode:
		msg = &MPropReadReq{}
	case MPropReadConCode:
		msg = &MPropReadCon{}
	case MPropWriteReqCode:
		msg = &MPropWriteReq{}
	case MPropWriteConCode:
		msg = &MPropWriteCon{}
	case MResetReqCode:
		msg = &MResetReq{}
	case MResetIndCode:
		msg = &MResetInd{}
	default:
		return nil, fmt.Errorf("cemi: unsupported message code 0x%02x", uint8(code))
	}

	if _, err := msg.Unpack(data); err != nil {
		return nil, err
	}

	return msg, nil
}
