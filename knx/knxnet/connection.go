// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"
	"net"

	"github.com/knxlab/knx-go/knx/util"
)

// ConnTypeCode identifies the kind of logical channel being requested by a
// Connect Request.
type ConnTypeCode uint8

// These are the connection type codes this library supports.
const (
	TunnelConnection     ConnTypeCode = 0x04
	DeviceMgmtConnection ConnTypeCode = 0x03
)

// TunnelLayer identifies the KNX layer exposed by a tunnelling connection.
type TunnelLayer uint8

// These are the tunnelling layers this library supports.
const (
	TunnelLayerData       TunnelLayer = 0x02
	TunnelLayerBusmonitor TunnelLayer = 0x80
)

// ConnReqInfo is a Connection Request Information (CRI) block describing
// the kind of connection being requested.
type ConnReqInfo struct {
	ConnType ConnTypeCode
	Layer    TunnelLayer
}

// Size returns the packed size.
func (ConnReqInfo) Size() uint {
	return 4
}

// Pack assembles the CRI structure in the given buffer.
func (cri ConnReqInfo) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), uint8(cri.ConnType), uint8(cri.Layer), uint8(0))
}

// Unpack parses the given data in order to initialize the CRI structure.
func (cri *ConnReqInfo) Unpack(data []byte) (n uint, err error) {
	var length, connType, layer, reserved uint8

	n, err = util.UnpackSome(data, &length, &connType, &layer, &reserved)
	if err != nil {
		return
	}

	if length != 4 {
		return n, fmt.Errorf("invalid length for CRI structure: got %d, want 4", length)
	}

	cri.ConnType = ConnTypeCode(connType)
	cri.Layer = TunnelLayer(layer)

	return n, nil
}

// NewConnReq creates a new ConnReq for establishing a tunnelling connection
// in the given layer. control and data define where the server should send
// control and data traffic back to.
func NewConnReq(control, data net.Addr, layer TunnelLayer) (*ConnReq, error) {
	controlInfo, err := HostInfoFromAddress(control)
	if err != nil {
		return nil, err
	}

	dataInfo, err := HostInfoFromAddress(data)
	if err != nil {
		return nil, err
	}

	return &ConnReq{
		Control: controlInfo,
		Data:    dataInfo,
		CRI:     ConnReqInfo{ConnType: TunnelConnection, Layer: layer},
	}, nil
}

// A ConnReq opens a new logical connection with a KNXnet/IP server.
type ConnReq struct {
	Control HostInfo
	Data    HostInfo
	CRI     ConnReqInfo
}

// Service returns the service identifier for Connect Request.
func (ConnReq) Service() ServiceID {
	return ConnectReqService
}

// Size returns the packed size.
func (req ConnReq) Size() uint {
	return req.Control.Size() + req.Data.Size() + req.CRI.Size()
}

// Pack assembles the Connect Request structure in the given buffer.
func (req *ConnReq) Pack(buffer []byte) {
	util.PackSome(buffer, req.Control, req.Data, req.CRI)
}

// Unpack parses the given service payload in order to initialize the
// Connect Request structure.
func (req *ConnReq) Unpack(data []byte) (n uint, err error) {
	return util.UnpackSome(data, &req.Control, &req.Data, &req.CRI)
}

// ConnResStatus is the status code returned by a KNXnet/IP server in
// response to a Connect Request.
type ConnResStatus uint8

// These are the connect response status codes this library understands.
const (
	ConnResOk              ConnResStatus = 0x00
	ConnResUnsupportedType ConnResStatus = 0x22
	ConnResUnsupportedOpt  ConnResStatus = 0x23
	ConnResNoMoreConns     ConnResStatus = 0x24
)

// Ok reports whether the status indicates a successful connection.
func (status ConnResStatus) Ok() bool {
	return status == ConnResOk
}

// A ConnRes is the response to a Connect Request.
type ConnRes struct {
	Channel uint8
	Status  ConnResStatus
	Control HostInfo
	CRI     ConnReqInfo
}

// Service returns the service identifier for Connect Response.
func (ConnRes) Service() ServiceID {
	return ConnectResService
}

// Size returns the packed size.
func (res ConnRes) Size() uint {
	size := uint(2)
	if res.Status.Ok() {
		size += res.Control.Size() + res.CRI.Size()
	}
	return size
}

// Pack assembles the Connect Response structure in the given buffer.
func (res *ConnRes) Pack(buffer []byte) {
	n := util.PackSome(buffer, res.Channel, uint8(res.Status))
	if res.Status.Ok() {
		util.PackSome(buffer[n:], res.Control, res.CRI)
	}
}

// Unpack parses the given service payload in order to initialize the
// Connect Response structure.
func (res *ConnRes) Unpack(data []byte) (n uint, err error) {
	var status uint8

	n, err = util.UnpackSome(data, &res.Channel, &status)
	if err != nil {
		return
	}
	res.Status = ConnResStatus(status)

	if res.Status.Ok() {
		var m uint
		m, err = util.UnpackSome(data[n:], &res.Control, &res.CRI)
		n += m
	}

	return n, err
}

// A ConnStateReq requests the status of an established connection
// (heartbeat).
type ConnStateReq struct {
	Channel uint8
	Status  uint8
	Control HostInfo
}

// Service returns the service identifier for Connectionstate Request.
func (ConnStateReq) Service() ServiceID {
	return ConnectionStateReqService
}

// Size returns the packed size.
func (req ConnStateReq) Size() uint {
	return 2 + req.Control.Size()
}

// Pack assembles the Connectionstate Request structure in the given buffer.
func (req *ConnStateReq) Pack(buffer []byte) {
	n := util.PackSome(buffer, req.Channel, req.Status)
	req.Control.Pack(buffer[n:])
}

// Unpack parses the given service payload in order to initialize the
// Connectionstate Request structure.
func (req *ConnStateReq) Unpack(data []byte) (n uint, err error) {
	return util.UnpackSome(data, &req.Channel, &req.Status, &req.Control)
}

// A ConnStateRes reports the status of an established connection.
type ConnStateRes struct {
	Channel uint8
	Status  ConnResStatus
}

// Service returns the service identifier for Connectionstate Response.
func (ConnStateRes) Service() ServiceID {
	return ConnectionStateResService
}

// Size returns the packed size.
func (ConnStateRes) Size() uint { return 2 }

// Pack assembles the Connectionstate Response structure in the given buffer.
func (res *ConnStateRes) Pack(buffer []byte) {
	util.PackSome(buffer, res.Channel, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the
// Connectionstate Response structure.
func (res *ConnStateRes) Unpack(data []byte) (n uint, err error) {
	var status uint8
	n, err = util.UnpackSome(data, &res.Channel, &status)
	res.Status = ConnResStatus(status)
	return n, err
}

// A DiscReq terminates an established connection.
type DiscReq struct {
	Channel uint8
	Status  uint8
	Control HostInfo
}

// Service returns the service identifier for Disconnect Request.
func (DiscReq) Service() ServiceID {
	return DisconnectReqService
}

// Size returns the packed size.
func (req DiscReq) Size() uint {
	return 2 + req.Control.Size()
}

// Pack assembles the Disconnect Request structure in the given buffer.
func (req *DiscReq) Pack(buffer []byte) {
	n := util.PackSome(buffer, req.Channel, req.Status)
	req.Control.Pack(buffer[n:])
}

// Unpack parses the given service payload in order to initialize the
// Disconnect Request structure.
func (req *DiscReq) Unpack(data []byte) (n uint, err error) {
	return util.UnpackSome(data, &req.Channel, &req.Status, &req.Control)
}

// A DiscRes acknowledges termination of a connection.
type DiscRes struct {
	Channel uint8
	Status  uint8
}

// Service returns the service identifier for Disconnect Response.
func (DiscRes) Service() ServiceID {
	return DisconnectResService
}

// Size returns the packed size.
func (DiscRes) Size() uint { return 2 }

// Pack assembles the Disconnect Response structure in the given buffer.
func (res *DiscRes) Pack(buffer []byte) {
	util.PackSome(buffer, res.Channel, res.Status)
}

// Unpack parses the given service payload in order to initialize the
// Disconnect Response structure.
func (res *DiscRes) Unpack(data []byte) (n uint, err error) {
	return util.UnpackSome(data, &res.Channel, &res.Status)
}

// ConnHeader is the 4-byte Connection Header prefixing Tunnelling and
// Device Configuration request/ack service payloads.
type ConnHeader struct {
	Channel  uint8
	SeqNum   uint8
	service  uint8 // fixed to 0 ("reserved") on the wire
}

// Size returns the packed size; always 4.
func (ConnHeader) Size() uint { return 4 }

// Pack assembles the Connection Header in the given buffer.
func (h ConnHeader) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), h.Channel, h.SeqNum, uint8(0))
}

// Unpack parses the given data in order to initialize the Connection Header.
func (h *ConnHeader) Unpack(data []byte) (n uint, err error) {
	var length uint8
	n, err = util.UnpackSome(data, &length, &h.Channel, &h.SeqNum, &h.service)
	if err != nil {
		return
	}
	if length != 4 {
		return n, fmt.Errorf("invalid length for Connection Header: got %d, want 4", length)
	}
	return n, nil
}

// A TunnelReq carries a cEMI frame to or from a KNXnet/IP server over an
// established tunnelling connection.
type TunnelReq struct {
	Header  ConnHeader
	Payload []byte
}

// Service returns the service identifier for Tunnelling Request.
func (TunnelReq) Service() ServiceID {
	return TunnelReqService
}

// Size returns the packed size.
func (req TunnelReq) Size() uint {
	return req.Header.Size() + uint(len(req.Payload))
}

// Pack assembles the Tunnelling Request structure in the given buffer.
func (req *TunnelReq) Pack(buffer []byte) {
	req.Header.Pack(buffer)
	copy(buffer[req.Header.Size():], req.Payload)
}

// Unpack parses the given service payload in order to initialize the
// Tunnelling Request structure.
func (req *TunnelReq) Unpack(data []byte) (n uint, err error) {
	n, err = util.UnpackSome(data, &req.Header)
	if err != nil {
		return
	}
	req.Payload = append([]byte(nil), data[n:]...)
	return uint(len(data)), nil
}

// TunnelAckStatus is the status code returned in a Tunnelling Ack.
type TunnelAckStatus uint8

// Ok reports whether the status indicates successful delivery.
func (status TunnelAckStatus) Ok() bool {
	return status == 0
}

// A TunnelRes acknowledges a TunnelReq.
type TunnelRes struct {
	Header ConnHeader
	Status TunnelAckStatus
}

// Service returns the service identifier for Tunnelling Ack.
func (TunnelRes) Service() ServiceID {
	return TunnelResService
}

// Size returns the packed size.
func (res TunnelRes) Size() uint {
	return res.Header.Size()
}

// Pack assembles the Tunnelling Ack structure in the given buffer.
func (res *TunnelRes) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), res.Header.Channel, res.Header.SeqNum, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the
// Tunnelling Ack structure.
func (res *TunnelRes) Unpack(data []byte) (n uint, err error) {
	var length uint8
	var status uint8
	n, err = util.UnpackSome(data, &length, &res.Header.Channel, &res.Header.SeqNum, &status)
	res.Status = TunnelAckStatus(status)
	return n, err
}

// A DevConfigReq carries an M_* cEMI frame to or from a device's management
// server over an established point-to-point connection.
type DevConfigReq struct {
	Header  ConnHeader
	Payload []byte
}

// Service returns the service identifier for Device Configuration Request.
func (DevConfigReq) Service() ServiceID {
	return DeviceConfigurationReqService
}

// Size returns the packed size.
func (req DevConfigReq) Size() uint {
	return req.Header.Size() + uint(len(req.Payload))
}

// Pack assembles the Device Configuration Request structure in the given
// buffer.
func (req *DevConfigReq) Pack(buffer []byte) {
	req.Header.Pack(buffer)
	copy(buffer[req.Header.Size():], req.Payload)
}

// Unpack parses the given service payload in order to initialize the
// Device Configuration Request structure.
func (req *DevConfigReq) Unpack(data []byte) (n uint, err error) {
	n, err = util.UnpackSome(data, &req.Header)
	if err != nil {
		return
	}
	req.Payload = append([]byte(nil), data[n:]...)
	return uint(len(data)), nil
}

// A DevConfigRes acknowledges a DevConfigReq.
type DevConfigRes struct {
	Header ConnHeader
	Status TunnelAckStatus
}

// Service returns the service identifier for Device Configuration Ack.
func (DevConfigRes) Service() ServiceID {
	return DeviceConfigurationAckService
}

// Size returns the packed size.
func (res DevConfigRes) Size() uint {
	return res.Header.Size()
}

// Pack assembles the Device Configuration Ack structure in the given
// buffer.
func (res *DevConfigRes) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), res.Header.Channel, res.Header.SeqNum, uint8(res.Status))
}

// Unpack parses the given service payload in order to initialize the
// Device Configuration Ack structure.
func (res *DevConfigRes) Unpack(data []byte) (n uint, err error) {
	var length uint8
	var status uint8
	n, err = util.UnpackSome(data, &length, &res.Header.Channel, &res.Header.SeqNum, &status)
	res.Status = TunnelAckStatus(status)
	return n, err
}

// A RoutingInd carries a cEMI frame broadcast over a KNXnet/IP routing
// multicast group.
type RoutingInd struct {
	Payload []byte
}

// Service returns the service identifier for Routing Indication.
func (RoutingInd) Service() ServiceID {
	return RoutingIndService
}

// Size returns the packed size.
func (ind RoutingInd) Size() uint {
	return uint(len(ind.Payload))
}

// Pack assembles the Routing Indication structure in the given buffer.
func (ind *RoutingInd) Pack(buffer []byte) {
	copy(buffer, ind.Payload)
}

// Unpack parses the given service payload in order to initialize the
// Routing Indication structure.
func (ind *RoutingInd) Unpack(data []byte) (n uint, err error) {
	ind.Payload = append([]byte(nil), data...)
	return uint(len(data)), nil
}

// A RoutingLostMessage is broadcast by a router that has had to discard
// frames due to local congestion.
type RoutingLostMessage struct {
	DeviceState uint8
	LostCount   uint16
}

// Service returns the service identifier for Routing Lost Message.
func (RoutingLostMessage) Service() ServiceID {
	return RoutingLostService
}

// Size returns the packed size.
func (RoutingLostMessage) Size() uint { return 4 }

// Pack assembles the Routing Lost Message structure in the given buffer.
func (msg *RoutingLostMessage) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(4), msg.DeviceState, msg.LostCount)
}

// Unpack parses the given service payload in order to initialize the
// Routing Lost Message structure.
func (msg *RoutingLostMessage) Unpack(data []byte) (n uint, err error) {
	var length uint8
	return util.UnpackSome(data, &length, &msg.DeviceState, &msg.LostCount)
}

// A RoutingBusy is broadcast by a router that is temporarily unable to keep
// up with multicast traffic, asking peers to slow down.
type RoutingBusy struct {
	DeviceState  uint8
	WaitTime     uint16
	ControlField uint16
}

// Service returns the service identifier for Routing Busy.
func (RoutingBusy) Service() ServiceID {
	return RoutingBusyService
}

// Size returns the packed size.
func (RoutingBusy) Size() uint { return 6 }

// Pack assembles the Routing Busy structure in the given buffer.
func (msg *RoutingBusy) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(6), msg.DeviceState, msg.WaitTime, msg.ControlField)
}

// Unpack parses the given service payload in order to initialize the
// Routing Busy structure.
func (msg *RoutingBusy) Unpack(data []byte) (n uint, err error) {
	var length uint8
	return util.UnpackSome(data, &length, &msg.DeviceState, &msg.WaitTime, &msg.ControlField)
}
