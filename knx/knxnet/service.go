// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

// ServiceID identifies the payload carried by a KNXnet/IP frame.
type ServiceID uint16

// These are the service identifiers defined by the KNXnet/IP specification
// that this library understands.
const (
	SearchReqService    ServiceID = 0x0201
	SearchResService    ServiceID = 0x0202
	SearchReqExtService ServiceID = 0x020B
	SearchResExtService ServiceID = 0x020C

	DescriptionReqService ServiceID = 0x0203
	DescriptionResService ServiceID = 0x0204

	ConnectReqService ServiceID = 0x0205
	ConnectResService ServiceID = 0x0206

	ConnectionStateReqService ServiceID = 0x0207
	ConnectionStateResService ServiceID = 0x0208

	DisconnectReqService ServiceID = 0x0209
	DisconnectResService ServiceID = 0x020A

	DeviceConfigurationReqService ServiceID = 0x0310
	DeviceConfigurationAckService ServiceID = 0x0311

	TunnelReqService ServiceID = 0x0420
	TunnelResService ServiceID = 0x0421

	RoutingIndService  ServiceID = 0x0530
	RoutingLostService ServiceID = 0x0531
	RoutingBusyService ServiceID = 0x0532
)

// Service is implemented by every KNXnet/IP payload this library supports.
// Service identifies the payload's place in the frame envelope; Packable
// lets the envelope codec size and (de)serialize it generically.
type Service interface {
	Service() ServiceID
	Size() uint
	Pack(buffer []byte)
	Unpack(data []byte) (n uint, err error)
}
