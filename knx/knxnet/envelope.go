// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"errors"
	"fmt"

	"github.com/knxlab/knx-go/knx/util"
)

const (
	headerSize    uint8 = 0x06
	protocolVer10 uint8 = 0x10
)

// Errors returned while parsing a KNXnet/IP frame envelope.
var (
	ErrHeaderSize  = errors.New("knxnet: invalid header size")
	ErrHeaderVer   = errors.New("knxnet: unsupported protocol version")
	ErrLengthShort = errors.New("knxnet: total length is shorter than the envelope")
)

// Pack wraps a Service's payload in the 6-byte KNXnet/IP frame header and
// returns the complete datagram.
func Pack(svc Service) []byte {
	total := uint16(6) + uint16(svc.Size())

	buffer := make([]byte, total)
	util.PackSome(buffer, headerSize, protocolVer10, uint16(svc.Service()), total)
	svc.Pack(buffer[6:])

	return buffer
}

// Unpack parses a KNXnet/IP frame header from data, returning the service
// identifier and the payload slice that follows it.
func Unpack(data []byte) (id ServiceID, payload []byte, err error) {
	if len(data) < 6 {
		return 0, nil, ErrLengthShort
	}

	hlen := uint16(data[0])
	ver := uint16(data[1])
	svcID := uint16(data[2])<<8 | uint16(data[3])
	total := uint16(data[4])<<8 | uint16(data[5])

	if hlen != uint16(headerSize) {
		return 0, nil, ErrHeaderSize
	}

	if ver != uint16(protocolVer10) {
		return 0, nil, ErrHeaderVer
	}

	if total < uint16(headerSize) {
		return 0, nil, fmt.Errorf("%w: declared %d", ErrLengthShort, total)
	}

	if int(total) > len(data) {
		return 0, nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthShort, total, len(data))
	}

	return ServiceID(svcID), data[6:total], nil
}
