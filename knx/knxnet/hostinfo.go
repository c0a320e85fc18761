// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"
	"net"

	"github.com/knxlab/knx-go/knx/util"
)

// HostProtocol identifies the transport protocol carrying KNXnet/IP frames.
type HostProtocol uint8

// These are the host protocol codes defined by the KNXnet/IP specification.
const (
	UDP4 HostProtocol = 0x01
	TCP4 HostProtocol = 0x02
)

// HostInfo is a Host Protocol Address Information (HPAI) structure: it
// tells a KNXnet/IP server where to send data back to, or describes where a
// server itself is reachable.
type HostInfo struct {
	Protocol HostProtocol
	Address  Address
	Port     uint16
}

// HostInfoFromAddress derives a HostInfo from a net.Addr, which must be a
// *net.UDPAddr with a 4-byte IP.
func HostInfoFromAddress(addr net.Addr) (HostInfo, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return HostInfo{}, fmt.Errorf("unsupported address type %T", addr)
	}

	ip4 := udpAddr.IP.To4()
	if ip4 == nil {
		return HostInfo{}, fmt.Errorf("address %v is not an IPv4 address", udpAddr.IP)
	}

	var address Address
	copy(address[:], ip4)

	return HostInfo{
		Protocol: UDP4,
		Address:  address,
		Port:     uint16(udpAddr.Port),
	}, nil
}

// Size returns the packed size of a HostInfo structure; it is always 8.
func (HostInfo) Size() uint {
	return 8
}

// Pack assembles the HostInfo structure in the given buffer.
func (info HostInfo) Pack(buffer []byte) {
	util.PackSome(buffer, uint8(8), uint8(info.Protocol), info.Address[:], info.Port)
}

// Unpack parses the given data in order to initialize the HostInfo structure.
func (info *HostInfo) Unpack(data []byte) (n uint, err error) {
	var structLen, proto uint8

	n, err = util.UnpackSome(data, &structLen, &proto, info.Address[:], &info.Port)
	if err != nil {
		return
	}

	if structLen != 8 {
		return n, fmt.Errorf("invalid length for HostInfo structure: got %d, want 8", structLen)
	}

	info.Protocol = HostProtocol(proto)

	return n, nil
}

// String formats the HostInfo as "protocol addr:port".
func (info HostInfo) String() string {
	proto := "udp4"
	if info.Protocol == TCP4 {
		proto = "tcp4"
	}
	return fmt.Sprintf("%s %s:%d", proto, info.Address, info.Port)
}
