// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"net"

	"github.com/knxlab/knx-go/knx/util"
)

// NewDescriptionReq creates a new DescriptionReq, addr defines where the
// KNXnet/IP server should send the response to.
func NewDescriptionReq(addr net.Addr) (*DescriptionReq, error) {
	hostinfo, err := HostInfoFromAddress(addr)
	if err != nil {
		return nil, err
	}

	return &DescriptionReq{Control: hostinfo}, nil
}

// A DescriptionReq requests a description from a single KNXnet/IP server via
// unicast.
type DescriptionReq struct {
	Control HostInfo
}

// Service returns the service identifier for Description Request.
func (DescriptionReq) Service() ServiceID {
	return DescriptionReqService
}

// Size returns the packed size.
func (req DescriptionReq) Size() uint {
	return req.Control.Size()
}

// Pack assembles the Description Request structure in the given buffer.
func (req *DescriptionReq) Pack(buffer []byte) {
	req.Control.Pack(buffer)
}

// Unpack parses the given service payload in order to initialize the
// Description Request structure.
func (req *DescriptionReq) Unpack(data []byte) (n uint, err error) {
	return util.UnpackSome(data, &req.Control)
}

// A DescriptionRes is a Description Response from a KNXnet/IP server.
type DescriptionRes struct {
	DescriptionB DescriptionBlock
}

// Service returns the service identifier for Description Response.
func (DescriptionRes) Service() ServiceID {
	return DescriptionResService
}

// Size returns the packed size.
func (res DescriptionRes) Size() uint {
	return res.DescriptionB.DeviceHardware.Size() + res.DescriptionB.SupportedServices.Size()
}

// Pack assembles the Description Response structure in the given buffer.
func (res *DescriptionRes) Pack(buffer []byte) {
	util.PackSome(buffer, &res.DescriptionB.DeviceHardware, &res.DescriptionB.SupportedServices)
}

// Unpack parses the given service payload in order to initialize the
// Description Response structure.
func (res *DescriptionRes) Unpack(data []byte) (n uint, err error) {
	return res.DescriptionB.Unpack(data)
}
