// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"net"
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
)

// Capability flags derived from a server's Supported Service Families DIB.
const (
	CapCore           uint32 = 1 << iota // always present; KNXnet/IP Core
	CapDeviceMgmt                        // C8 Device Management
	CapTunnelling                        // C7 Tunnelling
	CapRouting                           // C6 Routing
	CapRemoteLogging
	CapRemoteConfig
	CapObjectServer
)

// Endpoint describes one KNXnet/IP server found during discovery.
type Endpoint struct {
	FriendlyName          string
	IP                    net.IP
	Port                  uint16
	Capabilities          uint32
	DeviceState           uint8
	KNXAddress            cemi.IndividualAddr
	MACAddress            net.HardwareAddr
	SerialNumber          [6]byte
	ProjectInstallationID uint16
}

func capabilitiesOf(families []knxnet.ServiceFamily) uint32 {
	caps := CapCore

	for _, f := range families {
		switch f.Type {
		case knxnet.ServiceFamilyTypeIPDeviceManagement:
			caps |= CapDeviceMgmt
		case knxnet.ServiceFamilyTypeIPTunnelling:
			caps |= CapTunnelling
		case knxnet.ServiceFamilyTypeIPRouting:
			caps |= CapRouting
		case knxnet.ServiceFamilyTypeIPRemoteLogging:
			caps |= CapRemoteLogging
		case knxnet.ServiceFamilyTypeIPRemoteConfigurationAndDiagnosis:
			caps |= CapRemoteConfig
		case knxnet.ServiceFamilyTypeIPObjectServer:
			caps |= CapObjectServer
		}
	}

	return caps
}

func endpointOf(res *knxnet.SearchRes) Endpoint {
	hw := res.DescriptionB.DeviceHardware

	return Endpoint{
		FriendlyName:          hw.FriendlyName,
		IP:                    net.IP(res.Control.Address[:]),
		Port:                  res.Control.Port,
		Capabilities:          capabilitiesOf(res.DescriptionB.SupportedServices.Families),
		DeviceState:           uint8(hw.Status),
		KNXAddress:            hw.Source,
		MACAddress:            hw.HardwareAddr,
		SerialNumber:          hw.SerialNumber,
		ProjectInstallationID: uint16(hw.ProjectIdentifier),
	}
}

// Discover sends a SEARCH_REQUEST to the KNXnet/IP multicast group
// (multicastAddr defaults to knxnet.DefaultMulticastAddr when empty),
// collects SEARCH_RESPONSE datagrams until searchTimeout elapses, and
// returns the set of servers found, deduplicated by (ip, port).
func Discover(multicastAddr string, searchTimeout time.Duration) ([]Endpoint, error) {
	sock, err := knxnet.DialDiscoveryUDP(multicastAddr)
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	req, err := knxnet.NewSearchReq(sock.LocalAddr())
	if err != nil {
		return nil, err
	}

	if err := sock.Send(req); err != nil {
		return nil, err
	}

	type key struct {
		ip   string
		port uint16
	}

	seen := make(map[key]bool)
	var found []Endpoint

	timeout := time.After(searchTimeout)

	for {
		select {
		case svc, open := <-sock.Inbound():
			if !open {
				return found, nil
			}

			res, ok := svc.(*knxnet.SearchRes)
			if !ok {
				continue
			}

			ep := endpointOf(res)
			k := key{ip: ep.IP.String(), port: ep.Port}
			if seen[k] {
				continue
			}
			seen[k] = true

			found = append(found, ep)

		case <-timeout:
			return found, nil
		}
	}
}
