// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"fmt"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
)

// Tunnel is a KNXnet/IP tunnelling connection (C7): a connection state
// machine, layered over one dedicated UDP socket, that exchanges cEMI L_Data
// frames with a KNXnet/IP server on behalf of one client. Its receive loop
// and heartbeat each run on a goroutine of their own, concurrently with the
// caller, and shared state is guarded by mutexes.
type Tunnel struct {
	*connEngine

	layer     knxnet.TunnelLayer
	localAddr cemi.IndividualAddr
}

// NewTunnel dials address ("ip:port") and opens a tunnelling connection in
// the given layer. TunnelLayerData exposes ordinary link-layer L_Data
// frames; TunnelLayerBusmonitor exposes a read-only bus monitor feed.
func NewTunnel(address string, layer knxnet.TunnelLayer, config TunnelConfig) (*Tunnel, error) {
	config = config.withDefaults()

	sock, err := knxnet.DialTunnelUDP(address)
	if err != nil {
		return nil, err
	}

	engine, err := openConn(sock, knxnet.TunnelConnection, layer, tunnelCodec{}, config)
	if err != nil {
		sock.Close()
		return nil, err
	}

	return &Tunnel{
		connEngine: engine,
		layer:      layer,
		localAddr:  config.LocalAddr,
	}, nil
}

// Send transmits a cEMI L_Data.req frame and waits for the server's
// TUNNELLING_ACK. It fails with ErrInvalidMode if the tunnel was opened in
// busmonitor layer, which cannot originate frames.
func (t *Tunnel) Send(msg cemi.Message) error {
	if t.layer == knxnet.TunnelLayerBusmonitor {
		return ErrInvalidMode
	}

	req, ok := msg.(*cemi.LDataReq)
	if !ok {
		return fmt.Errorf("knx: tunnel can only send L_Data.req frames, got %T", msg)
	}

	return t.sendCEMI(cemi.LDataReqCode, req)
}

// SourceAddr returns the KNX individual address this tunnel identifies
// itself with.
func (t *Tunnel) SourceAddr() cemi.IndividualAddr {
	return t.localAddr
}

// Close sends DISCONNECT_REQUEST and releases the tunnel's socket.
func (t *Tunnel) Close() error {
	return t.close()
}
