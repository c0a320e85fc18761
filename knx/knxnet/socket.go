// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"
	"net"

	"github.com/knxlab/knx-go/knx/util"
)

// Socket is a transport-agnostic source and sink of KNXnet/IP services.
// Implementations deliver inbound datagrams, already parsed, on a channel,
// and own the underlying connection's lifetime.
type Socket interface {
	// Send transmits a service, wrapped in its frame envelope.
	Send(payload Service) error

	// Inbound returns the channel on which parsed inbound services are
	// delivered. It is closed when the socket is closed or the underlying
	// connection is lost.
	Inbound() <-chan Service

	// LocalAddr returns the socket's local address.
	LocalAddr() net.Addr

	// Close shuts down the socket.
	Close() error
}

// packetConn is the subset of net.UDPConn that udpSocket depends on, so a
// routing socket can wrap it with multicast-aware Write semantics.
type packetConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
}

// udpSocket is a Socket backed by a single UDP connection, used for both
// unicast tunnelling/management traffic and (via a multicast-joined conn)
// routing traffic.
type udpSocket struct {
	conn    packetConn
	inbound chan Service
	done    chan struct{}
}

// DialTunnelUDP establishes a UDP socket for communication with a single
// KNXnet/IP server at the given "ip:port" address.
func DialTunnelUDP(address string) (Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("resolving server address: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing server: %w", err)
	}

	return newUDPSocket(conn), nil
}

func newUDPSocket(conn packetConn) *udpSocket {
	sock := &udpSocket{
		conn:    conn,
		inbound: make(chan Service),
		done:    make(chan struct{}),
	}

	go sock.serve()

	return sock
}

// Send transmits a service, wrapped in its frame envelope.
func (sock *udpSocket) Send(payload Service) error {
	_, err := sock.conn.Write(Pack(payload))
	return err
}

// Inbound returns the channel on which parsed inbound services are
// delivered.
func (sock *udpSocket) Inbound() <-chan Service {
	return sock.inbound
}

// LocalAddr returns the socket's local address.
func (sock *udpSocket) LocalAddr() net.Addr {
	return sock.conn.LocalAddr()
}

// Close shuts down the socket.
func (sock *udpSocket) Close() error {
	close(sock.done)
	return sock.conn.Close()
}

// serve reads datagrams off the connection, parses them and forwards the
// decoded service onto the inbound channel, until the connection is closed.
func (sock *udpSocket) serve() {
	defer close(sock.inbound)

	buffer := make([]byte, 1024)

	for {
		n, err := sock.conn.Read(buffer)
		if err != nil {
			select {
			case <-sock.done:
			default:
				util.Log(sock, "Socket closed due to read error: %v", err)
			}
			return
		}

		svc, err := unpackService(buffer[:n])
		if err != nil {
			util.Log(sock, "Discarding malformed datagram: %v", err)
			continue
		}
		if svc == nil {
			continue
		}

		select {
		case sock.inbound <- svc:
		case <-sock.done:
			return
		}
	}
}

// unpackService parses a framed datagram and decodes its payload into the
// concrete Service type identified by its service identifier.
func unpackService(data []byte) (Service, error) {
	id, payload, err := Unpack(data)
	if err != nil {
		return nil, err
	}

	var svc Service

	switch id {
	case SearchReqService:
		svc = &SearchReq{}
	case SearchResService:
		svc = &SearchRes{}
	case SearchReqExtService:
		svc = &SearchReqExt{}
	case SearchResExtService:
		svc = &SearchResExt{}
	case DescriptionReqService:
		svc = &DescriptionReq{}
	case DescriptionResService:
		svc = &DescriptionRes{}
	case ConnectReqService:
		svc = &ConnReq{}
	case ConnectResService:
		svc = &ConnRes{}
	case ConnectionStateReqService:
		svc = &ConnStateReq{}
	case ConnectionStateResService:
		svc = &ConnStateRes{}
	case DisconnectReqService:
		svc = &DiscReq{}
	case DisconnectResService:
		svc = &DiscRes{}
	case TunnelReqService:
		svc = &TunnelReq{}
	case TunnelResService:
		svc = &TunnelRes{}
	case DeviceConfigurationReqService:
		svc = &DevConfigReq{}
	case DeviceConfigurationAckService:
		svc = &DevConfigRes{}
	case RoutingIndService:
		svc = &RoutingInd{}
	case RoutingLostService:
		svc = &RoutingLostMessage{}
	case RoutingBusyService:
		svc = &RoutingBusy{}
	default:
		return nil, fmt.Errorf("unsupported service identifier 0x%04x", uint16(id))
	}

	if _, err := svc.Unpack(payload); err != nil {
		return nil, fmt.Errorf("unpacking service 0x%04x: %w", uint16(id), err)
	}

	return svc, nil
}
