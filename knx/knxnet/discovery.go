// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"fmt"
	"net"

	"github.com/knxlab/knx-go/knx/util"
)

// discoverySocket is a Socket for multicast discovery: it sends to one fixed
// multicast destination but, unlike udpSocket's connected peer, must accept
// unicast replies from every server that answers, each from its own address.
// net.DialUDP's connected socket would filter those out, so this wraps an
// unconnected *net.UDPConn and targets the destination explicitly on Send.
type discoverySocket struct {
	conn    *net.UDPConn
	target  *net.UDPAddr
	inbound chan Service
	done    chan struct{}
}

// DialDiscoveryUDP binds an unconnected UDP socket on an ephemeral local port
// for sending a SEARCH_REQUEST to multicastAddr ("ip:port", defaults to
// DefaultMulticastAddr when empty) and collecting every server's
// SEARCH_RESPONSE, arriving by unicast from each server's own address.
func DialDiscoveryUDP(multicastAddr string) (Socket, error) {
	if multicastAddr == "" {
		multicastAddr = DefaultMulticastAddr
	}

	target, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving multicast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("binding discovery socket: %w", err)
	}

	sock := &discoverySocket{
		conn:    conn,
		target:  target,
		inbound: make(chan Service),
		done:    make(chan struct{}),
	}

	go sock.serve()

	return sock, nil
}

// Send transmits payload to the multicast discovery destination.
func (sock *discoverySocket) Send(payload Service) error {
	_, err := sock.conn.WriteToUDP(Pack(payload), sock.target)
	return err
}

// Inbound returns the channel on which parsed inbound services are
// delivered.
func (sock *discoverySocket) Inbound() <-chan Service {
	return sock.inbound
}

// LocalAddr returns the socket's local address.
func (sock *discoverySocket) LocalAddr() net.Addr {
	return sock.conn.LocalAddr()
}

// Close shuts down the socket.
func (sock *discoverySocket) Close() error {
	close(sock.done)
	return sock.conn.Close()
}

func (sock *discoverySocket) serve() {
	defer close(sock.inbound)

	buffer := make([]byte, 1024)

	for {
		n, _, err := sock.conn.ReadFromUDP(buffer)
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
