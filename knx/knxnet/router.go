// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// DefaultMulticastAddr is the KNXnet/IP routing multicast group defined by
// the KNX standard.
const DefaultMulticastAddr = "224.0.23.12:3671"

// DefaultMulticastTTL is the multicast hop limit applied to outgoing Routing
// datagrams. DialRouterUDP always applies it; it cannot be overridden.
const DefaultMulticastTTL = 16

// DialRouterUDP joins the KNXnet/IP routing multicast group on multicastAddr
// ("ip:port", defaults to DefaultMulticastAddr when empty) and returns a
// Socket for sending and receiving Routing Indications.
//
// Unlike a tunnelling socket's point-to-point connection, a routing socket
// is a shared multicast group: every router on the group sees every
// datagram, so Send broadcasts rather than targeting one peer.
func DialRouterUDP(multicastAddr string) (Socket, error) {
	if multicastAddr == "" {
		multicastAddr = DefaultMulticastAddr
	}

	groupAddr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving multicast address: %w", err)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	packetConn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", groupAddr.Port))
	if err != nil {
		return nil, fmt.Errorf("listening for multicast traffic: %w", err)
	}
	conn := packetConn.(*net.UDPConn)

	pconn := ipv4.NewPacketConn(conn)

	ifaces, err := multicastInterfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}

	joined := false
	for _, iface := range ifaces {
		if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: groupAddr.IP}); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, fmt.Errorf("could not join multicast group %s on any interface", groupAddr.IP)
	}

	if err := pconn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, err
	}

	if err := pconn.SetMulticastTTL(DefaultMulticastTTL); err != nil {
		conn.Close()
		return nil, err
	}

	return newUDPSocket(&routerConn{UDPConn: conn, group: groupAddr}), nil
}

// multicastInterfaces returns the set of network interfaces capable of
// multicast, falling back to "any" (nil) if none are found so JoinGroup can
// still pick a sensible default.
func multicastInterfaces() ([]*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	var multicastCapable []*net.Interface
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagUp != 0 {
			multicastCapable = append(multicastCapable, &iface)
		}
	}

	if len(multicastCapable) == 0 {
		return []*net.Interface{nil}, nil
	}

	return multicastCapable, nil
}

// routerConn adapts a *net.UDPConn so that every Write targets the
// multicast group, regardless of how the connection itself was opened
// (ListenUDP leaves it "unconnected").
type routerConn struct {
	*net.UDPConn
	group *net.UDPAddr
}

func (c *routerConn) Write(b []byte) (int, error) {
	return c.UDPConn.WriteToUDP(b, c.group)
}
