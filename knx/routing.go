// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"errors"
	"sync"
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
	"github.com/knxlab/knx-go/knx/util"
)

// busyWindow bounds how long an unanswered ROUTING_BUSY keeps incrementing
// Router's busy counter before it resets, approximating the flow-control
// deduplication described for routers that see repeated busy notifications.
const busyWindow = 5 * time.Second

// LostMessage reports a ROUTING_LOST_MESSAGE: a peer router had to discard
// frames due to local congestion.
type LostMessage struct {
	DeviceState uint8
	Count       uint16
}

// Busy reports a ROUTING_BUSY: a peer router is asking senders to slow down.
type Busy struct {
	DeviceState  uint8
	WaitTime     time.Duration
	ControlField uint16
	BusyCounter  uint16
}

// Router is a KNXnet/IP routing connection (C6): a fire-and-forget multicast
// transport with no per-frame acknowledgement, used to bridge cEMI traffic
// across KNXnet/IP routers on a shared IP network.
type Router struct {
	sock knxnet.Socket

	recv        chan cemi.Message
	lostMessage chan LostMessage
	busy        chan Busy

	mu          sync.Mutex
	busyCounter uint16
	busyResetAt time.Time

	done chan struct{}
	wait sync.WaitGroup
}

// NewRouter joins the KNXnet/IP routing multicast group at multicastAddr
// ("ip:port", defaults to knxnet.DefaultMulticastAddr when empty). Unlike
// Tunnel, Router has no busmonitor layer: a router does not propagate
// bus-monitor frames, so there is no option here to request one.
func NewRouter(multicastAddr string) (*Router, error) {
	sock, err := knxnet.DialRouterUDP(multicastAddr)
	if err != nil {
		return nil, err
	}

	r := &Router{
		sock:        sock,
		recv:        make(chan cemi.Message),
		lostMessage: make(chan LostMessage),
		busy:        make(chan Busy),
		done:        make(chan struct{}),
	}

	r.wait.Add(1)
	go r.serve()

	return r, nil
}

// Send wraps msg's L_Data.req payload in a ROUTING_INDICATION and multicasts
// it to the group. There is no acknowledgement and no retry.
func (r *Router) Send(msg cemi.Message) error {
	if ld, ok := msg.(*cemi.LDataReq); ok {
		// hop count 0 would be silently dropped by every receiver; catch it
		// here instead of sending a frame nobody will act on. The hop count
		// lives in the same Control2 bits for standard and extended frames.
		if (ld.Control2>>4)&0x7 == 0 {
			return errors.New("knx: refusing to route a frame with hop count 0")
		}
	}

	payload := make([]byte, 1+msg.Size())
	payload[0] = byte(cemi.LDataReqCode)
	msg.Pack(payload[1:])

	return r.sock.Send(&knxnet.RoutingInd{Payload: payload})
}

// Recv returns the channel on which inbound ROUTING_INDICATION frames with a
// non-zero hop count are delivered.
func (r *Router) Recv() <-chan cemi.Message {
	return r.recv
}

// LostMessages returns the channel on which ROUTING_LOST_MESSAGE
// notifications are delivered.
func (r *Router) LostMessages() <-chan LostMessage {
	return r.lostMessage
}

// BusyNotifications returns the channel on which ROUTING_BUSY notifications
// are delivered, each carrying the running busy counter.
func (r *Router) BusyNotifications() <-chan Busy {
	return r.busy
}

// Close leaves the multicast group and releases the socket.
func (r *Router) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	err := r.sock.Close()
	r.wait.Wait()
	return err
}

func (r *Router) serve() {
	defer r.wait.Done()
	defer close(r.recv)
	defer close(r.lostMessage)
	defer close(r.busy)

	for {
		select {
		case <-r.done:
			return

		case svc, open := <-r.sock.Inbound():
			if !open {
				return
			}
			r.handle(svc)
		}
	}
}

func (r *Router) handle(svc knxnet.Service) {
	switch m := svc.(type) {
	case *knxnet.RoutingInd:
		if len(m.Payload) < 1 {
			return
		}

		msg, err := cemi.Unpack(cemi.MessageCode(m.Payload[0]), m.Payload[1:])
		if err != nil {
			util.Log(r, "Discarding malformed routing indication: %v", err)
			return
		}

		ld, ok := msg.(*cemi.LDataInd)
		if !ok {
			return
		}

		if (ld.Control2>>4)&0x7 == 0 {
			// hop count 0: don't route.
			return
		}

		select {
		case r.recv <- msg:
		case <-r.done:
		}

	case *knxnet.RoutingLostMessage:
		select {
		case r.lostMessage <- LostMessage{DeviceState: m.DeviceState, Count: m.LostCount}:
		case <-r.done:
		}

	case *knxnet.RoutingBusy:
		select {
		case r.busy <- Busy{
			DeviceState:  m.DeviceState,
			WaitTime:     time.Duration(m.WaitTime) * time.Millisecond,
			ControlField: m.ControlField,
			BusyCounter:  r.nextBusyCounter(),
		}:
		case <-r.done:
		}

	default:
		util.Log(r, "Ignoring unexpected routing service %T", svc)
	}
}

func (r *Router) nextBusyCounter() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.busyResetAt) {
		r.busyCounter = 0
	}
	r.busyCounter++
	r.busyResetAt = now.Add(busyWindow)

	return r.busyCounter
}
