// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
)

func newBareRouter() *Router {
	return &Router{
		recv:        make(chan cemi.Message, 1),
		lostMessage: make(chan LostMessage, 1),
		busy:        make(chan Busy, 1),
		done:        make(chan struct{}),
	}
}

func routingIndWithHops(hops uint8) *knxnet.RoutingInd {
	req := &cemi.LDataReq{
		LData: cemi.LData{
			Control1:    cemi.Control1StdFrame,
			Control2:    cemi.Control2Hops(hops) | cemi.Control2GroupAddr,
			Source:      cemi.IndividualAddr(0x1101),
			Destination: 0x0801,
			Data:        &cemi.AppData{Command: cemi.GroupValueWrite, Data: []byte{0x00}},
		},
	}

	payload := make([]byte, 1+req.Size())
	payload[0] = byte(cemi.LDataIndCode)
	req.Pack(payload[1:])

	return &knxnet.RoutingInd{Payload: payload}
}

func TestRouterDropsHopCountZero(t *testing.T) {
	r := newBareRouter()
	r.handle(routingIndWithHops(0))

	select {
	case <-r.recv:
		t.Fatal("expected hop-count-0 frame to be dropped")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestRouterDeliversNonZeroHopCount(t *testing.T) {
	r := newBareRouter()
	r.handle(routingIndWithHops(6))

	select {
	case msg := <-r.recv:
		ind, ok := msg.(*cemi.LDataInd)
		require.True(t, ok)
		assert.Equal(t, cemi.IndividualAddr(0x1101), ind.Source)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a delivered frame")
	}
}

func TestRouterRefusesSendingHopCountZero(t *testing.T) {
	r := newBareRouter()

	req := &cemi.LDataReq{
		LData: cemi.LData{
			Control1: cemi.Control1StdFrame,
			Control2: cemi.Control2Hops(0),
		},
	}

	err := r.Send(req)
	assert.Error(t, err)
}

func TestRouterBusyCounterResetsAfterWindow(t *testing.T) {
	r := newBareRouter()

	first := r.nextBusyCounter()
	assert.Equal(t, uint16(1), first)

	second := r.nextBusyCounter()
	assert.Equal(t, uint16(2), second)

	r.busyResetAt = time.Now().Add(-time.Millisecond)
	third := r.nextBusyCounter()
	assert.Equal(t, uint16(1), third)
}
