// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
)

// fakeSocket is an in-memory knxnet.Socket driven entirely by the test: Send
// records what the connEngine transmits, and deliver() feeds a scripted
// service in as if it had arrived from the network.
type fakeSocket struct {
	mu   sync.Mutex
	sent []knxnet.Service

	in     chan knxnet.Service
	local  net.Addr
	closed chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan knxnet.Service, 16),
		local:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3671},
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Send(payload knxnet.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSocket) Inbound() <-chan knxnet.Service { return s.in }
func (s *fakeSocket) LocalAddr() net.Addr            { return s.local }

func (s *fakeSocket) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (s *fakeSocket) deliver(svc knxnet.Service) {
	s.in <- svc
}

func (s *fakeSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSocket) sentAt(i int) knxnet.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[i]
}

func testConfig() TunnelConfig {
	config := DefaultTunnelConfig()
	config.HeartbeatInterval = time.Hour
	config.ResponseTimeout = 200 * time.Millisecond
	return config
}

func TestOpenConnSucceeds(t *testing.T) {
	sock := newFakeSocket()

	go func() {
		require.Eventually(t, func() bool { return sock.sentCount() == 1 }, time.Second, time.Millisecond)
		sock.deliver(&knxnet.ConnRes{Channel: 7, Status: knxnet.ConnResOk})
	}()

	engine, err := openConn(sock, knxnet.TunnelConnection, knxnet.TunnelLayerData, tunnelCodec{}, testConfig())
	require.NoError(t, err)
	defer engine.teardown()

	assert.EqualValues(t, 7, engine.channel)
	require.IsType(t, &knxnet.ConnReq{}, sock.sentAt(0))
}

func TestOpenConnRefused(t *testing.T) {
	sock := newFakeSocket()

	go func() {
		require.Eventually(t, func() bool { return sock.sentCount() == 1 }, time.Second, time.Millisecond)
		sock.deliver(&knxnet.ConnRes{Status: knxnet.ConnResStatus(0x23)})
	}()

	_, err := openConn(sock, knxnet.TunnelConnection, knxnet.TunnelLayerData, tunnelCodec{}, testConfig())
	require.Error(t, err)

	var refused *ConnectionRefusedError
	assert.ErrorAs(t, err, &refused)
}

func TestOpenConnTimesOut(t *testing.T) {
	sock := newFakeSocket()
	config := testConfig()
	config.ResponseTimeout = 20 * time.Millisecond

	_, err := openConn(sock, knxnet.TunnelConnection, knxnet.TunnelLayerData, tunnelCodec{}, config)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
}

func newTestEngine() (*connEngine, *fakeSocket) {
	sock := newFakeSocket()
	engine := newConnEngine(sock, tunnelCodec{}, testConfig(), 7)
	return engine, sock
}

func TestSendCEMIAckCorrelationAndSeqIncrement(t *testing.T) {
	engine, sock := newTestEngine()
	defer engine.teardown()

	msg := &cemi.LDataReq{LData: cemi.LData{
		Control1:    cemi.Control1StdFrame,
		Control2:    cemi.Control2Hops(6),
		Destination: 0x0801,
		Data:        &cemi.AppData{Command: cemi.GroupValueWrite},
	}}

	done := make(chan error, 1)
	go func() { done <- engine.sendCEMI(cemi.LDataReqCode, msg) }()

	require.Eventually(t, func() bool { return sock.sentCount() == 1 }, time.Second, time.Millisecond)
	req, ok := sock.sentAt(0).(*knxnet.TunnelReq)
	require.True(t, ok)
	assert.EqualValues(t, 0, req.Header.SeqNum)

	sock.deliver(&knxnet.TunnelRes{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 0}, Status: knxnet.TunnelAckStatus(0)})

	err := <-done
	require.NoError(t, err)

	engine.mu.Lock()
	seq := engine.txSeq
	engine.mu.Unlock()
	assert.EqualValues(t, 1, seq)
}

func TestSendCEMIIgnoresAckWithWrongSeq(t *testing.T) {
	engine, sock := newTestEngine()
	defer engine.teardown()

	msg := &cemi.LDataReq{LData: cemi.LData{
		Control1:    cemi.Control1StdFrame,
		Control2:    cemi.Control2Hops(6),
		Destination: 0x0801,
		Data:        &cemi.AppData{Command: cemi.GroupValueWrite},
	}}

	done := make(chan error, 1)
	go func() { done <- engine.sendCEMI(cemi.LDataReqCode, msg) }()

	require.Eventually(t, func() bool { return sock.sentCount() == 1 }, time.Second, time.Millisecond)

	// A stray ack for a stale sequence number must not satisfy this send.
	sock.deliver(&knxnet.TunnelRes{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 99}, Status: knxnet.TunnelAckStatus(0)})
	sock.deliver(&knxnet.TunnelRes{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 0}, Status: knxnet.TunnelAckStatus(0)})

	err := <-done
	require.NoError(t, err)
}

func TestInboundRequestIsAckedBeforeDelivery(t *testing.T) {
	engine, sock := newTestEngine()
	defer engine.teardown()

	payload := make([]byte, 1+4)
	ld := &cemi.LDataInd{LData: cemi.LData{
		Control1:    cemi.Control1StdFrame,
		Control2:    cemi.Control2Hops(6),
		Destination: 0x0801,
		Data:        &cemi.AppData{Command: cemi.GroupValueWrite},
	}}
	payload = make([]byte, 1+ld.Size())
	payload[0] = byte(cemi.LDataIndCode)
	ld.Pack(payload[1:])

	sock.deliver(&knxnet.TunnelReq{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 0}, Payload: payload})

	select {
	case msg := <-engine.Inbound():
		require.IsType(t, &cemi.LDataInd{}, msg)
	case <-time.After(time.Second):
		t.Fatal("expected the frame to be delivered")
	}

	require.Equal(t, 1, sock.sentCount())
	ack, ok := sock.sentAt(0).(*knxnet.TunnelRes)
	require.True(t, ok)
	assert.EqualValues(t, 0, ack.Header.SeqNum)
}

func TestDuplicateSeqNumIsDropped(t *testing.T) {
	engine, sock := newTestEngine()
	defer engine.teardown()

	ld := &cemi.LDataInd{LData: cemi.LData{
		Control1:    cemi.Control1StdFrame,
		Control2:    cemi.Control2Hops(6),
		Destination: 0x0801,
		Data:        &cemi.AppData{Command: cemi.GroupValueWrite},
	}}
	payload := make([]byte, 1+ld.Size())
	payload[0] = byte(cemi.LDataIndCode)
	ld.Pack(payload[1:])

	sock.deliver(&knxnet.TunnelReq{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 3}, Payload: payload})

	select {
	case <-engine.Inbound():
	case <-time.After(time.Second):
		t.Fatal("expected the first frame to be delivered")
	}

	// Same sequence number again: must be acked again but not redelivered.
	sock.deliver(&knxnet.TunnelReq{Header: knxnet.ConnHeader{Channel: 7, SeqNum: 3}, Payload: payload})

	select {
	case <-engine.Inbound():
		t.Fatal("duplicate sequence number must not be redelivered")
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool { return sock.sentCount() == 2 }, time.Second, time.Millisecond)
}
