// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
	"github.com/knxlab/knx-go/knx/util"
)

// frameCodec adapts the CONNECT/CONNECTIONSTATE/DISCONNECT connection engine
// to the pair of KNXnet/IP services that actually carry a cEMI frame and its
// acknowledgement: TUNNELLING_REQUEST/ACK for Tunnel (C7), or
// DEVICE_CONFIGURATION_REQUEST/ACK for DeviceMgmt (C8).
type frameCodec interface {
	wrapReq(header knxnet.ConnHeader, payload []byte) knxnet.Service
	wrapAck(header knxnet.ConnHeader, status knxnet.TunnelAckStatus) knxnet.Service
	unwrapReq(svc knxnet.Service) (knxnet.ConnHeader, []byte, bool)
	unwrapAck(svc knxnet.Service) (knxnet.ConnHeader, knxnet.TunnelAckStatus, bool)
}

type tunnelCodec struct{}

func (tunnelCodec) wrapReq(header knxnet.ConnHeader, payload []byte) knxnet.Service {
	return &knxnet.TunnelReq{Header: header, Payload: payload}
}

func (tunnelCodec) wrapAck(header knxnet.ConnHeader, status knxnet.TunnelAckStatus) knxnet.Service {
	return &knxnet.TunnelRes{Header: header, Status: status}
}

func (tunnelCodec) unwrapReq(svc knxnet.Service) (knxnet.ConnHeader, []byte, bool) {
	req, ok := svc.(*knxnet.TunnelReq)
	if !ok {
		return knxnet.ConnHeader{}, nil, false
	}
	return req.Header, req.Payload, true
}

func (tunnelCodec) unwrapAck(svc knxnet.Service) (knxnet.ConnHeader, knxnet.TunnelAckStatus, bool) {
	res, ok := svc.(*knxnet.TunnelRes)
	if !ok {
		return knxnet.ConnHeader{}, 0, false
	}
	return res.Header, res.Status, true
}

type devConfigCodec struct{}

func (devConfigCodec) wrapReq(header knxnet.ConnHeader, payload []byte) knxnet.Service {
	return &knxnet.DevConfigReq{Header: header, Payload: payload}
}

func (devConfigCodec) wrapAck(header knxnet.ConnHeader, status knxnet.TunnelAckStatus) knxnet.Service {
	return &knxnet.DevConfigRes{Header: header, Status: status}
}

func (devConfigCodec) unwrapReq(svc knxnet.Service) (knxnet.ConnHeader, []byte, bool) {
	req, ok := svc.(*knxnet.DevConfigReq)
	if !ok {
		return knxnet.ConnHeader{}, nil, false
	}
	return req.Header, req.Payload, true
}

func (devConfigCodec) unwrapAck(svc knxnet.Service) (knxnet.ConnHeader, knxnet.TunnelAckStatus, bool) {
	res, ok := svc.(*knxnet.DevConfigRes)
	if !ok {
		return knxnet.ConnHeader{}, 0, false
	}
	return res.Header, res.Status, true
}

// ackOutcome is the result of a correlating TUNNELLING_ACK/DEVICE_CONFIGURATION_ACK.
type ackOutcome struct {
	seq    uint8
	status knxnet.TunnelAckStatus
}

// connEngine is the CONNECT / CONNECTIONSTATE / DISCONNECT state machine
// shared by Tunnel (C7) and DeviceMgmt (C8): the two transports differ only
// in the connection type requested at open and in which pair of services
// carries the cEMI payload, both captured by codec.
type connEngine struct {
	sock   knxnet.Socket
	codec  frameCodec
	config TunnelConfig

	channel uint8

	mu         sync.Mutex
	txSeq      uint8
	rxSeq      uint8
	rxSeqValid bool
	closed     bool
	closeOnce  sync.Once

	sendMu sync.Mutex
	ackCh  chan ackOutcome

	inbound chan cemi.Message

	done chan struct{}
	wait sync.WaitGroup
}

// openConn performs the C7/C8 open sequence: send CONNECT_REQUEST, await
// CONNECT_RESPONSE, and start the resulting connection's serve loop.
func openConn(sock knxnet.Socket, connType knxnet.ConnTypeCode, layer knxnet.TunnelLayer, codec frameCodec, config TunnelConfig) (*connEngine, error) {
	local := sock.LocalAddr()

	control, err := knxnet.HostInfoFromAddress(local)
	if err != nil {
		return nil, err
	}

	req := &knxnet.ConnReq{
		Control: control,
		Data:    control,
		CRI:     knxnet.ConnReqInfo{ConnType: connType, Layer: layer},
	}

	if err := sock.Send(req); err != nil {
		return nil, err
	}

	timeout := time.After(config.ResponseTimeout)

	for {
		select {
		case svc, open := <-sock.Inbound():
			if !open {
				return nil, errors.New("knx: socket closed before a connection could be established")
			}

			res, ok := svc.(*knxnet.ConnRes)
			if !ok {
				continue
			}

			if !res.Status.Ok() {
				return nil, &ConnectionRefusedError{Status: res.Status}
			}

			return newConnEngine(sock, codec, config, res.Channel), nil

		case <-timeout:
			return nil, ErrConnectionTimeout
		}
	}
}

func newConnEngine(sock knxnet.Socket, codec frameCodec, config TunnelConfig, channel uint8) *connEngine {
	e := &connEngine{
		sock:    sock,
		codec:   codec,
		config:  config,
		channel: channel,
		ackCh:   make(chan ackOutcome, 1),
		inbound: make(chan cemi.Message, 16),
		done:    make(chan struct{}),
	}

	e.wait.Add(2)
	go e.serve()
	go e.heartbeat()

	return e
}

// Inbound returns the channel on which decoded inbound cEMI frames are
// delivered.
func (e *connEngine) Inbound() <-chan cemi.Message {
	return e.inbound
}

// serve reads parsed KNXnet/IP services off the socket and routes them to
// the ack waiter, the inbound channel, or a server-initiated heartbeat
// reply.
func (e *connEngine) serve() {
	defer e.wait.Done()

	for {
		select {
		case <-e.done:
			return

		case svc, open := <-e.sock.Inbound():
			if !open {
				e.teardown()
				return
			}
			e.handle(svc)
		}
	}
}

func (e *connEngine) handle(svc knxnet.Service) {
	if req, ok := svc.(*knxnet.ConnStateReq); ok {
		if req.Channel == e.channel {
			_ = e.sock.Send(&knxnet.ConnStateRes{Channel: e.channel, Status: knxnet.ConnResOk})
		}
		return
	}

	if res, ok := svc.(*knxnet.ConnStateRes); ok {
		if res.Channel == e.channel && !res.Status.Ok() {
			util.Log(e, "Heartbeat reported connection lost, status 0x%02x", uint8(res.Status))
			e.teardown()
		}
		return
	}

	if header, status, ok := e.codec.unwrapAck(svc); ok {
		if header.Channel != e.channel {
			return
		}
		select {
		case e.ackCh <- ackOutcome{seq: header.SeqNum, status: status}:
		default:
		}
		return
	}

	if header, payload, ok := e.codec.unwrapReq(svc); ok {
		if header.Channel != e.channel {
			return
		}

		_ = e.sock.Send(e.codec.wrapAck(header, knxnet.TunnelAckStatus(0)))

		e.mu.Lock()
		duplicate := e.rxSeqValid && header.SeqNum == e.rxSeq
		e.rxSeq = header.SeqNum
		e.rxSeqValid = true
		e.mu.Unlock()

		if duplicate || len(payload) < 1 {
			return
		}

		msg, err := cemi.Unpack(cemi.MessageCode(payload[0]), payload[1:])
		if err != nil {
			util.Log(e, "Discarding malformed cEMI frame: %v", err)
			return
		}

		select {
		case e.inbound <- msg:
		case <-e.done:
		}
	}
}

// heartbeat periodically probes the connection with CONNECTIONSTATE_REQUEST.
func (e *connEngine) heartbeat() {
	defer e.wait.Done()

	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return

		case <-ticker.C:
			control, err := knxnet.HostInfoFromAddress(e.sock.LocalAddr())
			if err != nil {
				continue
			}
			if err := e.sock.Send(&knxnet.ConnStateReq{Channel: e.channel, Control: control}); err != nil {
				util.Log(e, "Heartbeat send failed: %v", err)
			}
		}
	}
}

// sendCEMI transmits one cEMI frame and waits for its correlating ack,
// serialising sends so at most one request is outstanding at a time.
func (e *connEngine) sendCEMI(code cemi.MessageCode, msg cemi.Message) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrConnectionLost
	}
	seq := e.txSeq
	e.mu.Unlock()

	payload := make([]byte, 1+msg.Size())
	payload[0] = byte(code)
	msg.Pack(payload[1:])

	header := knxnet.ConnHeader{Channel: e.channel, SeqNum: seq}

	if err := e.sock.Send(e.codec.wrapReq(header, payload)); err != nil {
		return err
	}

	timeout := time.NewTimer(e.config.ResponseTimeout)
	defer timeout.Stop()

	for {
		select {
		case outcome := <-e.ackCh:
			if outcome.seq != seq {
				continue
			}
			if !outcome.status.Ok() {
				return fmt.Errorf("knx: request rejected with status 0x%02x: %w", uint8(outcome.status), ErrConnectionLost)
			}

			e.mu.Lock()
			e.txSeq++
			e.mu.Unlock()

			return nil

		case <-timeout.C:
			return ErrConnectionTimeout

		case <-e.done:
			return ErrConnectionLost
		}
	}
}

// teardown marks the connection lost or closed and releases its resources.
// It is safe to call from any goroutine and more than once.
func (e *connEngine) teardown() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		close(e.done)
		close(e.inbound)
	})
}

// close sends DISCONNECT_REQUEST, waits a short grace window for the server
// to react, then tears down the connection and the underlying socket.
func (e *connEngine) close() error {
	e.mu.Lock()
	already := e.closed
	e.mu.Unlock()

	if !already {
		if control, err := knxnet.HostInfoFromAddress(e.sock.LocalAddr()); err == nil {
			_ = e.sock.Send(&knxnet.DiscReq{Channel: e.channel, Control: control})
		}
		time.Sleep(100 * time.Millisecond)
	}

	e.teardown()
	e.wait.Wait()

	return e.sock.Close()
}
