// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	req, err := NewSearchReq(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 3671})
	require.NoError(t, err)

	datagram := Pack(req)

	id, payload, err := Unpack(datagram)
	require.NoError(t, err)
	assert.Equal(t, SearchReqService, id)

	var out SearchReq
	_, err = out.Unpack(payload)
	require.NoError(t, err)
	assert.Equal(t, req.HostInfo, out.HostInfo)
}

func TestEnvelopeRejectsBadHeaderSize(t *testing.T) {
	datagram := []byte{0x07, 0x10, 0x02, 0x01, 0x00, 0x08, 0x00, 0x00}
	_, _, err := Unpack(datagram)
	assert.ErrorIs(t, err, ErrHeaderSize)
}

func TestEnvelopeRejectsBadVersion(t *testing.T) {
	datagram := []byte{0x06, 0x11, 0x02, 0x01, 0x00, 0x06}
	_, _, err := Unpack(datagram)
	assert.ErrorIs(t, err, ErrHeaderVer)
}

func TestEnvelopeRejectsDeclaredLengthLongerThanBuffer(t *testing.T) {
	datagram := []byte{0x06, 0x10, 0x02, 0x01, 0x00, 0x20}
	_, _, err := Unpack(datagram)
	assert.ErrorIs(t, err, ErrLengthShort)
}

func TestEnvelopeRejectsShortDatagram(t *testing.T) {
	_, _, err := Unpack([]byte{0x06, 0x10})
	assert.ErrorIs(t, err, ErrLengthShort)
}

func TestTunnelResEnvelopeRoundTrip(t *testing.T) {
	res := &TunnelRes{Header: ConnHeader{Channel: 7, SeqNum: 3}, Status: TunnelAckStatus(0)}

	datagram := Pack(res)

	id, payload, err := Unpack(datagram)
	require.NoError(t, err)
	assert.Equal(t, TunnelResService, id)

	var out TunnelRes
	_, err = out.Unpack(payload)
	require.NoError(t, err)
	assert.Equal(t, res.Header.Channel, out.Header.Channel)
	assert.Equal(t, res.Header.SeqNum, out.Header.SeqNum)
	assert.Equal(t, res.Status, out.Status)
}

func TestDevConfigResEnvelopeRoundTrip(t *testing.T) {
	res := &DevConfigRes{Header: ConnHeader{Channel: 2, SeqNum: 9}, Status: TunnelAckStatus(0)}

	datagram := Pack(res)

	id, payload, err := Unpack(datagram)
	require.NoError(t, err)
	assert.Equal(t, DeviceConfigurationAckService, id)

	var out DevConfigRes
	_, err = out.Unpack(payload)
	require.NoError(t, err)
	assert.Equal(t, res.Header.Channel, out.Header.Channel)
	assert.Equal(t, res.Header.SeqNum, out.Header.SeqNum)
	assert.Equal(t, res.Status, out.Status)
}
