// Licensed under the MIT license which can be found in the LICENSE file.

package usb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferFramePackUnpackRoundTrip(t *testing.T) {
	f := &TransferFrame{
		Protocol:         ProtocolKNXTunnel,
		EMI:              CEMI,
		ManufacturerCode: 0,
		Body:             []byte{0x11, 0x00, 0xBC, 0xE0, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x81},
	}

	buffer := make([]byte, f.Size())
	f.Pack(buffer)

	var out TransferFrame
	n, err := out.Unpack(buffer)
	require.NoError(t, err)
	assert.EqualValues(t, len(buffer), n)
	assert.Equal(t, f.Protocol, out.Protocol)
	assert.Equal(t, f.EMI, out.EMI)
	assert.Equal(t, f.Body, out.Body)
}

func TestReassemblerSingleReport(t *testing.T) {
	body := []byte{0x11, 0x00, 0xBC}

	reports := packReports(body)
	require.Len(t, reports, 1)

	var asm reassembler
	assembled, done := asm.feed(reports[0])
	require.True(t, done)
	assert.Equal(t, body, assembled)
}

func TestReassemblerAcrossTwoReports(t *testing.T) {
	body := make([]byte, maxBodyLen+10)
	for i := range body {
		body[i] = byte(i)
	}

	reports := packReports(body)
	require.Len(t, reports, 2)

	var asm reassembler

	assembled, done := asm.feed(reports[0])
	assert.False(t, done)
	assert.Nil(t, assembled)

	assembled, done = asm.feed(reports[1])
	require.True(t, done)
	assert.Equal(t, body, assembled)
}

func TestReassemblerDiscardsPartialOnNewStart(t *testing.T) {
	bodyA := make([]byte, maxBodyLen+5)
	for i := range bodyA {
		bodyA[i] = 0xAA
	}
	reportsA := packReports(bodyA)
	require.Len(t, reportsA, 2)

	bodyB := []byte{0x01, 0x02, 0x03}
	reportsB := packReports(bodyB)
	require.Len(t, reportsB, 1)

	var asm reassembler

	// Feed only the first (start) report of A, then a fresh start-bit report
	// from B: the partially assembled buffer from A must be discarded, not
	// merged into B's body.
	assembled, done := asm.feed(reportsA[0])
	assert.False(t, done)
	assert.Nil(t, assembled)

	assembled, done = asm.feed(reportsB[0])
	require.True(t, done)
	assert.Equal(t, bodyB, assembled)
}

func TestReassemblerIgnoresUnknownReportID(t *testing.T) {
	var asm reassembler
	report := make([]byte, ReportSize)
	report[0] = 0xFF

	assembled, done := asm.feed(report)
	assert.False(t, done)
	assert.Nil(t, assembled)
}
