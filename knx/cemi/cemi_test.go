// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackStandardLDataInd(t *testing.T) {
	data := []byte{0x29, 0x00, 0xBC, 0xD0, 0x11, 0x04, 0x01, 0x00, 0x00, 0x81}

	msg, err := Unpack(MessageCode(data[0]), data[1:])
	require.NoError(t, err)

	ind, ok := msg.(*LDataInd)
	require.True(t, ok)

	assert.Equal(t, uint8(0xBC), ind.Control1)
	assert.NotZero(t, ind.Control1&Control1StdFrame, "expected a standard frame")
	assert.Equal(t, IndividualAddr(0xD011), ind.Source)
	assert.Equal(t, "13.0.17", ind.Source.String())
	assert.Equal(t, uint16(0x0401), ind.Destination)
	assert.False(t, ind.IsGroupDestination())

	app, ok := ind.Data.(*AppData)
	require.True(t, ok)
	assert.Equal(t, APCI(0x81), app.Command)
	assert.Empty(t, app.Data)
}

func TestUnpackLDataIndWithAdditionalInfo(t *testing.T) {
	data := []byte{0x29, 0x04, 0x03, 0x02, 0x12, 0x34, 0xBC, 0xD0, 0x11, 0x04, 0x01, 0x00, 0x81}

	msg, err := Unpack(MessageCode(data[0]), data[1:])
	require.NoError(t, err)

	ind := msg.(*LDataInd)
	assert.Equal(t, []byte{0x03, 0x02, 0x12, 0x34}, ind.Info)
	assert.Equal(t, IndividualAddr(0xD011), ind.Source)
	assert.Equal(t, uint16(0x0401), ind.Destination)
}

func TestUnpackGroupDestination(t *testing.T) {
	data := []byte{0x29, 0x00, 0xFC, 0xD0, 0x11, 0x04, 0x01, 0x81, 0x00, 0x80}

	msg, err := Unpack(MessageCode(data[0]), data[1:])
	require.NoError(t, err)

	ind := msg.(*LDataInd)
	assert.True(t, ind.IsGroupDestination())
	assert.Equal(t, "0/4/1", GroupAddr(ind.Destination).String())

	app, ok := ind.Data.(*AppData)
	require.True(t, ok)
	assert.Equal(t, GroupValueWrite, app.Command)
	require.Len(t, app.Data, 1)
	assert.Equal(t, byte(0x00), app.Data[0])
}

func TestBuildRoundTrip(t *testing.T) {
	req := &LDataReq{
		LData: LData{
			Control1:    Control1StdFrame | Control1WantAck,
			Control2:    Control2Hops(6),
			Source:      IndividualAddr(0x1101),
			Destination: 0x0801,
			Data: &AppData{
				Command: GroupValueWrite,
				Data:    []byte{0x00, 0x80},
			},
		},
	}

	buffer := make([]byte, req.Size())
	req.Pack(buffer)

	var out LDataReq
	n, err := out.Unpack(buffer)
	require.NoError(t, err)
	assert.EqualValues(t, len(buffer), n)

	assert.Equal(t, req.Source, out.Source)
	assert.Equal(t, req.Destination, out.Destination)
	assert.Equal(t, uint8(6), (out.Control2>>4)&0x7)

	app, ok := out.Data.(*AppData)
	require.True(t, ok)
	assert.Equal(t, GroupValueWrite, app.Command)
	assert.Equal(t, []byte{0x00, 0x80}, app.Data)
}

func TestUnpackUnsupportedMessageCode(t *testing.T) {
	_, err := Unpack(MessageCode(0xAA), []byte{0x00})
	assert.Error(t, err)
}
