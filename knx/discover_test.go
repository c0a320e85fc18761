// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knxlab/knx-go/knx/knxnet"
)

func TestCapabilitiesOf(t *testing.T) {
	families := []knxnet.ServiceFamily{
		{Type: knxnet.ServiceFamilyTypeIPCore, Version: 1},
		{Type: knxnet.ServiceFamilyTypeIPTunnelling, Version: 1},
		{Type: knxnet.ServiceFamilyTypeIPRouting, Version: 1},
	}

	caps := capabilitiesOf(families)

	assert.NotZero(t, caps&CapTunnelling)
	assert.NotZero(t, caps&CapRouting)
	assert.Zero(t, caps&CapDeviceMgmt)
}
