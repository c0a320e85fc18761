// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
)

// Default timing parameters shared by the tunnelling and device management
// transports.
const (
	DefaultResponseTimeout   = 10 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultPropertyTimeout   = 5 * time.Second
)

// TunnelConfig controls the timing behaviour of a Tunnel. The zero value is
// not usable directly; DefaultTunnelConfig fills in the documented defaults.
type TunnelConfig struct {
	// ResponseTimeout bounds how long the tunnel waits for a CONNECT_RESPONSE
	// or a TUNNELLING_ACK/DEVICE_CONFIGURATION_ACK. Heartbeat responses are
	// not timed out: a heartbeat that gets no CONNECTIONSTATE_RESPONSE does
	// not end the connection.
	ResponseTimeout time.Duration

	// HeartbeatInterval is the period between CONNECTIONSTATE_REQUEST
	// heartbeats sent while the connection is open.
	HeartbeatInterval time.Duration

	// PropertyTimeout bounds how long ReadProperty/WriteProperty wait for a
	// correlating M_PropRead.con/M_PropWrite.con.
	PropertyTimeout time.Duration

	// LocalAddr is the KNX individual address this client identifies itself
	// with when originating L_Data frames over a Tunnel. KNXnet/IP tunnelling
	// servers commonly assign a client address out of band (e.g. the last
	// address of the line reserved for tunnelling); this library does not
	// parse that assignment out of the Connect Response, so callers that
	// rely on T_CONNECT/T_DISCONNECT/T_ACK addressing must set it explicitly.
	LocalAddr cemi.IndividualAddr
}

// DefaultTunnelConfig returns a TunnelConfig with the documented defaults.
func DefaultTunnelConfig() TunnelConfig {
	return TunnelConfig{
		ResponseTimeout:   DefaultResponseTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PropertyTimeout:   DefaultPropertyTimeout,
	}
}

// withDefaults fills in zero-valued fields of config with their documented
// defaults.
func (config TunnelConfig) withDefaults() TunnelConfig {
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.PropertyTimeout <= 0 {
		config.PropertyTimeout = DefaultPropertyTimeout
	}
	return config
}
