// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"errors"
	"fmt"

	"github.com/knxlab/knx-go/knx/knxnet"
)

// ErrConnectionTimeout is returned by open, send, readProperty and
// writeProperty when the corresponding ACK or response is not received
// within the configured timeout.
var ErrConnectionTimeout = errors.New("knx: connection timed out")

// ErrConnectionLost is returned to outstanding waiters, and by any
// subsequent operation, once a connection's heartbeat fails or it is
// closed.
var ErrConnectionLost = errors.New("knx: connection lost")

// ErrInvalidMode is returned when an operation is not valid for the
// transport's current mode, such as sending while a tunnel is in busmonitor
// layer.
var ErrInvalidMode = errors.New("knx: invalid mode for this operation")

// ErrNotConnected is returned when an operation that requires an established
// connection is attempted before one has been completed.
var ErrNotConnected = errors.New("knx: not connected")

// ConnectionRefusedError reports a CONNECT_RESPONSE carrying a non-zero
// status.
type ConnectionRefusedError struct {
	Status knxnet.ConnResStatus
}

func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("knx: connection refused, status 0x%02x", uint8(e.Status))
}
