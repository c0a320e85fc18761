// Licensed under the MIT license which can be found in the LICENSE file.

package knx

import (
	"fmt"
	"sync"
	"time"

	"github.com/knxlab/knx-go/knx/cemi"
	"github.com/knxlab/knx-go/knx/knxnet"
)

// DeviceMgmt is a KNXnet/IP device management connection (C8): the same
// CONNECT / CONNECTIONSTATE / DISCONNECT lifecycle as Tunnel, but carrying
// cEMI M_PropRead/M_PropWrite frames over DEVICE_CONFIGURATION_REQUEST
// instead of L_Data frames over TUNNELLING_REQUEST.
type DeviceMgmt struct {
	*connEngine

	mu      sync.Mutex
	pending map[propKey]chan cemi.Message
}

// propKey identifies the property a M_PropRead.con/M_PropWrite.con
// correlates to.
type propKey struct {
	objectType cemi.ObjectType
	instance   uint8
	property   cemi.PropertyID
	start      uint16
}

// NewDeviceMgmt dials address ("ip:port") and opens a device management
// connection to the local device's management server.
func NewDeviceMgmt(address string, config TunnelConfig) (*DeviceMgmt, error) {
	config = config.withDefaults()

	sock, err := knxnet.DialTunnelUDP(address)
	if err != nil {
		return nil, err
	}

	engine, err := openConn(sock, knxnet.DeviceMgmtConnection, 0, devConfigCodec{}, config)
	if err != nil {
		sock.Close()
		return nil, err
	}

	mgmt := &DeviceMgmt{
		connEngine: engine,
		pending:    make(map[propKey]chan cemi.Message),
	}

	mgmt.wait.Add(1)
	go mgmt.serveProperties()

	return mgmt, nil
}

// serveProperties routes decoded M_PropRead.con/M_PropWrite.con frames to
// whichever ReadProperty/WriteProperty call is waiting on their identifiers.
func (mgmt *DeviceMgmt) serveProperties() {
	defer mgmt.wait.Done()

	for msg := range mgmt.inbound {
		key, ok := propKeyOf(msg)
		if !ok {
			continue
		}

		mgmt.mu.Lock()
		waiter, exists := mgmt.pending[key]
		if exists {
			delete(mgmt.pending, key)
		}
		mgmt.mu.Unlock()

		if exists {
			waiter <- msg
		}
	}
}

func propKeyOf(msg cemi.Message) (propKey, bool) {
	switch m := msg.(type) {
	case *cemi.MPropReadCon:
		return propKey{m.ObjectType, m.ObjectInstance, m.PropertyID, m.Start}, true
	case *cemi.MPropWriteCon:
		return propKey{m.ObjectType, m.ObjectInstance, m.PropertyID, m.Start}, true
	default:
		return propKey{}, false
	}
}

// ReadProperty requests the value of an interface object property and
// returns its M_PropRead.con, or an error on timeout.
func (mgmt *DeviceMgmt) ReadProperty(objectType cemi.ObjectType, instance uint8, property cemi.PropertyID, count uint8, start uint16) (*cemi.MPropReadCon, error) {
	key := propKey{objectType, instance, property, start}
	wait := mgmt.register(key)
	defer mgmt.unregister(key)

	req := &cemi.MPropReadReq{
		ObjectType:     objectType,
		ObjectInstance: instance,
		PropertyID:     property,
		Count:          count,
		Start:          start,
	}

	if err := mgmt.sendCEMI(cemi.MPropReadReqCode, req); err != nil {
		return nil, err
	}

	select {
	case msg := <-wait:
		return msg.(*cemi.MPropReadCon), nil
	case <-time.After(mgmt.config.PropertyTimeout):
		return nil, ErrConnectionTimeout
	case <-mgmt.done:
		return nil, ErrConnectionLost
	}
}

// WriteProperty sets an interface object property and waits for the
// device's M_PropWrite.con, failing if it reports a non-zero error code or
// does not arrive within the configured timeout.
func (mgmt *DeviceMgmt) WriteProperty(objectType cemi.ObjectType, instance uint8, property cemi.PropertyID, count uint8, start uint16, data []byte) error {
	key := propKey{objectType, instance, property, start}
	wait := mgmt.register(key)
	defer mgmt.unregister(key)

	req := &cemi.MPropWriteReq{
		ObjectType:     objectType,
		ObjectInstance: instance,
		PropertyID:     property,
		Count:          count,
		Start:          start,
		Data:           data,
	}

	if err := mgmt.sendCEMI(cemi.MPropWriteReqCode, req); err != nil {
		return err
	}

	select {
	case msg := <-wait:
		con := msg.(*cemi.MPropWriteCon)
		if con.Error != 0 {
			return fmt.Errorf("knx: property write failed with error code %d", con.Error)
		}
		return nil
	case <-time.After(mgmt.config.PropertyTimeout):
		return ErrConnectionTimeout
	case <-mgmt.done:
		return ErrConnectionLost
	}
}

func (mgmt *DeviceMgmt) register(key propKey) chan cemi.Message {
	ch := make(chan cemi.Message, 1)

	mgmt.mu.Lock()
	mgmt.pending[key] = ch
	mgmt.mu.Unlock()

	return ch
}

func (mgmt *DeviceMgmt) unregister(key propKey) {
	mgmt.mu.Lock()
	delete(mgmt.pending, key)
	mgmt.mu.Unlock()
}

// Close sends DISCONNECT_REQUEST and releases the connection's socket.
func (mgmt *DeviceMgmt) Close() error {
	return mgmt.close()
}
