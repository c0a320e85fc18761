// Licensed under the MIT license which can be found in the LICENSE file.

package knxnet

import "fmt"

// Address is an IPv4 address, stored in network byte order.
type Address [4]byte

// String formats the address in dotted-decimal notation.
func (addr Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
}
