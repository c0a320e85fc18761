// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package cemi

import "fmt"

// IndividualAddr is a 16-bit KNX individual address, encoded as 4 bits area,
// 4 bits line and 8 bits device.
type IndividualAddr uint16

// NewIndividualAddr3 assembles an individual address from its area, line and
// device components.
func NewIndividualAddr3(area, line, device uint8) IndividualAddr {
	return IndividualAddr(uint16(area&0xF)<<12 | uint16(line&0xF)<<8 | uint16(device))
}

// NewIndividualAddrString parses a "area.line.device" formatted address.
func NewIndividualAddrString(str string) (addr IndividualAddr, err error) {
	var area, line, device uint8
	if _, err = fmt.Sscanf(str, "%d.%d.%d", &area, &line, &device); err != nil {
		return 0, fmt.Errorf("parsing individual address %q: %w", str, err)
	}
	return NewIndividualAddr3(area, line, device), nil
}

// Area returns the area component of the address.
func (addr IndividualAddr) Area() uint8 {
	return uint8(addr>>12) & 0xF
}

// Line returns the line component of the address.
func (addr IndividualAddr) Line() uint8 {
	return uint8(addr>>8) & 0xF
}

// Device returns the device component of the address.
func (addr IndividualAddr) Device() uint8 {
	return uint8(addr)
}

// String formats the address as "area.line.device".
func (addr IndividualAddr) String() string {
	return fmt.Sprintf("%d.%d.%d", addr.Area(), addr.Line(), addr.Device())
}

// GroupAddr is a 16-bit KNX group address, encoded as 5 bits main group,
// 3 bits middle group and 8 bits sub group.
type GroupAddr uint16

// NewGroupAddr3 assembles a group address from its main, middle and sub
// components.
func NewGroupAddr3(main, middle, sub uint8) GroupAddr {
	return GroupAddr(uint16(main&0x1F)<<11 | uint16(middle&0x7)<<8 | uint16(sub))
}

// Main returns the main group component of the address.
func (addr GroupAddr) Main() uint8 {
	return uint8(addr>>11) & 0x1F
}

// Middle returns the middle group component of the address.
func (addr GroupAddr) Middle() uint8 {
	return uint8(addr>>8) & 0x7
}

// Sub returns the sub group component of the address.
func (addr GroupAddr) Sub() uint8 {
	return uint8(addr)
}

// String formats the address as "main/middle/sub".
func (addr GroupAddr) String() string {
	return fmt.Sprintf("%d/%d/%d", addr.Main(), addr.Middle(), addr.Sub())
}

// FormatDestination renders dst as a group or an individual address
// depending on isGroup, matching the textual form of whichever address type
// control-field-2 bit 7 of the enclosing frame selects.
func FormatDestination(dst uint16, isGroup bool) string {
	if isGroup {
		return GroupAddr(dst).String()
	}
	return IndividualAddr(dst).String()
}
