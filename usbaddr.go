/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Manipulations with USB addresses
 */

package main

import (
	"fmt"
)

// UsbAddr represents an USB device address
type UsbAddr struct {
	Bus     int // The bus on which the device was detected
	Address int // The address of the device on the bus
}

// String returns a human-readable representation of UsbAddr
func (addr UsbAddr) String() string {
	return fmt.Sprintf("Bus %.3d Device %.3d", addr.Bus, addr.Address)
}
