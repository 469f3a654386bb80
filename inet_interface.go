/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Network interface address discovery
 */

package main

import (
	"errors"
	"fmt"
	"net"
)

// interfaceByName resolves "lo"/"loopback" to whichever interface
// actually carries the loopback flag, and otherwise looks the
// interface up by its configured name.
func interfaceByName(name string) (*net.Interface, error) {
	switch name {
	case "lo", "loopback":
		interfaces, err := net.Interfaces()
		if err != nil {
			return nil, err
		}
		for i := range interfaces {
			if interfaces[i].Flags&net.FlagLoopback != 0 {
				return &interfaces[i], nil
			}
		}
		return nil, errors.New("loopback interface not found")
	default:
		return net.InterfaceByName(name)
	}
}

// InterfaceAddrs resolves the named network interface to the IPv4
// and/or IPv6 address it carries. Either return may be nil if the
// interface doesn't have an address of that family; having neither
// is an error.
func InterfaceAddrs(name string) (v4, v6 net.IP, err error) {
	iface, err := interfaceByName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("interface %q: %s", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, fmt.Errorf("interface %q: %s", name, err)
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			v4 = ip4
		} else if v6 == nil {
			v6 = ipnet.IP
		}
	}

	if v4 == nil && v6 == nil {
		return nil, nil, fmt.Errorf("interface %q: no usable address", name)
	}

	return v4, v6, nil
}
