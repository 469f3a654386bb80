/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Packet buffers, the unit of transfer between the TCP and USB sides
 * of a relay
 */

package main

// packetSize is the capacity of a freshly allocated Packet. Bulk
// reads ask for more than this only when the endpoint's
// wMaxPacketSize is larger (see newPacketSize); it is page-aligned
// to keep the allocator happy on every platform the bridge runs on.
const packetSize = packetPageSize

// Packet is a contiguous byte region with a capacity and a filled
// length, filled <= cap(buf). A Packet belongs to a single send or
// receive call and is never shared across goroutines.
type Packet struct {
	buf    []byte
	filled int
}

// newPacket allocates an empty Packet. Allocation failure in Go
// manifests as an out-of-memory panic rather than a nil return; Go's
// runtime treats it as unrecoverable (it bypasses recover()), so
// unlike the C original's per-transfer ENOMEM path this is always
// fatal to the whole process, not just the one relay.
func newPacket() *Packet {
	return &Packet{buf: make([]byte, packetSize)}
}

// newPacketSize allocates an empty Packet sized to hold at least n
// bytes, used when an endpoint's wMaxPacketSize exceeds packetSize.
func newPacketSize(n int) *Packet {
	if n <= packetSize {
		return newPacket()
	}
	return &Packet{buf: make([]byte, n)}
}

// Bytes returns the filled portion of the packet
func (p *Packet) Bytes() []byte {
	return p.buf[:p.filled]
}

// Cap returns the packet's capacity
func (p *Packet) Cap() int {
	return len(p.buf)
}

// setFilled records how many bytes of the backing buffer are valid
func (p *Packet) setFilled(n int) {
	p.filled = n
}

// free releases the packet. Go's GC reclaims the backing array; this
// exists so call sites read the same way the pool-backed C original
// does, and as a hook for a future sync.Pool if profiling calls for it.
func (p *Packet) free() {
	p.buf = nil
	p.filled = 0
}
