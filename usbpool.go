/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * USB interface pool: claims the target device's IPP-over-USB
 * interfaces and multiplexes them 1:1 against concurrent relays
 */

package main

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
)

// usbPoolSlot is one claimed interface: an immutable descriptor plus
// the binary semaphore and live gousb.Interface handle backing it.
type usbPoolSlot struct {
	desc ippUsbIface
	intf *gousb.Interface
	sem  chan struct{} // size-1: held == empty
}

// UsbSock owns the opened device handle and the pool of its claimed
// IPP-over-USB interfaces. Invariant (I1): outside the pool critical
// section, numTaken interfaces are leased and len(slots)-numTaken are
// available (there is no separate available counter).
type UsbSock struct {
	dev      *gousb.Device
	cfg      *gousb.Config
	slots    []*usbPoolSlot
	deviceID string
	hasEscl  bool
	addr     UsbAddr
	vendor   uint16
	product  uint16

	mu       sync.Mutex
	order    []int // slot indices; entries from numTaken on are free to lease
	numTaken int
}

// openUsbSock discovers the target device and claims every one of
// its IPP-over-USB interfaces.
func openUsbSock(opt CliOptions) (*UsbSock, error) {
	dd, err := discoverDevice(opt)
	if err != nil {
		return nil, err
	}

	cfg, err := dd.dev.Config(dd.cfgNum + 1)
	if err != nil {
		dd.dev.Close()
		return nil, err
	}

	sock := &UsbSock{
		dev:      dd.dev,
		cfg:      cfg,
		deviceID: dd.deviceID,
		hasEscl:  dd.hasEscl,
		addr:     UsbAddr{Bus: dd.dev.Desc.Bus, Address: dd.dev.Desc.Address},
		vendor:   uint16(dd.dev.Desc.Vendor),
		product:  uint16(dd.dev.Desc.Product),
	}

	for _, ifd := range dd.ifaces {
		intf, err := cfg.Interface(ifd.Num, ifd.Alt)
		if err != nil {
			sock.Close()
			return nil, err
		}

		slot := &usbPoolSlot{desc: ifd, intf: intf, sem: make(chan struct{}, 1)}
		slot.sem <- struct{}{}
		sock.slots = append(sock.slots, slot)
		sock.order = append(sock.order, len(sock.order))
	}

	return sock, nil
}

// acquire waits up to usbPoolAcquireTimeout for a free interface and
// returns a leased UsbConn. It polls in usbPoolPollInterval steps so
// it can also observe terminate.
func (sock *UsbSock) acquire(terminate *atomic.Bool) (*UsbConn, error) {
	deadline := time.Now().Add(usbPoolAcquireTimeout)

	for {
		sock.mu.Lock()
		if sock.numTaken < len(sock.order) {
			slotIdx := sock.order[sock.numTaken]
			slot := sock.slots[slotIdx]

			select {
			case <-slot.sem:
			default:
				sock.mu.Unlock()
				panic(ErrPoolCorrupt)
			}

			sock.numTaken++
			sock.mu.Unlock()

			return &UsbConn{sock: sock, slot: slot, slotIndex: slotIdx}, nil
		}
		sock.mu.Unlock()

		if terminate.Load() {
			return nil, ErrShutdown
		}
		if time.Now().After(deadline) {
			return nil, ErrInitTimedOut
		}
		time.Sleep(usbPoolPollInterval)
	}
}

// release returns a leased interface to the pool
func (sock *UsbSock) release(conn *UsbConn) {
	sock.mu.Lock()
	defer sock.mu.Unlock()

	if sock.numTaken == 0 {
		panic(ErrPoolCorrupt)
	}

	sock.numTaken--
	sock.order[sock.numTaken] = conn.slotIndex
	conn.slot.sem <- struct{}{}
}

// Close releases every claimed interface, resets the device (the
// last USB operation before closing the handle) and closes it.
func (sock *UsbSock) Close() {
	for _, slot := range sock.slots {
		if slot.intf != nil {
			slot.intf.Close()
		}
	}
	if sock.cfg != nil {
		sock.cfg.Close()
	}
	if sock.dev != nil {
		sock.dev.Reset()
		sock.dev.Close()
	}
}
