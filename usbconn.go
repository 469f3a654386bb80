/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * USB connection: a leased interface with synchronous bulk send and
 * cancellable asynchronous bulk receive
 */

package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/gousb"
)

// UsbConn is a lease on exactly one usbPoolSlot. While alive, the
// interface's binary semaphore is held; release() must be called
// exactly once, from whichever exit path the relay takes.
type UsbConn struct {
	sock      *UsbSock
	slot      *usbPoolSlot
	slotIndex int

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint

	firstTimeout time.Time // start of the current run of zero-progress chunks; zero after progress
}

// open resolves the slot's endpoint numbers into live gousb endpoint
// handles, done lazily so acquire() stays cheap.
func (c *UsbConn) open() error {
	if c.in != nil && c.out != nil {
		return nil
	}

	in, err := c.slot.intf.InEndpoint(c.slot.desc.InEp)
	if err != nil {
		return err
	}
	out, err := c.slot.intf.OutEndpoint(c.slot.desc.OutEp)
	if err != nil {
		return err
	}

	c.in, c.out = in, out
	return nil
}

// release returns the interface to the pool. Safe to call multiple
// times; only the first call has effect.
func (c *UsbConn) release() {
	if c.sock == nil {
		return
	}
	sock := c.sock
	c.sock = nil
	sock.release(c)
}

// send writes a packet's full contents to the OUT endpoint in
// wMaxPacketSize-bounded chunks, each chunk bounded by
// usbSendChunkTimeout. A chunk that fails with anything other than
// its timeout (e.g. the device being gone) is returned at once. A run
// of timeouts spanning usbSendCrashTimeout gives up and reports the
// connection dead; a printer legitimately
// sitting idle mid-job for minutes is expected and not itself an
// error, only a string of zero-progress chunks over that ceiling is.
func (c *UsbConn) send(p *Packet) error {
	if err := c.open(); err != nil {
		return err
	}

	buf := p.Bytes()
	for len(buf) > 0 {
		if c.firstTimeout.IsZero() {
			c.firstTimeout = time.Now()
		}

		ctx, cancel := context.WithTimeout(context.Background(), usbSendChunkTimeout)
		n, err := c.out.WriteContext(ctx, buf)
		timedOut := ctx.Err() == context.DeadlineExceeded
		cancel()

		if n > 0 {
			c.firstTimeout = time.Time{}
			buf = buf[n:]
			continue
		}

		if err != nil {
			if !timedOut || time.Since(c.firstTimeout) > usbSendCrashTimeout {
				return err
			}
			time.Sleep(usbPoolPollInterval)
			continue
		}
	}

	return nil
}

// recvResult is posted on the channel returned by recvAsync when the
// in-flight read completes, is cancelled, or errors
type recvResult struct {
	packet *Packet
	err    error
}

// recvAsync submits an asynchronous bulk read and returns a channel
// that receives exactly one recvResult, plus a cancel function. This
// is the Go realization of the "submit transfer, cancel on demand"
// model: gousb doesn't expose raw libusb_submit_transfer, but
// InEndpoint.ReadContext already cancels the underlying transfer when
// its context is done, which is the same externally observable
// behavior (see DESIGN.md).
func (c *UsbConn) recvAsync() (<-chan recvResult, context.CancelFunc, error) {
	if err := c.open(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), usbReadTimeout)
	ch := make(chan recvResult, 1)

	go func() {
		p := newPacketSize(c.slot.desc.MaxPacketSize)
		n, err := c.in.ReadContext(ctx, p.buf)
		if err != nil {
			p.free()
			ch <- recvResult{nil, err}
			return
		}
		p.setFilled(n)
		ch <- recvResult{p, nil}
	}()

	return ch, cancel, nil
}

// isUsbCancelled reports whether a recvAsync error came from an
// explicit teardown cancellation rather than a timeout or device
// error.
func isUsbCancelled(err error) bool {
	return err == context.Canceled
}

// isUsbTimeout reports whether a recvAsync error was the per-read
// deadline expiring with no data, as opposed to a real device error.
func isUsbTimeout(err error) bool {
	return err == context.DeadlineExceeded
}

// isUsbNoDevice reports whether a USB transfer error means the
// device itself is gone (physically unplugged), as opposed to a
// transfer-local fault (STALL, overflow, ...) affecting only the
// interface this connection leased.
func isUsbNoDevice(err error) bool {
	return errors.Is(err, gousb.ErrorNoDevice)
}
