/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Program-wide constants
 */

package main

import "time"

const (
	// packetPageSize is the default size of a Packet, aligned on
	// a 4 KiB page. Bulk reads never request more than this unless
	// the device's wMaxPacketSize forces a larger buffer.
	packetPageSize = 4096

	// tcpAcceptBacklog is the minimal pending-connection backlog
	// for the listening TCP socket.
	tcpAcceptBacklog = 32

	// tcpRecvTimeout bounds a single TcpConn.recv() call.
	tcpRecvTimeout = 3 * time.Second

	// usbSendChunkTimeout bounds a single bulk OUT chunk.
	usbSendChunkTimeout = 1 * time.Second

	// usbSendCrashTimeout is the soft ceiling on consecutive send
	// timeouts before giving up on a connection. Named after the
	// original ippusbxd's PRINTER_CRASH_TIMEOUT_RECEIVE: some
	// printers legitimately sit idle with a socket held open for
	// hours while printing a large job.
	usbSendCrashTimeout = 6 * time.Hour

	// usbReadTimeout bounds a single asynchronous bulk IN transfer.
	usbReadTimeout = 2 * time.Second

	// usbPoolAcquireTimeout bounds how long acquire() waits for a
	// free interface (30 polls of usbPoolPollInterval).
	usbPoolAcquireTimeout = 3 * time.Second
	usbPoolPollInterval   = 100 * time.Millisecond

	// usbEventPumpInterval is how often the USB event pump re-checks
	// device presence (our stand-in for libusb hotplug events, see
	// DESIGN.md).
	usbEventPumpInterval = 500 * time.Millisecond

	// dnssdRetryInterval is the retry interval after a failed DNS-SD
	// operation.
	dnssdRetryInterval = 1 * time.Second

	// capabilityProbeRetries/Backoff bound the IPP/eSCL capability
	// queries issued once the device is listening.
	capabilityProbeRetries      = 3
	capabilityProbeInitBackoff = 500 * time.Millisecond

	// shutdownPollInterval is how often the daemon polls the relay
	// thread registry while waiting for it to drain.
	shutdownPollInterval = 1 * time.Second

	// portSearchFloor is where the port search wraps back to when it
	// walks off the top of the allowed range.
	portSearchFloor = 49152
	portSearchCeil  = 65535
)
