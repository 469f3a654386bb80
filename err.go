/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Common errors
 */

package main

import (
	"errors"
	"io"
	"net/url"
)

// Error values for ippusb-bridge
var (
	ErrShutdown     = errors.New("shutdown requested")
	ErrNoDevice     = errors.New("no matching IPP-over-USB device found")
	ErrNotIppUsb    = errors.New("device doesn't expose at least two IPP-over-USB interfaces")
	ErrUnusable     = errors.New("device doesn't implement print or scan service")
	ErrInitTimedOut = errors.New("device initialization timed out")
	ErrPoolCorrupt  = errors.New("USB interface pool invariant violated")
	ErrClosed       = errors.New("connection closed")
	ErrNoMemory     = errors.New("not enough memory")
	ErrRecvTimeout  = errors.New("receive timed out")
)

// ErrIsEOF tells if error is io.EOF, possibly wrapped by
// the Go HTTP client.
func ErrIsEOF(err error) bool {
	if urlerr, ok := err.(*url.Error); ok {
		return urlerr.Err == io.EOF
	}

	return err == io.EOF
}
