/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * TCP connection wrapper: the client side of a relay
 */

package main

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// TcpConn wraps a single accepted net.TCPConn with the bridge's
// recv/send/close discipline: a bounded recv, a send that never
// raises SIGPIPE-equivalent signals, and an idempotent close.
// isClosed is written from both the socket-side and the printer-side
// relay goroutines (recv and send respectively), so it is an
// atomic.Bool rather than a plain bool.
type TcpConn struct {
	conn       *net.TCPConn
	isClosed   atomic.Bool
	connClosed atomic.Bool // set once close() has closed conn
}

// newTcpConn wraps an accepted connection
func newTcpConn(conn *net.TCPConn) *TcpConn {
	conn.SetKeepAlive(true)
	return &TcpConn{conn: conn}
}

// IsClosed reports whether the connection has seen EOF or an error
func (c *TcpConn) IsClosed() bool {
	return c.isClosed.Load()
}

// recv reads a single packet from the socket, bounded by
// tcpRecvTimeout. A zero-byte read marks the connection closed and
// returns io.EOF; any other error with no data also marks it closed
// and is returned. A read that times out with no data returns
// ErrRecvTimeout and leaves the connection open.
func (c *TcpConn) recv() (*Packet, error) {
	if c.isClosed.Load() {
		return nil, ErrClosed
	}

	p := newPacket()

	c.conn.SetReadDeadline(time.Now().Add(tcpRecvTimeout))
	n, err := c.conn.Read(p.buf)
	if n == 0 {
		if err == nil || err == io.EOF {
			c.isClosed.Store(true)
			return nil, io.EOF
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			p.free()
			return nil, ErrRecvTimeout
		}
		c.isClosed.Store(true)
		return nil, err
	}

	p.setFilled(n)
	return p, nil
}

// send writes the full contents of the packet to the socket,
// looping over short writes. Any error closes the connection.
func (c *TcpConn) send(p *Packet) error {
	if c.isClosed.Load() {
		return ErrClosed
	}

	buf := p.Bytes()
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			c.isClosed.Store(true)
			return err
		}
		buf = buf[n:]
	}

	return nil
}

// close closes the connection. Idempotent: a second call is a no-op.
func (c *TcpConn) close() error {
	c.isClosed.Store(true)
	if c.connClosed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// LocalPort returns the locally bound TCP port of this connection
func (c *TcpConn) LocalPort() int {
	return c.conn.LocalAddr().(*net.TCPAddr).Port
}
