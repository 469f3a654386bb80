/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * TCP listener: binds the IPv4 and/or IPv6 address of a named
 * network interface and accepts relay connections
 */

package main

import (
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// tcpAcceptResult is one pending Accept outcome from either listening
// socket, delivered over TcpListener's shared channel.
type tcpAcceptResult struct {
	conn *net.TCPConn
	err  error
}

// TcpListener owns up to two bound, listening sockets for one port
// on one network interface: one for IPv4, one for IPv6. At least one
// must succeed for the listener to be usable. Immutable for the
// daemon's lifetime once constructed.
type TcpListener struct {
	v4, v6 net.Listener
	ch     chan tcpAcceptResult
}

// openTcpListener binds port on the named interface. Either address
// family may be absent on the interface; it opens whichever
// addresses exist and errors only if neither could be opened.
func openTcpListener(port int, iface string) (*TcpListener, error) {
	v4addr, v6addr, err := InterfaceAddrs(iface)
	if err != nil {
		return nil, err
	}

	// Buffered for 2: when Close() makes both pumps fail at once, each
	// must be able to deliver its terminal error without blocking on a
	// reader that already got the other one and stopped calling Accept.
	l := &TcpListener{ch: make(chan tcpAcceptResult, 2)}

	if v4addr != nil {
		addr := net.JoinHostPort(v4addr.String(), strconv.Itoa(port))
		ln, err := net.Listen("tcp4", addr)
		if err == nil {
			setListenBacklog(ln)
			l.v4 = ln
		}
	}

	if v6addr != nil && Conf.IPV6Enable {
		addr := net.JoinHostPort(v6addr.String(), strconv.Itoa(port))
		ln, err := net.Listen("tcp6", addr)
		if err == nil {
			setListenBacklog(ln)
			l.v6 = ln
		}
	}

	if l.v4 == nil && l.v6 == nil {
		return nil, fmt.Errorf("bind port %d on %q: address in use", port, iface)
	}

	if l.v4 != nil {
		go acceptPump(l.v4, l.ch)
	}
	if l.v6 != nil {
		go acceptPump(l.v6, l.ch)
	}

	return l, nil
}

// setListenBacklog re-issues the listen() syscall against the
// already-bound socket with tcpAcceptBacklog, since net.Listen itself
// always uses the platform's default backlog (SOMAXCONN) and exposes
// no way to request a specific one. A second listen() call on Linux
// only adjusts the backlog; failure is not fatal, the socket keeps
// working with whatever backlog it already has.
func setListenBacklog(ln net.Listener) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		syscall.Listen(int(fd), tcpAcceptBacklog)
	})
}

// acceptPump runs for the lifetime of ln, feeding every Accept
// outcome into ch. It exits after the first error (Close() of the
// listener being the expected one), so at most one terminal error per
// family is ever sent.
func acceptPump(ln net.Listener, ch chan<- tcpAcceptResult) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			ch <- tcpAcceptResult{nil, err}
			return
		}
		ch <- tcpAcceptResult{conn.(*net.TCPConn), nil}
	}
}

// Port returns the bound port number, read back via getsockname so
// that a requested port of 0 resolves to the ephemeral port the
// kernel actually chose.
func (l *TcpListener) Port() int {
	if l.v4 != nil {
		return l.v4.Addr().(*net.TCPAddr).Port
	}
	return l.v6.Addr().(*net.TCPAddr).Port
}

// Close closes whichever of the two listeners are open
func (l *TcpListener) Close() {
	if l.v4 != nil {
		l.v4.Close()
	}
	if l.v6 != nil {
		l.v6.Close()
	}
}

// Accept returns the next connection accepted on either family,
// wrapped as a TcpConn. Both families are pumped by long-lived
// goroutines (started once, in openTcpListener) into a single shared
// channel, so no connection is ever handed to an abandoned per-call
// goroutine and no goroutine accumulates across calls.
func (l *TcpListener) Accept() (*TcpConn, error) {
	r := <-l.ch
	if r.err != nil {
		return nil, r.err
	}
	return newTcpConn(r.conn), nil
}
