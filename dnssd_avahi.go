/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * DNS-SD, Avahi-based system-dependent part
 *
 * Unlike the cgo avahi-client binding, registration here goes over
 * the system D-Bus (github.com/godbus/dbus/v5) via the go-avahi
 * client (github.com/holoplot/go-avahi), so there is no libavahi-client
 * header dependency and no avahi-common/thread-watch event loop to run.
 */

package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	avahi "github.com/holoplot/go-avahi"
)

// ifaceIndex resolves the Avahi interface filter for AddService:
// unspecified unless Conf.LoopbackOnly asks to restrict announcement
// to the same network interface the bridge listens on.
func ifaceIndex(name string) int32 {
	if !Conf.LoopbackOnly {
		return avahiIfaceUnspec
	}

	iface, err := interfaceByName(name)
	if err != nil {
		return avahiIfaceUnspec
	}

	return int32(iface.Index)
}

// Avahi server/entry-group state values, as defined by
// avahi-common/defs.h. Stable across Avahi releases; mirrored here
// because go-avahi surfaces them as the raw int32 a StateChanged
// signal carries.
const (
	avahiServerRegistering = 1
	avahiServerRunning     = 2
	avahiServerCollision   = 3
	avahiServerFailure     = 4

	avahiEntryGroupUncommitted = 0
	avahiEntryGroupRegistering = 1
	avahiEntryGroupEstablished = 2
	avahiEntryGroupCollision   = 3
	avahiEntryGroupFailure     = 4
)

const (
	avahiIfaceUnspec = -1
	avahiProtoUnspec = -1
	avahiProtoInet   = 0
	avahiProtoInet6  = 1
)

// DnssdPublisher owns the D-Bus connection to avahi-daemon and the
// two entry groups used to publish this bridge's services. Per
// 4.8, there are three services conceptually (printer composite +
// scanner) but only two registry handles: ipGroup carries the
// printer's _ipp._tcp/_http._tcp/_printer._tcp trio under one name,
// scGroup carries _uscan._tcp. ipGroup is always created first.
type DnssdPublisher struct {
	port      int
	iface     string
	id        deviceIdent
	terminate *atomic.Bool

	mu      sync.Mutex
	conn    *dbus.Conn
	server  *avahi.Server
	ipGroup *avahi.EntryGroup
	scGroup *avahi.EntryGroup
	sinfo   *scannerInfo
	pinfo   *printerInfo

	sigCh  chan *dbus.Signal
	closed bool
}

// newDnssdPublisher connects to avahi-daemon over the system bus
// and runs the client-state callback loop in a background goroutine
// until Close is called or terminate is set. port is the bridge's
// own loopback TCP port, already listening.
func newDnssdPublisher(port int, iface string, id deviceIdent, terminate *atomic.Bool) (*DnssdPublisher, error) {
	p := &DnssdPublisher{port: port, iface: iface, id: id, terminate: terminate}

	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.run()

	return p, nil
}

// connect establishes the D-Bus connection and Avahi server proxy.
// This is the Go realization of AVAHI_CLIENT_CONNECTING: until
// avahi-daemon is reachable over the bus, there is nothing to do
// but retry.
func (p *DnssdPublisher) connect() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("dbus: %w", err)
	}

	server, err := avahi.ServerNew(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("avahi: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.Avahi.Server"),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("avahi: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	conn.Signal(sigCh)

	p.conn = conn
	p.server = server
	p.sigCh = sigCh

	return nil
}

// run is the DNS-SD loop thread: reconnects on CONNECTING/FAILURE
// and dispatches StateChanged signals as they arrive
func (p *DnssdPublisher) run() {
	state, err := p.server.GetState()
	if err == nil {
		p.onServerState(int32(state))
	}

	for sig := range p.sigCh {
		if p.terminate.Load() {
			return
		}
		if sig.Name != "org.freedesktop.Avahi.Server.StateChanged" || len(sig.Body) == 0 {
			continue
		}
		state, ok := sig.Body[0].(int32)
		if !ok {
			continue
		}
		p.onServerState(state)
	}
}

// onServerState implements the client-state callback from 4.8
func (p *DnssdPublisher) onServerState(state int32) {
	switch state {
	case avahiServerRunning:
		if err := p.registerPrinter(); err != nil {
			Log.Error('!', "dnssd: register printer: %s", err)
			return
		}
		go p.probeAndRegisterScanner()

	case avahiServerRegistering, avahiServerCollision:
		p.resetGroups()

	case avahiServerFailure:
		Log.Error('!', "dnssd: Avahi server failure, reconnecting")
		p.reconnect()

	default: // CONNECTING has no D-Bus equivalent signal value
	}
}

// reconnect tears down and recreates the D-Bus connection, the Go
// equivalent of FAILURE/DISCONNECTED freeing and recreating the
// client. It retries every dnssdRetryInterval until it succeeds or
// terminate is set, then resumes the state-change dispatch loop on
// the new connection.
func (p *DnssdPublisher) reconnect() {
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.mu.Unlock()

	for {
		if p.terminate.Load() {
			return
		}

		if err := p.connect(); err != nil {
			Log.Error('!', "dnssd: reconnect failed: %s, retrying in %s", err, dnssdRetryInterval)
			time.Sleep(dnssdRetryInterval)
			continue
		}

		go p.run()
		return
	}
}

// registerPrinter (re)commits the printer composite service set. The
// first call creates the entry group; later calls (the TXT refresh
// once the capability probe completes) reset and reuse the same
// group instead of creating a second one under the same instance
// name, which would collide in Avahi rather than update it in place.
func (p *DnssdPublisher) registerPrinter() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	group := p.ipGroup
	if group == nil {
		g, err := p.server.EntryGroupNew()
		if err != nil {
			return err
		}
		group = g
		p.ipGroup = group
	} else if err := group.Reset(); err != nil {
		return err
	}

	name := p.id.serviceName()
	for _, svc := range printerServices(p.port, p.id, p.pinfo) {
		if err := addService(group, ifaceIndex(p.iface), name, svc); err != nil {
			return err
		}
	}

	return group.Commit()
}

// probeAndRegisterScanner runs the one-shot capability probe and,
// if the device has an eSCL scanner, commits the scanner entry
// group. Runs on its own goroutine, triggered once by S_RUNNING.
func (p *DnssdPublisher) probeAndRegisterScanner() {
	pinfo, sinfo := probeCapabilities(p.port)

	p.mu.Lock()
	p.pinfo, p.sinfo = pinfo, sinfo
	p.mu.Unlock()

	// Printer TXT may have gained fields the first pass lacked
	// (PaperMax, UUID, ...); re-register to pick them up.
	if err := p.registerPrinter(); err != nil {
		Log.Error('!', "dnssd: re-register printer: %s", err)
	}

	if sinfo == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	group, err := p.server.EntryGroupNew()
	if err != nil {
		Log.Error('!', "dnssd: scanner entry group: %s", err)
		return
	}
	p.scGroup = group

	svc := scannerService(p.port, p.id, pinfo, sinfo)
	if svc == nil {
		return
	}

	name := p.id.serviceName()
	if err := addService(group, ifaceIndex(p.iface), name, *svc); err != nil {
		Log.Error('!', "dnssd: add scanner service: %s", err)
		return
	}

	if err := group.Commit(); err != nil {
		Log.Error('!', "dnssd: commit scanner group: %s", err)
	}
}

// resetGroups resets both entry groups on S_REGISTERING/S_COLLISION
// (the host name may have changed) so the next S_RUNNING transition
// re-registers from scratch
func (p *DnssdPublisher) resetGroups() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ipGroup != nil {
		p.ipGroup.Reset()
	}
	if p.scGroup != nil {
		p.scGroup.Reset()
	}
}

// Close unpublishes everything and closes the D-Bus connection
func (p *DnssdPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ipGroup != nil {
		p.ipGroup.Free()
	}
	if p.scGroup != nil {
		p.scGroup.Free()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// addService registers one DnsSdSvcInfo (and its subtypes, if any)
// with an entry group, without committing
func addService(group *avahi.EntryGroup, ifIndex int32, name string, svc DnsSdSvcInfo) error {
	err := group.AddService(
		ifIndex, protoFor(), 0,
		name, svc.Type, "", "",
		uint16(svc.Port), svc.Txt.export(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", svc.Type, err)
	}

	for _, sub := range svc.SubTypes {
		err := group.AddServiceSubtype(
			ifIndex, protoFor(), 0,
			name, svc.Type, "", sub,
		)
		if err != nil {
			return fmt.Errorf("%s subtype %s: %w", svc.Type, sub, err)
		}
	}

	return nil
}

// protoFor returns the Avahi protocol filter honoring Conf.IPV6Enable
func protoFor() int32 {
	if Conf.IPV6Enable {
		return avahiProtoUnspec
	}
	return avahiProtoInet
}

// export converts a TxtRecord into Avahi's wire format: one []byte
// per "key=value" item
func (txt TxtRecord) export() [][]byte {
	exported := make([][]byte, 0, len(txt))
	for _, item := range txt {
		exported = append(exported, []byte(item.Key+"="+item.Value))
	}
	return exported
}
