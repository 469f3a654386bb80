/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Daemon startup sequence, accept loop and shutdown
 */

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// daemonize re-execs the program with --no-fork appended and waits
// for the child's startup output. Go cannot keep the runtime alive
// across a real fork(), so this plays the role the spec assigns to
// the forking parent: the child performs the actual startup sequence
// (including the port bind and the "<port>|" line), and once its
// stdout pipe has nothing more to say, this process appends
// "<pid>|" and exits, leaving the child running detached.
func daemonize() error {
	rstdout, wstdout, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe: %s", err)
	}
	rstderr, wstderr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe: %s", err)
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open %s: %s", os.DevNull, err)
	}
	defer devnull.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %s", err)
	}

	args := append([]string{exe}, os.Args[1:]...)
	args = append(args, "--no-fork")

	attr := &os.ProcAttr{
		Files: []*os.File{devnull, wstdout, wstderr},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, args, attr)
	if err != nil {
		return err
	}

	wstdout.Close()
	wstderr.Close()

	var outBuf, errBuf bytes.Buffer
	io.Copy(&outBuf, rstdout)
	io.Copy(&errBuf, rstderr)

	if outBuf.Len() != 0 {
		os.Stdout.Write(outBuf.Bytes())
	}

	if errBuf.Len() != 0 {
		proc.Kill()
		return errors.New(strings.TrimSpace(errBuf.String()))
	}

	fmt.Fprintf(os.Stdout, "%d|", proc.Pid)
	proc.Release()

	return nil
}

// closeStdInOutErr redirects stdin/stdout/stderr to /dev/null, once
// the startup lines that belong on them have already been written.
func closeStdInOutErr() error {
	nul, err := syscall.Open(os.DevNull, syscall.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %s", os.DevNull, err)
	}
	defer syscall.Close(nul)

	for _, fd := range []int{0, 1, 2} {
		if err := syscall.Dup2(nul, fd); err != nil {
			return fmt.Errorf("dup2: %s", err)
		}
	}

	return nil
}

// bindPort implements the port-bind step: an exact, non-sliding bind
// for --only-port, or a slide-up search wrapping at portSearchCeil
// back to portSearchFloor otherwise.
func bindPort(opt CliOptions) (*TcpListener, error) {
	if opt.OnlyPort {
		l, err := openTcpListener(opt.Port, opt.Iface)
		if err != nil {
			return nil, fmt.Errorf("bind port %d: %s", opt.Port, err)
		}
		return l, nil
	}

	start := opt.Port
	if start < 0 {
		start = Conf.HTTPMinPort
	}

	port := start
	attempts := portSearchCeil - portSearchFloor + 1
	for i := 0; i < attempts; i++ {
		l, err := openTcpListener(port, opt.Iface)
		if err == nil {
			return l, nil
		}

		port++
		if port > portSearchCeil {
			port = portSearchFloor
		}
	}

	return nil, fmt.Errorf("no free TCP port in %d-%d", portSearchFloor, portSearchCeil)
}

// relayRegistry is the relay thread registry: one mutex guarding a
// set grown and shrunk as relays start and finish.
type relayRegistry struct {
	mu  sync.Mutex
	set map[*Relay]struct{}
}

func (reg *relayRegistry) add(r *Relay) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.set == nil {
		reg.set = make(map[*Relay]struct{})
	}
	reg.set[r] = struct{}{}
}

func (reg *relayRegistry) remove(r *Relay) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.set, r)
}

func (reg *relayRegistry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.set)
}

// usbEventPump polls for the target device's continued presence,
// standing in for the libusb hotplug callback (see DESIGN.md). On
// disappearance it sets terminate and unblocks the accept loop by
// closing the listener.
func usbEventPump(addr UsbAddr, terminate *atomic.Bool, listener *TcpListener, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(usbEventPumpInterval)
	defer ticker.Stop()

	for range ticker.C {
		if terminate.Load() {
			return
		}
		if !devicePresent(addr.Bus, addr.Address) {
			Log.Info(' ', "%s: device unplugged, shutting down", addr)
			terminate.Store(true)
			listener.Close()
			return
		}
	}
}

// idleWatcher implements --idle-exit: once the relay registry has
// been empty continuously for idle, it shuts the daemon down exactly
// as a SIGTERM would. lastActive is reset to now by runDaemon's
// accept loop each time a relay finishes, so the clock restarts from
// the most recent disconnection rather than from startup.
func idleWatcher(idle time.Duration, lastActive *atomic.Int64, reg *relayRegistry, terminate *atomic.Bool, listener *TcpListener, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if terminate.Load() {
			return
		}
		if reg.len() > 0 {
			continue
		}
		if time.Since(time.Unix(0, lastActive.Load())) >= idle {
			Log.Info(' ', "idle for %s with no open connections, exiting", idle)
			terminate.Store(true)
			listener.Close()
			return
		}
	}
}

// runDaemon runs the bridge to completion and returns the process
// exit code. By the time it is called, --no-fork is in effect: either
// the user asked for the foreground, or this is the re-exec'd child
// of daemonize().
func runDaemon(opt CliOptions) int {
	sock, err := openUsbSock(opt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}

	id, idErr := parseDeviceIdent(sock.deviceID)
	if idErr != nil {
		Log.Error('!', "device ID: %s, DNS-SD registration disabled", idErr)
	}

	listener, err := bindPort(opt)
	if err != nil {
		sock.Close()
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}

	port := listener.Port()
	fmt.Fprintf(os.Stdout, "%d|", port)

	if !opt.Debug {
		if err := closeStdInOutErr(); err != nil {
			Log.Error('!', "%s", err)
		}
	}

	ident := fmt.Sprintf("%4.4x-%4.4x", sock.vendor, sock.product)
	if !opt.Debug && !opt.Syslog {
		Log.ToDevFile(ident)
		Log.SetLevels(Conf.LogDevice)
	}

	Log.Info(' ', "ippusb-bridge started, pid=%d, port=%d", os.Getpid(), port)
	defer Log.Info(' ', "ippusb-bridge finished")

	var terminate atomic.Bool

	signal.Ignore(syscall.SIGPIPE)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		terminate.Store(true)
		listener.Close()
	}()

	pumpDone := make(chan struct{})
	go usbEventPump(sock.addr, &terminate, listener, pumpDone)

	var reg relayRegistry

	idleExit := Conf.IdleExit
	if opt.IdleExit >= 0 {
		idleExit = opt.IdleExit
	}

	var lastActive atomic.Int64
	lastActive.Store(time.Now().UnixNano())

	var idleDone chan struct{}
	if idleExit > 0 {
		idleDone = make(chan struct{})
		go idleWatcher(time.Duration(idleExit)*time.Second, &lastActive, &reg, &terminate, listener, idleDone)
	}

	var publisher *DnssdPublisher
	if Conf.DNSSdEnable && !opt.NoBcast && idErr == nil {
		publisher, err = newDnssdPublisher(port, opt.Iface, id, &terminate)
		if err != nil {
			Log.Error('!', "dnssd: %s", err)
		}
	}

	threadNum := 0

	for !terminate.Load() {
		tcp, err := listener.Accept()
		if err != nil {
			break
		}

		threadNum += 2
		r := newRelay(threadNum, tcp, sock, &terminate)

		if err := r.acquire(); err != nil {
			Log.Error('!', "relay: %s", err)
			tcp.close()
			continue
		}

		reg.add(r)
		go func() {
			r.run()
			reg.remove(r)
			lastActive.Store(time.Now().UnixNano())
		}()
	}

	// Shutdown sequence
	if publisher != nil {
		publisher.Close()
	}

	for reg.len() > 0 {
		time.Sleep(shutdownPollInterval)
	}

	terminate.Store(true)
	<-pumpDone
	if idleDone != nil {
		<-idleDone
	}

	listener.Close()
	sock.Close()

	return 0
}
