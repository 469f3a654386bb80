/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Command line parsing
 */

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const usageText = `Usage:
    %s [options]

Options are:
    -v, --vid HEX          filter by USB vendor ID
    -m, --pid HEX           filter by USB product ID
    -s, --serial STRING     filter by USB serial number
        --bus DEC           filter by USB bus number
        --device DEC        filter by USB device address
    -X, --bus-device B:D    shorthand for --bus B --device D
    -P, --from-port PORT    preferred TCP port, slides up on conflict
    -p, --only-port PORT    exclusive TCP port, exit on conflict
    -i, --interface NAME    network interface to bind to (default: lo)
    -T, --idle-exit SECS    exit after SECS idle with no open connections
    -l, --logging           log to syslog instead of the per-device log file
    -q, --verbose           verbose logging
    -d, --debug             verbose logging, implies --no-fork
    -n, --no-fork           run in foreground
    -B, --no-broadcast      skip DNS-SD registration
    -h, --help              print this message and exit
`

// CliOptions holds the parsed command line
type CliOptions struct {
	HaveVid  bool
	Vid      uint16
	HavePid  bool
	Pid      uint16
	Serial   string
	HaveBus  bool
	Bus      int
	HaveDev  bool
	Device   int
	FromPort int
	OnlyPort bool
	Port     int
	Iface    string
	IdleExit int // -1: not set on the command line, fall back to Conf.IdleExit
	Syslog   bool
	Verbose  bool
	Debug    bool
	NoFork   bool
	NoBcast  bool
}

// cliUsage prints the usage text and exits with code 0
func cliUsage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

// cliError prints a parsing error on stderr and exits with the given code
func cliError(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	fmt.Fprintf(os.Stderr, "Try %s -h for more information\n", os.Args[0])
	os.Exit(code)
}

// parseCliOptions parses os.Args[1:] into a CliOptions. On malformed
// input it prints an error and exits with the exit code the bridge's
// usage convention assigns to that class of mistake (0 success; 1 port
// below zero; 2 port above 65535; 3 malformed bus:device).
func parseCliOptions() CliOptions {
	opt := CliOptions{
		FromPort: -1,
		Port:     -1,
		Iface:    "lo",
		IdleExit: -1,
	}

	args := os.Args[1:]
	next := func(flag string, i *int) string {
		*i++
		if *i >= len(args) {
			cliError(1, "%s requires an argument", flag)
		}
		return args[*i]
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// Support --flag=value as well as --flag value
		flag, inlineVal, hasInline := arg, "", false
		if strings.HasPrefix(arg, "--") {
			if eq := strings.IndexByte(arg, '='); eq >= 0 {
				flag, inlineVal, hasInline = arg[:eq], arg[eq+1:], true
			}
		}

		value := func(name string) string {
			if hasInline {
				return inlineVal
			}
			return next(name, &i)
		}

		switch flag {
		case "-h", "--help":
			cliUsage()

		case "-v", "--vid":
			vid, err := strconv.ParseUint(value(flag), 16, 16)
			if err != nil {
				cliError(1, "invalid --vid value")
			}
			opt.HaveVid, opt.Vid = true, uint16(vid)

		case "-m", "--pid":
			pid, err := strconv.ParseUint(value(flag), 16, 16)
			if err != nil {
				cliError(1, "invalid --pid value")
			}
			opt.HavePid, opt.Pid = true, uint16(pid)

		case "-s", "--serial":
			opt.Serial = value(flag)

		case "--bus":
			bus, err := strconv.Atoi(value(flag))
			if err != nil {
				cliError(1, "invalid --bus value")
			}
			opt.HaveBus, opt.Bus = true, bus

		case "--device":
			dev, err := strconv.Atoi(value(flag))
			if err != nil {
				cliError(1, "invalid --device value")
			}
			opt.HaveDev, opt.Device = true, dev

		case "-X", "--bus-device":
			bus, dev, err := cliParseBusDevice(value(flag))
			if err != nil {
				cliError(3, "malformed bus:device: %s", err)
			}
			opt.HaveBus, opt.Bus = true, bus
			opt.HaveDev, opt.Device = true, dev

		case "-P", "--from-port":
			port, err := strconv.Atoi(value(flag))
			if err != nil {
				cliError(1, "invalid --from-port value")
			}
			if port < 0 {
				cliError(1, "port must not be negative")
			}
			if port > 65535 {
				cliError(2, "port must not exceed 65535")
			}
			opt.FromPort, opt.Port = port, port

		case "-p", "--only-port":
			port, err := strconv.Atoi(value(flag))
			if err != nil {
				cliError(1, "invalid --only-port value")
			}
			if port < 0 {
				cliError(1, "port must not be negative")
			}
			if port > 65535 {
				cliError(2, "port must not exceed 65535")
			}
			opt.OnlyPort, opt.Port = true, port

		case "-i", "--interface":
			opt.Iface = value(flag)

		case "-T", "--idle-exit":
			secs, err := strconv.Atoi(value(flag))
			if err != nil || secs < 0 {
				cliError(1, "invalid --idle-exit value")
			}
			opt.IdleExit = secs

		case "-l", "--logging":
			opt.Syslog = true

		case "-q", "--verbose":
			opt.Verbose = true

		case "-d", "--debug":
			opt.Debug = true
			opt.NoFork = true

		case "-n", "--no-fork":
			opt.NoFork = true

		case "-B", "--no-broadcast":
			opt.NoBcast = true

		default:
			cliError(1, "unrecognized option %q", arg)
		}
	}

	return opt
}

// cliParseBusDevice parses a "bus:device" string as used by -X/--bus-device
func cliParseBusDevice(s string) (bus, device int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q: expected BUS:DEVICE", s)
	}

	bus, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%q: invalid bus number", parts[0])
	}

	device, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%q: invalid device address", parts[1])
	}

	return bus, device, nil
}
