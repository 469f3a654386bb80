/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * The main function
 */

package main

import (
	"fmt"
	"os"
)

// setupLogging wires the CLI's logging flags into the main logger.
// Before the device identity is known (and, in the forking case,
// before the child that owns stdout even exists) the logger is kept
// quiet; runDaemon redirects it to its final destination once the
// port is bound and, for the default case, once the device ident is
// known for the per-device log file name.
func setupLogging(opt CliOptions) {
	mask := Conf.LogMain
	if opt.Verbose {
		mask |= LogDebug | LogInfo | LogError
	}
	if opt.Debug {
		mask = LogAll
	}
	Log.SetLevels(mask)

	switch {
	case opt.Syslog:
		Log.ToSyslog()
	case opt.Debug:
		if Conf.ColorConsole {
			Log.ToColorConsole()
		} else {
			Log.ToConsole()
		}
	default:
		Log.ToNowhere()
	}
}

func main() {
	opt := parseCliOptions()

	if err := ConfLoad(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	setupLogging(opt)

	if !opt.NoFork {
		if err := daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	os.Exit(runDaemon(opt))
}
