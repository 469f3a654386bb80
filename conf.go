/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Program configuration
 */

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	// ConfFileName defines a name of the ippusb-bridge configuration file
	ConfFileName = "ippusb-bridge.conf"
)

// Configuration represents a program configuration
type Configuration struct {
	HTTPMinPort       int      // Starting port number for the slide-up search
	HTTPMaxPort       int      // Checked to exceed HTTPMinPort; the slide-up search wraps at portSearchCeil, not here
	DNSSdEnable       bool     // Enable DNS-SD advertising
	LoopbackOnly      bool     // Announce DNS-SD services only on the listening interface
	IPV6Enable        bool     // Enable IPv6 listener/advertising
	IdleExit          int      // Seconds of inactivity before exiting, 0 disables
	LogDevice         LogLevel // Per-device log file LogLevel mask
	LogMain           LogLevel // Main log LogLevel mask
	LogConsole        LogLevel // Console LogLevel mask; loaded, but not applied to any logger
	LogMaxFileSize    int64    // Maximum log file size
	LogMaxBackupFiles uint     // Count of files preserved during rotation
	ColorConsole      bool     // Enable ANSI colors on console
}

// Conf contains a global instance of program configuration
var Conf = Configuration{
	HTTPMinPort:       49152,
	HTTPMaxPort:       65535,
	DNSSdEnable:       true,
	LoopbackOnly:      true,
	IPV6Enable:        true,
	IdleExit:          0,
	LogDevice:         LogDebug | LogInfo | LogError,
	LogMain:           LogDebug | LogInfo | LogError,
	LogConsole:        LogDebug | LogInfo | LogError,
	LogMaxFileSize:    256 * 1024,
	LogMaxBackupFiles: 5,
	ColorConsole:      true,
}

// ConfLoad loads the program configuration
func ConfLoad() error {
	exepath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("conf: %s", err)
	}
	exepath = filepath.Dir(exepath)

	files := []string{
		filepath.Join(PathConfDir, ConfFileName),
		filepath.Join(exepath, ConfFileName),
	}

	for _, file := range files {
		err = confLoadInternal(file)
		if err != nil {
			return fmt.Errorf("conf: %s", err)
		}
	}

	return nil
}

// confLoadInternal loads configuration from a single ini file, ignoring
// files that don't exist. Later files in ConfLoad's list win over earlier
// ones, key by key.
func confLoadInternal(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys: true,
	}, path)
	if err != nil {
		return fmt.Errorf("%s: %s", path, err)
	}

	net := cfg.Section("network")
	if key, err := net.GetKey("http-min-port"); err == nil {
		if err := confLoadIPPortKey(&Conf.HTTPMinPort, key); err != nil {
			return err
		}
	}
	if key, err := net.GetKey("http-max-port"); err == nil {
		if err := confLoadIPPortKey(&Conf.HTTPMaxPort, key); err != nil {
			return err
		}
	}
	if key, err := net.GetKey("dns-sd"); err == nil {
		if err := confLoadBinaryKey(&Conf.DNSSdEnable, key, "disable", "enable"); err != nil {
			return err
		}
	}
	if key, err := net.GetKey("interface"); err == nil {
		if err := confLoadBinaryKey(&Conf.LoopbackOnly, key, "all", "loopback"); err != nil {
			return err
		}
	}
	if key, err := net.GetKey("ipv6"); err == nil {
		if err := confLoadBinaryKey(&Conf.IPV6Enable, key, "disable", "enable"); err != nil {
			return err
		}
	}
	if key, err := net.GetKey("idle-exit"); err == nil {
		Conf.IdleExit = key.MustInt(Conf.IdleExit)
	}

	log := cfg.Section("logging")
	if key, err := log.GetKey("device-log"); err == nil {
		if err := confLoadLogLevelKey(&Conf.LogDevice, key); err != nil {
			return err
		}
	}
	if key, err := log.GetKey("main-log"); err == nil {
		if err := confLoadLogLevelKey(&Conf.LogMain, key); err != nil {
			return err
		}
	}
	if key, err := log.GetKey("console-log"); err == nil {
		if err := confLoadLogLevelKey(&Conf.LogConsole, key); err != nil {
			return err
		}
	}
	if key, err := log.GetKey("console-color"); err == nil {
		if err := confLoadBinaryKey(&Conf.ColorConsole, key, "disable", "enable"); err != nil {
			return err
		}
	}
	if key, err := log.GetKey("max-file-size"); err == nil {
		sz, serr := key.Uint64()
		if serr != nil {
			return confBadValue("max-file-size", "%q: invalid size", key.Value())
		}
		Conf.LogMaxFileSize = int64(sz)
	}
	if key, err := log.GetKey("max-backup-files"); err == nil {
		n, nerr := key.Uint()
		if nerr != nil {
			return confBadValue("max-backup-files", "%q: invalid number", key.Value())
		}
		Conf.LogMaxBackupFiles = uint(n)
	}

	if Conf.HTTPMinPort >= Conf.HTTPMaxPort {
		return errors.New("http-min-port must be less than http-max-port")
	}

	return nil
}

// confBadValue creates a "bad value" error for a configuration key
func confBadValue(key, format string, args ...interface{}) error {
	return fmt.Errorf(key+": "+format, args...)
}

// confLoadIPPortKey loads a TCP port number key
func confLoadIPPortKey(out *int, key *ini.Key) error {
	port, err := key.Int()
	if err == nil && (port < 1 || port > 65535) {
		err = confBadValue(key.Name(), "must be in range 1...65535")
	}
	if err != nil {
		return err
	}

	*out = port
	return nil
}

// confLoadBinaryKey loads a two-valued enum key
func confLoadBinaryKey(out *bool, key *ini.Key, vFalse, vTrue string) error {
	switch key.Value() {
	case vFalse:
		*out = false
		return nil
	case vTrue:
		*out = true
		return nil
	default:
		return confBadValue(key.Name(), "must be %s or %s", vFalse, vTrue)
	}
}

// confLoadLogLevelKey loads a comma-separated LogLevel key
func confLoadLogLevelKey(out *LogLevel, key *ini.Key) error {
	var mask LogLevel
	for _, s := range strings.Split(key.Value(), ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "":
		case "error":
			mask |= LogError
		case "info":
			mask |= LogInfo | LogError
		case "debug":
			mask |= LogDebug | LogInfo | LogError
		case "trace-ipp":
			mask |= LogTraceIPP | LogDebug | LogInfo | LogError
		case "trace-escl":
			mask |= LogTraceESCL | LogDebug | LogInfo | LogError
		case "trace-usb":
			mask |= LogTraceUSB | LogDebug | LogInfo | LogError
		case "all", "trace-all":
			mask |= LogAll
		default:
			return confBadValue(key.Name(), "invalid log level %q", s)
		}
	}

	*out = mask
	return nil
}
