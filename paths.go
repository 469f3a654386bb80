/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Common filesystem paths
 */

package main

const (
	// PathConfDir is the path to the configuration directory
	PathConfDir = "/etc/ippusb-bridge"

	// PathLogDir is the path to the directory device log files go to,
	// when logging to disk is requested
	PathLogDir = "/var/log/ippusb-bridge"
)
