/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * IEEE-1284 device ID parsing
 */

package main

import "strings"

// ieee1284MinLength is the smallest sane length field for a device
// ID: the 2-byte length prefix plus at least 12 bytes of content.
const ieee1284MinLength = 14

// parseIEEE1284 strips the two-byte length prefix from a raw device
// ID control-transfer response and returns the ASCII payload.
//
// The prefix is nominally MSB-first (per the 1284.4/IPP-USB usage),
// but some printers report it LSB-first. A length outside
// [ieee1284MinLength, len(raw)] is treated as a decode failure for
// that byte order, and the other order is tried before giving up —
// this is the exact anti-bug two-pass rule: trusting the first
// decode blindly can walk off the end of the buffer on a malformed
// response.
func parseIEEE1284(raw []byte) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}

	msb := int(raw[0])<<8 | int(raw[1])
	if msb >= ieee1284MinLength && msb <= len(raw) {
		return ieee1284Strip(raw, msb), true
	}

	lsb := int(raw[1])<<8 | int(raw[0])
	if lsb >= ieee1284MinLength && lsb <= len(raw) {
		return ieee1284Strip(raw, lsb), true
	}

	return "", false
}

// ieee1284Strip removes the 2-byte length prefix and trims a
// trailing NUL, if any
func ieee1284Strip(raw []byte, length int) string {
	s := raw[2:length]
	if i := len(s) - 1; i >= 0 && s[i] == 0 {
		s = s[:i]
	}
	return string(s)
}

// ieee1284Fields splits a device ID string into its semicolon-terminated
// "KEY:value" fields, keyed by the upper-cased key
func ieee1284Fields(devID string) map[string]string {
	fields := make(map[string]string)

	for _, field := range strings.Split(devID, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		colon := strings.IndexByte(field, ':')
		if colon < 0 {
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(field[:colon]))
		val := strings.TrimSpace(field[colon+1:])
		if _, dup := fields[key]; !dup {
			fields[key] = val
		}
	}

	return fields
}

// ieee1284Lookup returns the first present value among a set of
// synonymous keys (e.g. MFG/MANUFACTURER)
func ieee1284Lookup(fields map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return v, true
		}
	}
	return "", false
}

// pdlTokensFromCommandSet scans the CMD/COMMAND SET field for known
// page-description-language substrings (case-insensitive) and returns
// the comma-joined pdl value used in DNS-SD TXT records.
func pdlTokensFromCommandSet(cmdSet string) string {
	lower := strings.ToLower(cmdSet)

	var tokens []string
	add := func(name string) {
		for _, t := range tokens {
			if t == name {
				return
			}
		}
		tokens = append(tokens, name)
	}

	has := func(subs ...string) bool {
		for _, s := range subs {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}

	if has("pwg", "raster") {
		add("image/pwg-raster")
	}
	if has("apple", "raster") {
		add("image/urf")
	}
	if strings.Contains(lower, "urf") {
		add("image/urf")
	}
	if strings.Contains(lower, "pclm") {
		add("application/PCLm")
	}
	if strings.Contains(lower, "pdf") {
		add("application/pdf")
	}
	if strings.Contains(lower, "jpeg") || strings.Contains(lower, "jpg") {
		add("image/jpeg")
	}

	return strings.Join(tokens, ",")
}
