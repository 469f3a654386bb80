/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * DNS-SD publisher: system-independent stuff — TXT record assembly
 * and the printer/scanner service descriptions built from the
 * capability probe and the IEEE-1284 device ID
 */

package main

import (
	"fmt"
	"strings"
)

// maxTxtItemLen is the maximum encoded length of a single DNS-SD TXT
// record item ("key=value"), per RFC 6763 6.1.
const maxTxtItemLen = 255

// TxtItem is a single TXT record item
type TxtItem struct {
	Key, Value string
}

// TxtRecord is a DNS-SD TXT record, in insertion order
type TxtRecord []TxtItem

// Add unconditionally appends an item
func (txt *TxtRecord) Add(key, value string) {
	*txt = append(*txt, TxtItem{key, value})
}

// IfNotEmpty adds an item only if value is non-empty, reporting
// whether it did
func (txt *TxtRecord) IfNotEmpty(key, value string) bool {
	if value == "" {
		return false
	}
	txt.Add(key, value)
	return true
}

// URLIfNotEmpty adds the value, trimmed of surrounding whitespace,
// only if it is then non-empty; it does not check that it is a URL
func (txt *TxtRecord) URLIfNotEmpty(key, value string) bool {
	return txt.IfNotEmpty(key, strings.TrimSpace(value))
}

// AddPDL adds a comma-separated pdl-style value, dropping whole
// trailing entries (never truncating one mid-string) so the
// resulting "key=value" item fits within maxTxtItemLen.
func (txt *TxtRecord) AddPDL(key, value string) {
	budget := maxTxtItemLen - len(key) - 1 // "="

	items := strings.Split(value, ",")
	var kept []string
	length := 0

	for i, it := range items {
		grow := len(it)
		if i > 0 {
			grow++ // separating comma
		}
		if length+grow > budget {
			break
		}
		length += grow
		kept = append(kept, it)
	}

	txt.IfNotEmpty(key, strings.Join(kept, ","))
}

// errNoDeviceID is returned by parseDeviceIdent when a required
// device ID field is missing
var errNoDeviceID = fmt.Errorf("IEEE-1284 device ID missing required fields")

// deviceIdent holds the subset of an IEEE-1284 device ID this
// bridge's DNS-SD registration cares about
type deviceIdent struct {
	mfg, mdl, cmd, serial string
}

// parseDeviceIdent extracts the fields dnssd registration requires
// from a raw IEEE-1284 device ID string. MFG/MANUFACTURER,
// MDL/MODEL and CMD/COMMAND SET are required; their absence is
// fatal to registration, per spec.
func parseDeviceIdent(devID string) (deviceIdent, error) {
	fields := ieee1284Fields(devID)

	mfg, ok1 := ieee1284Lookup(fields, "MFG", "MANUFACTURER")
	mdl, ok2 := ieee1284Lookup(fields, "MDL", "MODEL")
	cmd, ok3 := ieee1284Lookup(fields, "CMD", "COMMAND SET")
	if !ok1 || !ok2 || !ok3 {
		return deviceIdent{}, errNoDeviceID
	}

	serial, _ := ieee1284Lookup(fields, "SN", "SERN", "SERIALNUMBER")

	return deviceIdent{mfg: mfg, mdl: mdl, cmd: cmd, serial: serial}, nil
}

// serviceName builds the DNS-SD instance name: the model, with the
// serial appended in brackets when present
func (id deviceIdent) serviceName() string {
	if id.serial == "" {
		return id.mdl
	}
	return fmt.Sprintf("%s [%s]", id.mdl, id.serial)
}

// duplexFromURF derives the Bonjour Duplex TXT value ("T"/"F"/"U")
// from a urf-supported value's DMn token, n in 1..4: DM3/DM4 imply
// duplex, DM1/DM2 imply simplex-only, absence is unknown.
func duplexFromURF(ufr string) string {
	for _, tok := range strings.Split(ufr, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "DM1", "DM2":
			return "F"
		case "DM3", "DM4":
			return "T"
		}
	}
	return "U"
}

// printerServices builds the printer composite service set (IPP,
// LPD, HTTP admin) described in spec 4.8. pinfo may be nil if the
// capability probe never completed; the TXT record then carries
// only the device-ID-derived fields.
func printerServices(port int, id deviceIdent, pinfo *printerInfo) []DnsSdSvcInfo {
	pdl := pdlTokensFromCommandSet(id.cmd)
	ufr := ""
	if pinfo != nil {
		ufr = pinfo.Ufr
	}

	var txt TxtRecord
	txt.Add("rp", "ipp/print")
	txt.IfNotEmpty("Duplex", duplexFromURF(ufr))
	txt.IfNotEmpty("usb_MFG", id.mfg)
	txt.IfNotEmpty("usb_MDL", id.mdl)
	txt.Add("priority", "60")
	txt.Add("txtvers", "1")
	txt.Add("qtotal", "1")

	ty := id.mdl
	if pinfo != nil {
		txt.URLIfNotEmpty("adminurl", pinfo.AdminURL)
		txt.IfNotEmpty("UUID", pinfo.UUID)
		txt.IfNotEmpty("mopria-certified", pinfo.MopriaCertified)
		txt.IfNotEmpty("kind", pinfo.Kind)
		txt.IfNotEmpty("Color", pinfo.ColorSupported)
		txt.Add("note", pinfo.Note)
		if pinfo.Ty != "" {
			ty = pinfo.Ty
		}
		txt.IfNotEmpty("PaperMax", pinfo.PaperMax)
		if pdl == "" {
			pdl = pinfo.Pdl
		}
		txt.IfNotEmpty("UFR", pinfo.Ufr)
	}
	txt.Add("ty", ty)
	txt.Add("product", "("+ty+")")
	txt.AddPDL("pdl", pdl)

	ippSub := "_print._sub._ipp._tcp"
	if strings.Contains(pdl, "urf") && !strings.Contains(pdl, "pwg-raster") {
		ippSub = "_universal._sub._ipp._tcp"
	}

	ipp := DnsSdSvcInfo{
		Type:     "_ipp._tcp",
		Port:     port,
		Txt:      txt,
		SubTypes: []string{ippSub},
	}

	http := DnsSdSvcInfo{
		Type:     "_http._tcp",
		Port:     port,
		SubTypes: []string{"_printer._sub._http._tcp"},
	}

	// Per Apple's Bonjour Printing Specification, LPD is always
	// advertised, with a zero port, even when unsupported
	lpd := DnsSdSvcInfo{Type: "_printer._tcp", Port: 0}

	return []DnsSdSvcInfo{ipp, http, lpd}
}

// scannerService builds the _uscan._tcp service, or nil if the
// device has no eSCL scanner (sinfo == nil)
func scannerService(port int, id deviceIdent, pinfo *printerInfo, sinfo *scannerInfo) *DnsSdSvcInfo {
	if sinfo == nil {
		return nil
	}

	var txt TxtRecord
	txt.URLIfNotEmpty("representation", sinfo.Representation)
	txt.Add("note", "")
	txt.IfNotEmpty("UUID", sinfo.UUID)
	txt.URLIfNotEmpty("adminurl", sinfo.AdminURL)

	duplex := "F"
	if sinfo.Duplex {
		duplex = "T"
	}
	txt.Add("duplex", duplex)

	var is []string
	if sinfo.Platen {
		is = append(is, "platen")
	}
	if sinfo.Adf {
		is = append(is, "adf")
	}
	txt.IfNotEmpty("is", strings.Join(is, ","))

	txt.IfNotEmpty("cs", sinfo.Cs)
	txt.AddPDL("pdl", sinfo.Pdl)

	ty := sinfo.Ty
	if ty == "" {
		ty = id.mdl
		if pinfo != nil && pinfo.Ty != "" {
			ty = pinfo.Ty
		}
	}
	txt.Add("ty", ty)
	txt.Add("rs", "eSCL")
	txt.IfNotEmpty("vers", sinfo.Vers)
	txt.Add("txtvers", "1")

	return &DnsSdSvcInfo{Type: "_uscan._tcp", Port: port, Txt: txt}
}

// DnsSdSvcInfo is a single DNS-SD service: its type, port, subtypes
// and TXT record
type DnsSdSvcInfo struct {
	Type     string
	Port     int
	SubTypes []string
	Txt      TxtRecord
}
