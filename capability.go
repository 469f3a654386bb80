/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Capability probe: queries the bridge's own loopback IPP and eSCL
 * endpoints once the TCP listener is up, and normalizes the result
 * into the fields the DNS-SD publisher needs for its TXT records
 */

package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
)

// printerInfo is the normalized result of the printer-side probe:
// an IPP Get-Printer-Attributes request against /ipp/print
type printerInfo struct {
	Representation  string // printer-icons
	UUID            string // printer-uuid, without urn:uuid: prefix
	AdminURL        string // printer-more-info
	MopriaCertified string
	Kind            string
	ColorSupported  string // "T", "F" or ""
	Note            string // printer-location
	Ty              string // printer-make-and-model
	Pdl             string // document-format-supported
	Ufr             string // urf-supported
	PaperMax        string
}

// scannerInfo is the normalized result of the scanner-side probe: an
// eSCL GET /eSCL/ScannerCapabilities request. Fields left empty by
// the device fall back to the printer-side probe's equivalents.
type scannerInfo struct {
	Vers           string
	Ty             string
	UUID           string
	AdminURL       string
	Representation string
	Pdl            string // comma-joined, deduplicated
	Cs             string // comma-joined color modes
	Platen, Adf    bool
	Duplex         bool
}

// probeCapabilities is the capability-probe worker body: it queries
// the printer over loopback, then the scanner (if any), each with
// up to capabilityProbeRetries attempts and exponential backoff,
// matching the original ippusbxd's resilience (src/capabilities.c).
// A nil scannerInfo means the device has no eSCL service, which is
// not itself an error.
func probeCapabilities(port int) (*printerInfo, *scannerInfo) {
	client := &http.Client{Timeout: tcpRecvTimeout}

	pinfo, err := probeWithRetry("IPP", func() (*printerInfo, error) {
		return probePrinter(client, port)
	})
	if err != nil {
		Log.Error('!', "capability probe: printer: %s", err)
		pinfo = nil
	}

	sinfo, err := probeWithRetry("eSCL", func() (*scannerInfo, error) {
		return probeScanner(client, port, pinfo)
	})
	if err != nil {
		Log.Debug(' ', "capability probe: scanner: %s", err)
		sinfo = nil
	}

	return pinfo, sinfo
}

// probeWithRetry runs fn up to capabilityProbeRetries times, sleeping
// with doubling backoff between attempts (500ms, then 1s, for the
// default of 3 attempts)
func probeWithRetry[T any](what string, fn func() (*T, error)) (*T, error) {
	backoff := capabilityProbeInitBackoff
	var err error

	for attempt := 0; attempt < capabilityProbeRetries; attempt++ {
		var v *T
		v, err = fn()
		if err == nil {
			return v, nil
		}

		if attempt+1 < capabilityProbeRetries {
			Log.Debug(' ', "capability probe: %s attempt %d failed: %s, retrying",
				what, attempt+1, err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return nil, err
}

// probePrinter issues an IPP Get-Printer-Attributes request against
// the bridge's own /ipp/print endpoint and decodes the response
func probePrinter(c *http.Client, port int) (*printerInfo, error) {
	uri := fmt.Sprintf("http://127.0.0.1:%d/ipp/print", port)

	msg := goipp.NewRequest(goipp.DefaultVersion, goipp.OpGetPrinterAttributes, 1)
	msg.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	msg.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en-US")))
	msg.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(uri)))

	rq := goipp.Attribute{Name: "requested-attributes"}
	for _, name := range []string{
		"color-supported",
		"document-format-supported",
		"media-size-supported",
		"mopria-certified",
		"printer-icons",
		"printer-kind",
		"printer-location",
		"printer-make-and-model",
		"printer-more-info",
		"printer-uuid",
		"urf-supported",
	} {
		rq.Values.Add(goipp.TagKeyword, goipp.String(name))
	}
	msg.Operation.Add(rq)

	req, err := msg.EncodeBytes()
	if err != nil {
		return nil, err
	}

	Log.Add(LogTraceIPP, '>', "IPP request:").
		IppRequest(LogTraceIPP, '>', msg).
		Nl(LogTraceIPP).
		Flush()

	resp, err := c.Post(uri, goipp.ContentType, bytes.NewBuffer(req))
	if err != nil {
		return nil, fmt.Errorf("HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP: %s", resp.Status)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("HTTP: %w", err)
	}

	if err := msg.DecodeBytes(body); err != nil {
		return nil, fmt.Errorf("IPP decode: %w", err)
	}

	Log.Add(LogTraceIPP, '<', "IPP response:").
		IppResponse(LogTraceIPP, '<', msg).
		Nl(LogTraceIPP).
		Flush()

	if msg.Code >= 0x100 {
		return nil, fmt.Errorf("IPP: %s", goipp.Status(msg.Code))
	}

	return newIppAttrs(msg).decode(), nil
}

// ippAttrs is a collection of IPP printer attributes keyed by name,
// for convenient repeated lookup
type ippAttrs map[string]goipp.Values

// newIppAttrs builds an ippAttrs from a decoded response message. It
// walks from the end of the list so the first occurrence of a
// duplicated attribute wins, matching how IPP responses are built.
func newIppAttrs(msg *goipp.Message) ippAttrs {
	attrs := make(ippAttrs)
	for i := len(msg.Printer) - 1; i >= 0; i-- {
		attr := msg.Printer[i]
		attrs[attr.Name] = attr.Values
	}
	return attrs
}

func (attrs ippAttrs) decode() *printerInfo {
	info := &printerInfo{
		Representation:  attrs.strSingle("printer-icons"),
		AdminURL:        attrs.strSingle("printer-more-info"),
		MopriaCertified: attrs.strSingle("mopria-certified"),
		Kind:            attrs.strJoined("printer-kind"),
		ColorSupported:  attrs.getBool("color-supported"),
		Note:            attrs.strSingle("printer-location"),
		Ty:              attrs.strSingle("printer-make-and-model"),
		Pdl:             attrs.strJoined("document-format-supported"),
		Ufr:             attrs.strJoined("urf-supported"),
		PaperMax:        attrs.getPaperMax(),
	}

	uuid := attrs.strSingle("printer-uuid")
	if strings.HasPrefix(uuid, "urn:uuid:") {
		uuid = uuid[len("urn:uuid:"):]
	}
	info.UUID = uuid

	return info
}

// getPaperMax classifies the maximum paper size out of
// media-size-supported, per the Apple Bonjour thresholds in paper.go
func (attrs ippAttrs) getPaperMax() string {
	vals := attrs.getAttr(goipp.TypeCollection, "media-size-supported")
	if vals == nil {
		return ""
	}

	var xDimMax, yDimMax int

	for _, v := range vals {
		collection := v.(goipp.Collection)

		var xDimAttr, yDimAttr goipp.Attribute
		for i := len(collection) - 1; i >= 0; i-- {
			switch collection[i].Name {
			case "x-dimension":
				xDimAttr = collection[i]
			case "y-dimension":
				yDimAttr = collection[i]
			}
		}

		if d := dimensionMax(xDimAttr); d > xDimMax {
			xDimMax = d
		}
		if d := dimensionMax(yDimAttr); d > yDimMax {
			yDimMax = d
		}
	}

	if xDimMax == 0 || yDimMax == 0 {
		return ""
	}

	return PaperSize{xDimMax, yDimMax}.Classify()
}

// dimensionMax extracts the largest value out of a x/y-dimension
// attribute, which is either a plain integer or an integer range
func dimensionMax(attr goipp.Attribute) int {
	if len(attr.Values) == 0 {
		return 0
	}

	switch v := attr.Values[0].V.(type) {
	case goipp.Integer:
		return int(v)
	case goipp.Range:
		return int(v.Upper)
	}

	return 0
}

func (attrs ippAttrs) strSingle(name string) string {
	strs := attrs.getStrings(name)
	if len(strs) == 0 {
		return ""
	}
	return strs[0]
}

func (attrs ippAttrs) strJoined(name string) string {
	return strings.Join(attrs.getStrings(name), ",")
}

func (attrs ippAttrs) getStrings(name string) []string {
	vals := attrs.getAttr(goipp.TypeString, name)
	strs := make([]string, len(vals))
	for i := range vals {
		strs[i] = string(vals[i].(goipp.String))
	}
	return strs
}

func (attrs ippAttrs) getBool(name string) string {
	vals := attrs.getAttr(goipp.TypeBoolean, name)
	if vals == nil {
		return ""
	}
	if vals[0].(goipp.Boolean) {
		return "T"
	}
	return "F"
}

func (attrs ippAttrs) getAttr(t goipp.Type, name string) []goipp.Value {
	v, ok := attrs[name]
	if !ok || len(v) == 0 || v[0].V.Type() != t {
		return nil
	}

	vals := make([]goipp.Value, len(v))
	for i := range v {
		vals[i] = v[i].V
	}
	return vals
}

// probeScanner issues an HTTP GET against the bridge's own
// /eSCL/ScannerCapabilities endpoint and decodes the response. A
// device with no eSCL service answers with a non-2xx status or a
// malformed body, which is reported as an error so the caller can
// treat the scanner as absent.
func probeScanner(c *http.Client, port int, pinfo *printerInfo) (*scannerInfo, error) {
	uri := fmt.Sprintf("http://127.0.0.1:%d/eSCL/ScannerCapabilities", port)

	resp, err := c.Get(uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP status: %s", resp.Status)
	}

	xmlData, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	Log.Add(LogTraceESCL, '<', "ESCL Scanner Capabilities:")
	lw := Log.LineWriter(LogTraceESCL, '<')
	lw.Write(xmlData)
	lw.Close()
	Log.Nl(LogTraceESCL)
	Log.Flush()

	decoder := newEsclCapsDecoder(pinfo)
	if err := decoder.decode(bytes.NewBuffer(xmlData)); err != nil {
		return nil, err
	}

	switch {
	case decoder.version == "":
		return nil, errors.New("missed pwg:Version")
	case len(decoder.cs) == 0:
		return nil, errors.New("missed scan:ColorMode")
	case len(decoder.pdl) == 0:
		return nil, errors.New("missed pwg:DocumentFormat")
	case !(decoder.platen || decoder.adf):
		return nil, errors.New("missed Platen/Adf")
	}

	cs := make([]string, 0, len(decoder.cs))
	for c := range decoder.cs {
		cs = append(cs, c)
	}
	sort.Strings(cs)

	pdl := make([]string, 0, len(decoder.pdl))
	for p := range decoder.pdl {
		pdl = append(pdl, p)
	}
	sort.Strings(pdl)

	return &scannerInfo{
		Vers:           decoder.version,
		Ty:             decoder.ty,
		UUID:           decoder.uuid,
		AdminURL:       decoder.adminurl,
		Representation: decoder.representation,
		Pdl:            strings.Join(pdl, ","),
		Cs:             strings.Join(cs, ","),
		Platen:         decoder.platen,
		Adf:            decoder.adf,
		Duplex:         decoder.duplex,
	}, nil
}

// esclCapsDecoder accumulates a depth-first walk of a
// ScannerCapabilities XML document
type esclCapsDecoder struct {
	uuid, adminurl, representation, ty string
	version                            string
	platen, adf                        bool
	duplex                             bool
	pdl, cs                            map[string]struct{}
}

// newEsclCapsDecoder creates a decoder pre-seeded with printer-side
// fallback values, used whenever the scanner's own elements are
// absent
func newEsclCapsDecoder(pinfo *printerInfo) *esclCapsDecoder {
	decoder := &esclCapsDecoder{
		pdl: make(map[string]struct{}),
		cs:  make(map[string]struct{}),
	}

	if pinfo != nil {
		decoder.uuid = pinfo.UUID
		decoder.adminurl = pinfo.AdminURL
		decoder.representation = pinfo.Representation
		decoder.ty = pinfo.Ty
	}

	return decoder
}

func (decoder *esclCapsDecoder) decode(in io.Reader) error {
	xmlDecoder := xml.NewDecoder(in)

	var path bytes.Buffer
	var lenStack []int

	for {
		token, err := xmlDecoder.RawToken()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			lenStack = append(lenStack, path.Len())
			path.WriteByte('/')
			path.WriteString(t.Name.Space)
			path.WriteByte(':')
			path.WriteString(t.Name.Local)
			decoder.element(path.String())

		case xml.EndElement:
			last := len(lenStack) - 1
			path.Truncate(lenStack[last])
			lenStack = lenStack[:last]

		case xml.CharData:
			data := bytes.TrimSpace(t)
			if len(data) > 0 {
				decoder.data(path.String(), string(data))
			}
		}
	}

	return nil
}

const (
	esclPlaten          = "/scan:ScannerCapabilities/scan:Platen"
	esclAdf             = "/scan:ScannerCapabilities/scan:Adf"
	esclPlatenInputCaps = esclPlaten + "/scan:PlatenInputCaps"
	esclAdfSimplexCaps  = esclAdf + "/scan:AdfSimplexInputCaps"
	esclAdfDuplexCaps   = esclAdf + "/scan:AdfDuplexInputCaps"

	esclSettingProfile    = "/scan:SettingProfiles/scan:SettingProfile"
	esclColorMode         = esclSettingProfile + "/scan:ColorModes/scan:ColorMode"
	esclDocumentFormat    = esclSettingProfile + "/scan:DocumentFormats/pwg:DocumentFormat"
	esclDocumentFormatExt = esclSettingProfile + "/scan:DocumentFormats/scan:DocumentFormatExt"
)

// element handles the start of a nesting element that signals a
// capability by its mere presence (Platen/Adf/duplex support), as
// opposed to one carrying character data
func (decoder *esclCapsDecoder) element(path string) {
	switch path {
	case esclPlaten:
		decoder.platen = true
	case esclAdf:
		decoder.adf = true
	case esclAdfDuplexCaps:
		decoder.duplex = true
	}
}

// data handles character data found at a recognized element path.
// Container element names (ScannerCapabilities, SettingProfiles,
// ColorModes, ...) never match here and so contribute nothing
// directly, only through their children.
func (decoder *esclCapsDecoder) data(path, data string) {
	switch path {
	case "/scan:ScannerCapabilities/scan:UUID":
		if uuid := UUIDNormalize(data); uuid != "" {
			decoder.uuid = uuid
		}
	case "/scan:ScannerCapabilities/scan:MakeAndModel":
		decoder.ty = data
	case "/scan:ScannerCapabilities/scan:AdminURI":
		decoder.adminurl = data
	case "/scan:ScannerCapabilities/scan:IconURI":
		decoder.representation = data
	case "/scan:ScannerCapabilities/pwg:Version":
		decoder.version = data

	case esclPlatenInputCaps + esclColorMode,
		esclAdfSimplexCaps + esclColorMode,
		esclAdfDuplexCaps + esclColorMode:

		data = strings.ToLower(data)
		switch {
		case strings.HasPrefix(data, "rgb"):
			decoder.cs["color"] = struct{}{}
		case strings.HasPrefix(data, "grayscale"):
			decoder.cs["grayscale"] = struct{}{}
		case strings.HasPrefix(data, "blackandwhite"):
			decoder.cs["binary"] = struct{}{}
		}

	case esclPlatenInputCaps + esclDocumentFormat,
		esclAdfSimplexCaps + esclDocumentFormat,
		esclAdfDuplexCaps + esclDocumentFormat,
		esclPlatenInputCaps + esclDocumentFormatExt,
		esclAdfSimplexCaps + esclDocumentFormatExt,
		esclAdfDuplexCaps + esclDocumentFormatExt:

		decoder.pdl[data] = struct{}{}
	}
}
