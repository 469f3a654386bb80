/* ippusb-bridge - exposes an IPP-over-USB device as a loopback IPP/HTTP service
 *
 * Tests for capability.go
 */

package main

import (
	"strings"
	"testing"

	"github.com/OpenPrinting/goipp"
)

// buildMessage wraps a set of printer attributes into a minimal
// decoded goipp.Message, as if just received from the wire
func buildMessage(attrs goipp.Attributes) *goipp.Message {
	return &goipp.Message{
		Code:    0,
		Printer: attrs,
	}
}

func TestNewIppAttrsDuplicate(t *testing.T) {
	msg := buildMessage(goipp.Attributes{
		goipp.MakeAttr("printer-make-and-model", goipp.TagText,
			goipp.String("first")),
		goipp.MakeAttr("printer-make-and-model", goipp.TagText,
			goipp.String("second")),
	})

	attrs := newIppAttrs(msg)
	if got := attrs.strSingle("printer-make-and-model"); got != "first" {
		t.Errorf("strSingle: got %q, want %q", got, "first")
	}
}

func TestIppAttrsGetStrings(t *testing.T) {
	tests := []struct {
		attrs goipp.Attributes
		name  string
		out   []string
	}{
		{attrs: nil, name: "printer-kind", out: nil},
		{
			attrs: goipp.Attributes{
				goipp.MakeAttr("printer-kind", goipp.TagInteger, goipp.Integer(5)),
			},
			name: "printer-kind",
			out:  nil,
		},
		{
			attrs: goipp.Attributes{
				goipp.MakeAttr("printer-kind", goipp.TagKeyword,
					goipp.String("document"), goipp.String("envelope")),
			},
			name: "printer-kind",
			out:  []string{"document", "envelope"},
		},
	}

	for _, test := range tests {
		attrs := newIppAttrs(buildMessage(test.attrs))
		out := attrs.getStrings(test.name)

		if len(out) != len(test.out) {
			t.Errorf("getStrings(%q): got %v, want %v", test.name, out, test.out)
			continue
		}
		for i := range out {
			if out[i] != test.out[i] {
				t.Errorf("getStrings(%q): got %v, want %v", test.name, out, test.out)
				break
			}
		}
	}
}

func TestIppAttrsDecode(t *testing.T) {
	msg := buildMessage(goipp.Attributes{
		goipp.MakeAttr("printer-uuid", goipp.TagURI,
			goipp.String("urn:uuid:12345678-1234-1234-1234-123456789abc")),
		goipp.MakeAttr("printer-make-and-model", goipp.TagText,
			goipp.String("Test Printer")),
		goipp.MakeAttr("color-supported", goipp.TagBoolean, goipp.Boolean(true)),
		goipp.MakeAttr("document-format-supported", goipp.TagMimeType,
			goipp.String("application/pdf"), goipp.String("image/jpeg")),
	})

	info := newIppAttrs(msg).decode()

	if info.UUID != "12345678-1234-1234-1234-123456789abc" {
		t.Errorf("UUID: got %q", info.UUID)
	}
	if info.Ty != "Test Printer" {
		t.Errorf("Ty: got %q", info.Ty)
	}
	if info.ColorSupported != "T" {
		t.Errorf("ColorSupported: got %q", info.ColorSupported)
	}
	if info.Pdl != "application/pdf,image/jpeg" {
		t.Errorf("Pdl: got %q", info.Pdl)
	}
}

// Input attribute string from spec.md's "Concrete scenarios": two
// media-size-supported collections, expect papermax = tabloid-A3
func TestIppAttrsGetPaperMax(t *testing.T) {
	collection := func(x, y int) goipp.Collection {
		return goipp.Collection{
			goipp.MakeAttr("x-dimension", goipp.TagInteger, goipp.Integer(x)),
			goipp.MakeAttr("y-dimension", goipp.TagInteger, goipp.Integer(y)),
		}
	}

	msg := buildMessage(goipp.Attributes{
		goipp.MakeAttr("media-size-supported", goipp.TagBeginCollection,
			collection(21590, 35560), collection(29700, 43180)),
	})

	attrs := newIppAttrs(msg)
	if got := attrs.getPaperMax(); got != "tabloid-A3" {
		t.Errorf("getPaperMax: got %q, want %q", got, "tabloid-A3")
	}
}

func TestEsclCapsDecoder(t *testing.T) {
	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<scan:ScannerCapabilities xmlns:scan="http://schemas.hp.com/imaging/escl/2011/05/03"
                           xmlns:pwg="http://www.pwg.org/schemas/2010/12/sm">
  <pwg:Version>2.0</pwg:Version>
  <scan:UUID>12345678-1234-1234-1234-123456789abc</scan:UUID>
  <scan:Platen>
    <scan:PlatenInputCaps>
      <scan:SettingProfiles>
        <scan:SettingProfile>
          <scan:ColorModes>
            <scan:ColorMode>RGB24</scan:ColorMode>
            <scan:ColorMode>Grayscale8</scan:ColorMode>
          </scan:ColorModes>
          <scan:DocumentFormats>
            <pwg:DocumentFormat>image/jpeg</pwg:DocumentFormat>
          </scan:DocumentFormats>
        </scan:SettingProfile>
      </scan:SettingProfiles>
    </scan:PlatenInputCaps>
  </scan:Platen>
  <scan:Adf>
    <scan:AdfDuplexInputCaps>
      <scan:SettingProfiles>
        <scan:SettingProfile>
          <scan:ColorModes>
            <scan:ColorMode>BlackAndWhite1</scan:ColorMode>
          </scan:ColorModes>
          <scan:DocumentFormats>
            <pwg:DocumentFormat>application/pdf</pwg:DocumentFormat>
          </scan:DocumentFormats>
        </scan:SettingProfile>
      </scan:SettingProfiles>
    </scan:AdfDuplexInputCaps>
  </scan:Adf>
</scan:ScannerCapabilities>`

	decoder := newEsclCapsDecoder(nil)
	if err := decoder.decode(strings.NewReader(doc)); err != nil {
		t.Fatalf("decode: %s", err)
	}

	if decoder.version != "2.0" {
		t.Errorf("version: got %q", decoder.version)
	}
	if !decoder.platen || !decoder.adf || !decoder.duplex {
		t.Errorf("platen/adf/duplex: got %v/%v/%v", decoder.platen, decoder.adf, decoder.duplex)
	}
	if _, ok := decoder.cs["color"]; !ok {
		t.Error("cs: missing color")
	}
	if _, ok := decoder.cs["grayscale"]; !ok {
		t.Error("cs: missing grayscale")
	}
	if _, ok := decoder.cs["binary"]; !ok {
		t.Error("cs: missing binary")
	}
	if _, ok := decoder.pdl["image/jpeg"]; !ok {
		t.Error("pdl: missing image/jpeg")
	}
	if _, ok := decoder.pdl["application/pdf"]; !ok {
		t.Error("pdl: missing application/pdf")
	}
}

func TestEsclCapsDecoderFallback(t *testing.T) {
	pinfo := &printerInfo{UUID: "fallback-uuid", AdminURL: "http://printer/", Ty: "Fallback Printer"}
	decoder := newEsclCapsDecoder(pinfo)

	if decoder.uuid != "fallback-uuid" || decoder.adminurl != "http://printer/" || decoder.ty != "Fallback Printer" {
		t.Errorf("fallback not applied: %+v", decoder)
	}
}
