package svcodec

import (
	"encoding/hex"
	"net"
	"strings"
	"testing"

	"github.com/kstaniek/sv-arbitrator/internal/svframe"
)

func sampleFrame() svframe.Frame {
	return svframe.Frame{
		DstMAC:   net.HardwareAddr{0x01, 0x0C, 0xCD, 0x04, 0xFF, 0xFF},
		SrcMAC:   net.HardwareAddr{0x00, 0x1A, 0x11, 0x00, 0x00, 0x01},
		VLAN:     &svframe.VLANTag{TPID: VLANTPID, TCI: DefaultTCI},
		AppID:    DefaultAppID,
		SvID:     [4]byte{'4', '0', '0', '1'},
		SmpCnt:   0,
		ConfRev:  1,
		SmpSynch: 1,
	}
}

// TestEncode_MatchesWorkedExample checks the exact byte sequence from spec
// section 6 for a default frame with zeroed channel magnitudes and smpCnt=0.
func TestEncode_MatchesWorkedExample(t *testing.T) {
	c := NewCodec()
	f := sampleFrame()
	got := c.Encode(f)

	want := strings.ReplaceAll(
		"01 0C CD 04 FF FF 00 1A 11 00 00 01 81 00 80 00 88 BA 40 01 00 66 00 00 00 00 60 5C 80 01 01 A2 57 30 55 80 04 34 30 30 31 82 02 00 00 83 04 00 00 00 01 85 01 01 87 40",
		" ", "")
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	if len(got) < len(wantBytes) {
		t.Fatalf("encoded frame shorter than fixture prefix: got %d bytes", len(got))
	}
	if !bytesEqual(got[:len(wantBytes)], wantBytes) {
		t.Fatalf("encoded prefix mismatch:\n got  %X\n want %X", got[:len(wantBytes)], wantBytes)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec()
	f := sampleFrame()
	f.Dataset[svframe.ChIa] = svframe.Channel{Value: 12345, Quality: 0}
	f.Dataset[svframe.ChVa] = svframe.Channel{Value: -500, Quality: svframe.QualityOperatorBit}

	wire := c.Encode(f)
	got, err := c.Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SvID != f.SvID || got.SmpCnt != f.SmpCnt || got.ConfRev != f.ConfRev || got.SmpSynch != f.SmpSynch {
		t.Fatalf("round-trip header mismatch: got %+v want %+v", got, f)
	}
	if got.Dataset != f.Dataset {
		t.Fatalf("round-trip dataset mismatch: got %+v want %+v", got.Dataset, f.Dataset)
	}
	if got.VLAN == nil || got.VLAN.TPID != VLANTPID {
		t.Fatalf("expected VLAN tag to survive round-trip, got %+v", got.VLAN)
	}
}

func TestCodec_RejectsBadEtherType(t *testing.T) {
	c := NewCodec()
	wire := c.Encode(sampleFrame())
	// Ethertype sits right after the VLAN TCI, at byte offset 16.
	wire[16] = 0x08
	wire[17] = 0x00
	if _, err := c.Decode(wire); err == nil {
		t.Fatal("expected decode error for bad ethertype")
	} else if mf, ok := err.(MalformedFrame); !ok || mf.Reason != BadEtherType {
		t.Fatalf("expected BadEtherType, got %v", err)
	}
}

func TestCodec_RejectsTooShort(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode(make([]byte, 10)); err == nil {
		t.Fatal("expected decode error for short frame")
	} else if mf, ok := err.(MalformedFrame); !ok || mf.Reason != TooShort {
		t.Fatalf("expected TooShort, got %v", err)
	}
}

func TestCodec_RejectsFcsMismatch(t *testing.T) {
	c := NewCodec()
	wire := c.Encode(sampleFrame())
	wire[len(wire)-1] ^= 0xFF
	if _, err := c.Decode(wire); err == nil {
		t.Fatal("expected decode error for bad FCS")
	} else if mf, ok := err.(MalformedFrame); !ok || mf.Reason != FcsMismatch {
		t.Fatalf("expected FcsMismatch, got %v", err)
	}
}

// TestCodec_SingleBitFlipInDatasetBreaksFcs exercises the "bad FCS" testable
// property: a single flipped bit inside the FCS-covered region must trigger
// FcsMismatch, never decode silently to a different valid frame.
func TestCodec_SingleBitFlipInDatasetBreaksFcs(t *testing.T) {
	c := NewCodec()
	wire := c.Encode(sampleFrame())
	datasetStart := len(wire) - fcsLen - lenDataset
	wire[datasetStart] ^= 0x01
	if _, err := c.Decode(wire); err == nil {
		t.Fatal("expected FCS mismatch after flipping a dataset bit")
	} else if mf, ok := err.(MalformedFrame); !ok || mf.Reason != FcsMismatch {
		t.Fatalf("expected FcsMismatch, got %v", err)
	}
}

func TestQualitySum(t *testing.T) {
	var ds svframe.Dataset
	if QualitySum(ds) != 0 {
		t.Fatal("zeroed dataset should sum to 0")
	}
	ds[0].Quality = 1
	ds[1].Quality = 2
	if got := QualitySum(ds); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}
