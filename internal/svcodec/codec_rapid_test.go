package svcodec

import (
	"net"
	"testing"

	"github.com/kstaniek/sv-arbitrator/internal/svframe"
	"pgregory.net/rapid"
)

// TestCodec_RoundTripProperty checks the core wire-codec round-trip property:
// decode(encode(f)) reproduces f's svID, smpCnt, confRev, smpSynch and
// dataset across randomly generated values (destination MAC, VLAN tag and
// AppID are held fixed; MACs, VLAN and AppID are not compared).
func TestCodec_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := NewCodec()
		f := svframe.Frame{
			DstMAC:   net.HardwareAddr{0x01, 0x0C, 0xCD, 0x04, 0xFF, 0xFF},
			SrcMAC:   randMAC(rt),
			VLAN:     &svframe.VLANTag{TPID: VLANTPID, TCI: DefaultTCI},
			AppID:    DefaultAppID,
			SvID:     randSvID(rt),
			SmpCnt:   uint16(rapid.IntRange(0, 4799).Draw(rt, "smpCnt")),
			ConfRev:  uint32(rapid.IntRange(0, 1<<31-1).Draw(rt, "confRev")),
			SmpSynch: uint8(rapid.IntRange(0, 255).Draw(rt, "smpSynch")),
		}
		for i := 0; i < svframe.NumChannels; i++ {
			f.Dataset[i] = svframe.Channel{
				Value:   int32(rapid.IntRange(-1<<20, 1<<20).Draw(rt, "value")),
				Quality: svframe.Quality(rapid.IntRange(0, 0xFFFF).Draw(rt, "quality")),
			}
		}

		wire := c.Encode(f)
		got, err := c.Decode(wire)
		if err != nil {
			rt.Fatalf("Decode: %v", err)
		}
		if got.SvID != f.SvID || got.SmpCnt != f.SmpCnt || got.ConfRev != f.ConfRev || got.SmpSynch != f.SmpSynch {
			rt.Fatalf("header mismatch: got %+v want %+v", got, f)
		}
		if got.Dataset != f.Dataset {
			rt.Fatalf("dataset mismatch: got %+v want %+v", got.Dataset, f.Dataset)
		}
	})
}

func randMAC(rt *rapid.T) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	for i := range mac {
		mac[i] = byte(rapid.IntRange(0, 255).Draw(rt, "macByte"))
	}
	return mac
}

func randSvID(rt *rapid.T) [4]byte {
	var id [4]byte
	for i := range id {
		id[i] = byte('0' + rapid.IntRange(0, 9).Draw(rt, "svidDigit"))
	}
	return id
}
