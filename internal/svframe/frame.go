// Package svframe defines the IEC 61850-9-2 Sampled-Value frame shape
// shared by the codec, intake, and arbiter packages.
package svframe

import "net"

// NumChannels is the number of phasor channels in the dataset:
// Ia, Ib, Ic, In, Va, Vb, Vc, Vn.
const NumChannels = 8

// Channel indices into a Dataset, in wire order.
const (
	ChIa = iota
	ChIb
	ChIc
	ChIn
	ChVa
	ChVb
	ChVc
	ChVn
)

// Quality is the IEC 61850 per-channel quality bit-field. Zero means good.
type Quality uint32

// Quality bit layout (low two bits, bit 13). Master-FSM classification does
// not test these bits; it uses the arithmetic svcodec.QualitySum.
const (
	QualityInvalidMask     Quality = 0x3
	QualityQuestionableBit Quality = 0x3
	QualityOperatorBit     Quality = 0x2000 // set on neutral channels as operational metadata
)

// Channel is one (value, quality) phasor sample.
type Channel struct {
	Value   int32
	Quality Quality
}

// Dataset holds the 8 ordered phasor channels of one ASDU.
type Dataset [NumChannels]Channel

// VLANTag is the optional IEEE 802.1Q tag preceding the EtherType.
type VLANTag struct {
	TPID uint16 // 0x8100
	TCI  uint16 // priority(3) | DEI(1) | VID(12), default 0x8000
}

// Frame is one decoded SV Ethernet frame.
type Frame struct {
	DstMAC   net.HardwareAddr
	SrcMAC   net.HardwareAddr
	VLAN     *VLANTag // nil on receive means untagged; always set on transmit
	AppID    uint16
	SvID     [4]byte // ASCII digit string, e.g. "4000"
	SmpCnt   uint16  // wraps at 4800
	ConfRev  uint32
	SmpSynch uint8
	Dataset  Dataset
}

// MUIndex names one of the two redundant merging units.
type MUIndex int

const (
	MU1 MUIndex = iota
	MU2
	numMUs
)

func (m MUIndex) String() string {
	switch m {
	case MU1:
		return "MU1"
	case MU2:
		return "MU2"
	default:
		return "MU?"
	}
}

// MarshalJSON renders MUIndex as its name ("MU1"/"MU2") rather than a bare
// integer, since the diagnostics tap's JSON stream is meant to be read by a
// human tailing a TCP connection.
func (m MUIndex) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// Other returns the peer of m (only meaningful for MU1/MU2).
func (m MUIndex) Other() MUIndex {
	if m == MU1 {
		return MU2
	}
	return MU1
}

// SvIDMap maps the wire svID literal to a logical MU index.
type SvIDMap map[[4]byte]MUIndex

// DefaultSvIDMap is the statically configured svID->MU mapping from the spec:
// svID "4000" (0x34303030) -> MU1, svID "4001" (0x34303031) -> MU2.
func DefaultSvIDMap() SvIDMap {
	return SvIDMap{
		{'4', '0', '0', '0'}: MU1,
		{'4', '0', '0', '1'}: MU2,
	}
}

// Lookup resolves a wire svID to a logical MU index.
func (m SvIDMap) Lookup(svID [4]byte) (MUIndex, bool) {
	mu, ok := m[svID]
	return mu, ok
}
