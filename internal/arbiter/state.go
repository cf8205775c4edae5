// Package arbiter implements the dual finite-state machine that elects
// which merging unit's sampled-value stream is currently authoritative.
package arbiter

import "github.com/kstaniek/sv-arbitrator/internal/svframe"

// WindowSize is the number of trailing samples per channel per MU kept for
// dispersion comparison (N in the design notes).
const WindowSize = 40

// Window is one MU's ring of recent per-channel magnitudes.
type Window [svframe.NumChannels][WindowSize]int32

// State is the single shared record the master and slave FSMs read and
// mutate. It is owned exclusively by the arbiter's ingest loop; nothing in
// this package introduces locking because nothing shares it across
// goroutines.
type State struct {
	Window [2]Window
	Fill   [2]uint32

	ContInvalid uint32
	ErrorPct    float32
	ActiveMU    svframe.MUIndex
	Block       bool

	// LastQualitySum records the most recently observed quality_sum per MU,
	// used by the master FSM's backup-probe step without re-reading the wire.
	LastQualitySum [2]uint32

	// MasterToggles and SlaveToggles count ActiveMU flips attributed to each
	// FSM, so a caller (intake) can report them as separate metrics without
	// this package importing a metrics library.
	MasterToggles uint64
	SlaveToggles  uint64
}

// NewState returns a fresh arbiter state with MU1 active, per spec.
func NewState() *State {
	return &State{ActiveMU: svframe.MU1}
}

func (s *State) resetWindows() {
	s.Window[0] = Window{}
	s.Window[1] = Window{}
	s.Fill[0] = 0
	s.Fill[1] = 0
}
