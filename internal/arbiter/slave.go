package arbiter

import (
	"math"

	"github.com/kstaniek/sv-arbitrator/internal/svframe"
)

// SlaveState is one state of the dispersion FSM.
type SlaveState int

const (
	SlaveGetSmpValue SlaveState = iota
	SlaveCalculusOfDispersion
	SlaveCheckErrorPercentage
	SlaveKeepMU
	SlaveToggleMUDispersion
	SlaveResetDispersion
)

func (s SlaveState) String() string {
	switch s {
	case SlaveGetSmpValue:
		return "GetSmpValue"
	case SlaveCalculusOfDispersion:
		return "CalculusOfDispersion"
	case SlaveCheckErrorPercentage:
		return "CheckErrorPercentage"
	case SlaveKeepMU:
		return "KeepMU"
	case SlaveToggleMUDispersion:
		return "ToggleMUDispersion"
	case SlaveResetDispersion:
		return "ResetDispersion"
	default:
		return "Unknown"
	}
}

// errorThreshold is the relative dispersion at or above which the slave FSM
// requests a toggle.
const errorThreshold = 0.25

// Slave is the dispersion FSM. It windows per-channel magnitudes from both
// MUs and, once both windows fill, compares their relative error.
type Slave struct {
	state     SlaveState
	st        *State
	threshold float32
}

// SlaveOption configures a Slave at construction, overriding a threshold
// that otherwise defaults to the spec's fixed value.
type SlaveOption func(*Slave)

// WithErrorThreshold overrides the relative-dispersion threshold (default
// 0.25) at or above which the slave FSM requests a toggle.
func WithErrorThreshold(v float32) SlaveOption {
	return func(s *Slave) { s.threshold = v }
}

// NewSlave returns a Slave FSM bound to the shared arbiter state.
func NewSlave(st *State, opts ...SlaveOption) *Slave {
	s := &Slave{state: SlaveGetSmpValue, st: st, threshold: errorThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CurrentState reports the FSM's current state.
func (s *Slave) CurrentState() SlaveState { return s.state }

// OnSample delivers a GetSample event: the magnitudes of ds are appended to
// mu's window. Only meaningful while parked in CalculusOfDispersion,
// awaiting the next sample; while Block is set the event is absorbed and no
// window is touched, per the blocking invariant.
func (s *Slave) OnSample(mu svframe.MUIndex, ds svframe.Dataset) {
	if s.st.Block {
		return
	}
	if s.state != SlaveCalculusOfDispersion {
		return
	}

	fill := s.st.Fill[mu]
	if fill < WindowSize {
		w := &s.st.Window[mu]
		for c := 0; c < svframe.NumChannels; c++ {
			w[c][fill] = ds[c].Value
		}
		s.st.Fill[mu] = fill + 1
	}

	if s.st.Fill[svframe.MU1] >= WindowSize && s.st.Fill[svframe.MU2] >= WindowSize {
		s.state = SlaveCheckErrorPercentage
	} else {
		s.state = SlaveGetSmpValue
	}
}

// Tick performs exactly one auto transition and reports whether it toggled
// ActiveMU. If Block is set it resets the windows and parks in GetSmpValue
// regardless of prior state, per spec 4.4's "on entry, if block is set" rule.
func (s *Slave) Tick() bool {
	if s.st.Block {
		s.st.resetWindows()
		s.state = SlaveGetSmpValue
		return false
	}
	switch s.state {
	case SlaveGetSmpValue:
		s.state = SlaveCalculusOfDispersion
	case SlaveCheckErrorPercentage:
		s.st.ErrorPct = s.computeError()
		if s.st.ErrorPct >= s.threshold {
			s.state = SlaveToggleMUDispersion
		} else {
			s.state = SlaveKeepMU
		}
	case SlaveKeepMU:
		s.state = SlaveResetDispersion
	case SlaveToggleMUDispersion:
		s.st.ActiveMU = s.st.ActiveMU.Other()
		s.state = SlaveResetDispersion
		return true
	case SlaveResetDispersion:
		s.st.resetWindows()
		s.st.ErrorPct = 0
		s.state = SlaveGetSmpValue
	case SlaveCalculusOfDispersion:
		// quiescent; waiting on the next GetSample event
	}
	return false
}

// computeError implements the two-sided relative dispersion from spec 4.4.
// A zero-magnitude sample contributes nothing to its side's sum but the
// divisor is never reduced -- a deliberate smoothing choice carried over
// unchanged from the source.
func (s *Slave) computeError() float32 {
	w1 := &s.st.Window[svframe.MU1]
	w2 := &s.st.Window[svframe.MU2]

	var sumXY, sumYX float64
	for c := 0; c < svframe.NumChannels; c++ {
		for t := 0; t < WindowSize; t++ {
			m1 := float64(w1[c][t])
			m2 := float64(w2[c][t])
			if m1 != 0 {
				sumXY += (m2 - m1) / m1
			}
			if m2 != 0 {
				sumYX += (m1 - m2) / m2
			}
		}
	}
	n := float64(svframe.NumChannels * WindowSize)
	errXY := math.Abs(sumXY / n)
	errYX := math.Abs(sumYX / n)
	if errYX > errXY {
		return float32(errYX)
	}
	return float32(errXY)
}
