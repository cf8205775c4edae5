package arbiter

// MasterState is one state of the quality FSM.
type MasterState int

const (
	MasterInitial MasterState = iota
	MasterGetSmpQuality
	MasterValid
	MasterQuestionable
	MasterInvalid
	MasterVerifyBackupMUPrincipal
	MasterSwitchToBackupSmp
	MasterToggleMUQuality
	MasterResetQuality
)

func (s MasterState) String() string {
	switch s {
	case MasterInitial:
		return "Initial"
	case MasterGetSmpQuality:
		return "GetSmpQuality"
	case MasterValid:
		return "Valid"
	case MasterQuestionable:
		return "Questionable"
	case MasterInvalid:
		return "Invalid"
	case MasterVerifyBackupMUPrincipal:
		return "VerifyBackupMUPrincipal"
	case MasterSwitchToBackupSmp:
		return "SwitchToBackupSmp"
	case MasterToggleMUQuality:
		return "ToggleMUQuality"
	case MasterResetQuality:
		return "ResetQuality"
	default:
		return "Unknown"
	}
}

// contInvalidCeiling is the consecutive-invalid-sample threshold at which
// the master gives up on the active MU and probes the peer.
const contInvalidCeiling = 10

// questionableFloor is the quality_sum at or above which a sample is
// classified questionable rather than merely invalid.
const questionableFloor = 3

// Master is the quality FSM. It classifies quality_sum reports from the
// currently active MU and, after too many consecutive invalid samples,
// probes the backup MU and requests a toggle.
type Master struct {
	state   MasterState
	st      *State
	ceiling uint32
	qFloor  uint32
}

// MasterOption configures a Master at construction, overriding a threshold
// that otherwise defaults to the spec's fixed value.
type MasterOption func(*Master)

// WithContInvalidCeiling overrides the consecutive-invalid-sample threshold
// (default 10) at which the master probes the backup MU.
func WithContInvalidCeiling(n uint32) MasterOption {
	return func(m *Master) { m.ceiling = n }
}

// WithQuestionableFloor overrides the quality_sum floor (default 3) at or
// above which a sample is classified questionable rather than invalid.
func WithQuestionableFloor(n uint32) MasterOption {
	return func(m *Master) { m.qFloor = n }
}

// NewMaster returns a Master FSM bound to the shared arbiter state.
func NewMaster(st *State, opts ...MasterOption) *Master {
	m := &Master{state: MasterInitial, st: st, ceiling: contInvalidCeiling, qFloor: questionableFloor}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CurrentState reports the FSM's current state.
func (m *Master) CurrentState() MasterState { return m.state }

// Ceiling reports the configured consecutive-invalid-sample threshold.
func (m *Master) Ceiling() uint32 { return m.ceiling }

// OnSample delivers a quality_sum classification event. Only meaningful
// while parked in GetSmpQuality; any other state leaves it unchanged,
// mirroring the spec's "non-listed inputs leave state unchanged" rule.
func (m *Master) OnSample(qualitySum uint32) {
	if m.state != MasterGetSmpQuality {
		return
	}
	switch {
	case qualitySum == 0:
		m.state = MasterValid
	case qualitySum >= m.qFloor:
		m.state = MasterQuestionable
	default:
		m.state = MasterInvalid
	}
}

// OnBackupProbe delivers the result of probing the peer MU's most recent
// sample. Only meaningful while parked in VerifyBackupMUPrincipal.
func (m *Master) OnBackupProbe(peerValid bool) {
	if m.state != MasterVerifyBackupMUPrincipal {
		return
	}
	m.st.Block = true
	if peerValid {
		m.state = MasterSwitchToBackupSmp
	} else {
		m.state = MasterToggleMUQuality
	}
}

// Tick performs exactly one auto transition and reports whether it toggled
// ActiveMU. Callers drive the FSM to quiescence by calling Tick in a bounded
// loop until CurrentState returns to GetSmpQuality (or VerifyBackupMUPrincipal,
// which needs an external OnBackupProbe to proceed).
func (m *Master) Tick() bool {
	switch m.state {
	case MasterInitial:
		m.state = MasterGetSmpQuality
	case MasterValid:
		m.state = MasterResetQuality
	case MasterQuestionable:
		m.state = MasterGetSmpQuality
	case MasterInvalid:
		if m.st.ContInvalid >= m.ceiling {
			m.state = MasterVerifyBackupMUPrincipal
		} else {
			m.st.ContInvalid++
			m.state = MasterGetSmpQuality
		}
	case MasterSwitchToBackupSmp:
		m.st.ActiveMU = m.st.ActiveMU.Other()
		m.state = MasterResetQuality
		return true
	case MasterToggleMUQuality:
		m.st.ActiveMU = m.st.ActiveMU.Other()
		m.state = MasterResetQuality
		return true
	case MasterResetQuality:
		m.st.Block = false
		m.st.ContInvalid = 0
		m.state = MasterGetSmpQuality
	case MasterGetSmpQuality, MasterVerifyBackupMUPrincipal:
		// quiescent; waiting on an external event
	}
	return false
}
