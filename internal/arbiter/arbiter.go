package arbiter

import (
	"github.com/kstaniek/sv-arbitrator/internal/svcodec"
	"github.com/kstaniek/sv-arbitrator/internal/svframe"
)

// maxAutoSteps bounds the auto-transition drain loops. Every reachable
// cycle in either FSM reaches a quiescent state (one awaiting an external
// event) in well under this many steps; hitting the bound means a state was
// added to master.go/slave.go without updating its quiescent set here.
const maxAutoSteps = 16

// Arbiter owns the shared FSM state and both reducers, and decides, for
// each accepted ingress frame, whether it should be republished.
type Arbiter struct {
	State  *State
	Master *Master
	Slave  *Slave
	SvMap  svframe.SvIDMap
}

// Config overrides the spec's fixed FSM thresholds; the zero value selects
// every default.
type Config struct {
	ContInvalidCeiling uint32
	QuestionableFloor  uint32
	ErrorThreshold     float32
}

// New returns an Arbiter with MU1 initially active, using svMap to resolve
// incoming frames' svID fields to logical MU indices.
func New(svMap svframe.SvIDMap) *Arbiter {
	return NewWithConfig(svMap, Config{})
}

// NewWithConfig is New with overridable FSM thresholds, used by
// cmd/sv-arbitrator to honor its --cont-invalid-ceiling/--questionable-floor/
// --error-threshold flags without every test call site needing to know
// about them.
func NewWithConfig(svMap svframe.SvIDMap, cfg Config) *Arbiter {
	st := NewState()
	var mopts []MasterOption
	if cfg.ContInvalidCeiling > 0 {
		mopts = append(mopts, WithContInvalidCeiling(cfg.ContInvalidCeiling))
	}
	if cfg.QuestionableFloor > 0 {
		mopts = append(mopts, WithQuestionableFloor(cfg.QuestionableFloor))
	}
	var sopts []SlaveOption
	if cfg.ErrorThreshold > 0 {
		sopts = append(sopts, WithErrorThreshold(cfg.ErrorThreshold))
	}
	return &Arbiter{
		State:  st,
		Master: NewMaster(st, mopts...),
		Slave:  NewSlave(st, sopts...),
		SvMap:  svMap,
	}
}

// Ingest feeds one decoded, FCS-valid frame through both FSMs and reports
// whether it should be republished on the egress interface. Frames whose
// svID is not in SvMap are dropped (treated as a configuration mismatch,
// not a protocol fault) and never reach either FSM.
func (a *Arbiter) Ingest(f svframe.Frame) bool {
	mu, ok := a.SvMap.Lookup(f.SvID)
	if !ok {
		return false
	}

	qsum := svcodec.QualitySum(f.Dataset)
	a.State.LastQualitySum[mu] = qsum

	a.drainSlave()
	a.Slave.OnSample(mu, f.Dataset)
	a.drainSlave()

	a.drainMaster()
	if mu == a.State.ActiveMU {
		a.Master.OnSample(qsum)
		a.drainMaster()
	}

	return Elect(mu, a.State.ActiveMU)
}

// drainMaster advances the master FSM through its auto transitions until it
// reaches a state that needs an external event: GetSmpQuality (awaiting a
// sample) or VerifyBackupMUPrincipal, which it resolves itself by probing
// the peer MU's last known quality_sum -- the "probe the backup MU" step is
// local state, not a fresh wire read, so no I/O happens here.
func (a *Arbiter) drainMaster() {
	for i := 0; i < maxAutoSteps; i++ {
		switch a.Master.CurrentState() {
		case MasterGetSmpQuality:
			return
		case MasterVerifyBackupMUPrincipal:
			peer := a.State.ActiveMU.Other()
			a.Master.OnBackupProbe(a.State.LastQualitySum[peer] == 0)
		default:
			if a.Master.Tick() {
				a.State.MasterToggles++
			}
		}
	}
}

// drainSlave advances the slave FSM through its auto transitions until it
// reaches CalculusOfDispersion (awaiting the next sample) or, while
// blocked, GetSmpValue.
func (a *Arbiter) drainSlave() {
	for i := 0; i < maxAutoSteps; i++ {
		st := a.Slave.CurrentState()
		if st == SlaveCalculusOfDispersion {
			return
		}
		if a.State.Block && st == SlaveGetSmpValue {
			return
		}
		if a.Slave.Tick() {
			a.State.SlaveToggles++
		}
	}
}

// CheckInvariants reports ErrInvariantViolation if the shared state has
// drifted outside the bounds spec 3 guarantees. Intended to be called
// periodically by the scheduler as a cheap self-check, not on the hot path.
func (a *Arbiter) CheckInvariants() error {
	if a.State.ContInvalid > a.Master.Ceiling() {
		return ErrInvariantViolation
	}
	if a.State.Fill[0] > WindowSize || a.State.Fill[1] > WindowSize {
		return ErrInvariantViolation
	}
	return nil
}
