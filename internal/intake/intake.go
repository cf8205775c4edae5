// Package intake reads raw Ethernet frames off a merging unit's link,
// decodes them, and feeds accepted ones into the arbiter, optionally
// republishing elected samples and broadcasting FSM transitions to the
// diagnostics tap.
package intake

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kstaniek/sv-arbitrator/internal/arbiter"
	"github.com/kstaniek/sv-arbitrator/internal/logging"
	"github.com/kstaniek/sv-arbitrator/internal/metrics"
	"github.com/kstaniek/sv-arbitrator/internal/monitor"
	"github.com/kstaniek/sv-arbitrator/internal/rawsock"
	"github.com/kstaniek/sv-arbitrator/internal/svcodec"
	"github.com/kstaniek/sv-arbitrator/internal/svframe"
	"github.com/kstaniek/sv-arbitrator/internal/transport"
)

// maxFrameLen bounds the read buffer; SV frames are well under standard
// Ethernet MTU.
const maxFrameLen = 1514

// Source is the subset of rawsock.Socket that intake depends on, so tests
// can substitute a fake without opening a real socket.
type Source interface {
	ReadFrame(ctx context.Context, buf []byte) (int, error)
}

var _ Source = (*rawsock.Socket)(nil)

// Intake owns one merging-unit ingress link.
type Intake struct {
	src    Source
	codec  *svcodec.Codec
	arb    *arbiter.Arbiter
	sink   transport.FrameSink // nil disables republishing
	hub    *monitor.Hub        // nil disables the diagnostics tap
	logger *slog.Logger

	lastMaster  string
	lastSlave   string
	lastActive  svframe.MUIndex
	lastMasterN uint64
	lastSlaveN  uint64
}

// New builds an Intake. sink and hub are optional (nil disables
// republishing and the diagnostics tap respectively); arb and src are
// required.
func New(src Source, arb *arbiter.Arbiter, sink transport.FrameSink, hub *monitor.Hub) *Intake {
	return &Intake{
		src:        src,
		codec:      svcodec.NewCodec(),
		arb:        arb,
		sink:       sink,
		hub:        hub,
		logger:     logging.Component("intake"),
		lastMaster: arb.Master.CurrentState().String(),
		lastSlave:  arb.Slave.CurrentState().String(),
		lastActive: arb.State.ActiveMU,
	}
}

// Run reads and processes frames until ctx is cancelled or the source
// returns a permanent error.
func (in *Intake) Run(ctx context.Context) error {
	buf := make([]byte, maxFrameLen)
	for {
		n, err := in.src.ReadFrame(ctx, buf)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, rawsock.ErrClosed) {
				return nil
			}
			metrics.IncError(metrics.ErrRawSockRead)
			in.logger.Error("intake_read_error", "error", err)
			return err
		}
		in.handle(buf[:n])
	}
}

func (in *Intake) handle(raw []byte) {
	f, err := in.codec.Decode(raw)
	if err != nil {
		var mf svcodec.MalformedFrame
		if errors.As(err, &mf) {
			metrics.IncMalformed(mf.Reason.String())
			in.logger.Debug("malformed_frame", "reason", mf.Reason.String())
			return
		}
		metrics.IncMalformed("unknown")
		return
	}
	metrics.IncIngress()

	if _, ok := in.arb.SvMap.Lookup(f.SvID); !ok {
		metrics.IncDroppedUnknownSvID()
		in.logger.Debug("dropped_unknown_svid", "svid", string(f.SvID[:]))
		return
	}

	elected := in.arb.Ingest(f)
	in.afterIngest()

	if !elected {
		metrics.IncSuppressed()
		return
	}
	if in.sink == nil {
		return
	}
	if err := in.sink.SendFrame(f); err != nil {
		metrics.IncEgressDrop()
		in.logger.Debug("egress_drop", "error", err)
		return
	}
	metrics.IncRepublished()
}

// afterIngest compares the arbiter's state against what it was before this
// frame and reports every counter/gauge/event change. Diffing snapshots
// here, rather than threading a callback through arbiter.Ingest, keeps the
// arbiter itself free of any notion of metrics or the diagnostics tap.
func (in *Intake) afterIngest() {
	st := in.arb.State
	metrics.SetActiveMU(int(st.ActiveMU))
	metrics.SetContInvalid(int(st.ContInvalid))
	metrics.SetErrorPct(float64(st.ErrorPct))
	metrics.SetWindowFill(int(st.Fill[svframe.MU1]), int(st.Fill[svframe.MU2]))

	if st.MasterToggles != in.lastMasterN {
		in.lastMasterN = st.MasterToggles
		metrics.IncMasterToggle()
	}
	if st.SlaveToggles != in.lastSlaveN {
		in.lastSlaveN = st.SlaveToggles
		metrics.IncSlaveToggle()
	}

	masterState := in.arb.Master.CurrentState().String()
	slaveState := in.arb.Slave.CurrentState().String()

	if masterState != in.lastMaster {
		in.lastMaster = masterState
		in.broadcast(monitor.Event{Kind: monitor.KindMasterTransition, MasterState: masterState, ActiveMU: st.ActiveMU, ContInvalid: st.ContInvalid})
	}
	if slaveState != in.lastSlave {
		in.lastSlave = slaveState
		in.broadcast(monitor.Event{Kind: monitor.KindSlaveTransition, SlaveState: slaveState, ActiveMU: st.ActiveMU, ErrorPct: st.ErrorPct})
	}
	if st.ActiveMU != in.lastActive {
		in.lastActive = st.ActiveMU
		in.broadcast(monitor.Event{Kind: monitor.KindElectionChange, ActiveMU: st.ActiveMU})
	}
}

func (in *Intake) broadcast(ev monitor.Event) {
	if in.hub != nil {
		in.hub.Broadcast(ev)
	}
}
