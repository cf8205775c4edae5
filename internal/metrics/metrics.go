package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/sv-arbitrator/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	IngressFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_ingress_frames_total",
		Help: "Total SV frames decoded from the ingress interface.",
	})
	MalformedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sv_malformed_frames_total",
		Help: "Total rejected malformed frames, by reason.",
	}, []string{"reason"})
	DroppedUnknownSvID = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_dropped_unknown_svid_total",
		Help: "Total accepted frames dropped because their svID is not in the configured map.",
	})
	RepublishedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_republished_frames_total",
		Help: "Total frames re-emitted on the egress interface as the elected active MU.",
	})
	SuppressedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_suppressed_frames_total",
		Help: "Total accepted frames from the non-active MU, not republished.",
	})
	EgressDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_egress_drops_total",
		Help: "Total republish attempts dropped due to a full egress buffer.",
	})
	MasterToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_master_toggles_total",
		Help: "Total active-MU toggles requested by the quality FSM.",
	})
	SlaveToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_slave_toggles_total",
		Help: "Total active-MU toggles requested by the dispersion FSM.",
	})
	ActiveMU = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_active_mu",
		Help: "Currently elected MU index (0 = MU1, 1 = MU2).",
	})
	ContInvalid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_cont_invalid",
		Help: "Consecutive invalid samples observed on the active MU.",
	})
	ErrorPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_dispersion_error_pct",
		Help: "Most recently computed dispersion error between MU1 and MU2.",
	})
	WindowFillMU1 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_window_fill_mu1",
		Help: "Samples currently buffered in the MU1 dispersion window.",
	})
	WindowFillMU2 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_window_fill_mu2",
		Help: "Samples currently buffered in the MU2 dispersion window.",
	})
	MonitorActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_monitor_active_clients",
		Help: "Current number of connected diagnostics-tap clients.",
	})
	EgressQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sv_egress_queue_depth",
		Help: "Frames currently buffered in the republisher's async transmit queue.",
	})
	MonitorDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sv_monitor_dropped_events_total",
		Help: "Total diagnostics events dropped due to a slow tap client.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrRawSockRead  = "rawsock_read"
	ErrRawSockWrite = "rawsock_write"
	ErrEgressTx     = "egress_tx_overflow"
	ErrMonitorWrite = "monitor_write"
	ErrHandshake    = "monitor_handshake"
	ErrInvariant    = "invariant_violation"
)

// Malformed-frame reason label constants, matching svcodec.Reason's String().
const (
	ReasonTooShort      = "TooShort"
	ReasonBadEtherType  = "BadEtherType"
	ReasonBadAppid      = "BadAppid"
	ReasonAsduTruncated = "AsduTruncated"
	ReasonFcsMismatch   = "FcsMismatch"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, read back cheaply for the periodic log snapshot
// without hitting the Prometheus registry.
var (
	localIngress    uint64
	localMalformed  uint64
	localRepub      uint64
	localSuppressed uint64
	localEgressDrop uint64
	localMasterTog  uint64
	localSlaveTog   uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Ingress       uint64
	Malformed     uint64
	Republished   uint64
	Suppressed    uint64
	EgressDrops   uint64
	MasterToggles uint64
	SlaveToggles  uint64
	Errors        uint64
}

func Snap() Snapshot {
	return Snapshot{
		Ingress:       atomic.LoadUint64(&localIngress),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Republished:   atomic.LoadUint64(&localRepub),
		Suppressed:    atomic.LoadUint64(&localSuppressed),
		EgressDrops:   atomic.LoadUint64(&localEgressDrop),
		MasterToggles: atomic.LoadUint64(&localMasterTog),
		SlaveToggles:  atomic.LoadUint64(&localSlaveTog),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

func IncIngress() {
	IngressFrames.Inc()
	atomic.AddUint64(&localIngress, 1)
}

func IncMalformed(reason string) {
	MalformedFrames.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncDroppedUnknownSvID() { DroppedUnknownSvID.Inc() }

func IncRepublished() {
	RepublishedFrames.Inc()
	atomic.AddUint64(&localRepub, 1)
}

func IncSuppressed() {
	SuppressedFrames.Inc()
	atomic.AddUint64(&localSuppressed, 1)
}

func IncEgressDrop() {
	EgressDrops.Inc()
	atomic.AddUint64(&localEgressDrop, 1)
}

func IncMasterToggle() {
	MasterToggles.Inc()
	atomic.AddUint64(&localMasterTog, 1)
}

func IncSlaveToggle() {
	SlaveToggles.Inc()
	atomic.AddUint64(&localSlaveTog, 1)
}

func SetActiveMU(mu int)     { ActiveMU.Set(float64(mu)) }
func SetContInvalid(n int)   { ContInvalid.Set(float64(n)) }
func SetErrorPct(v float64)  { ErrorPct.Set(v) }
func SetWindowFill(mu1, mu2 int) {
	WindowFillMU1.Set(float64(mu1))
	WindowFillMU2.Set(float64(mu2))
}

func SetMonitorClients(n int) { MonitorActiveClients.Set(float64(n)) }
func IncMonitorDrop()         { MonitorDroppedEvents.Inc() }

func SetEgressQueueDepth(n int) { EgressQueueDepth.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (called once at startup) and
// pre-registers stable error/malformed label series so the first
// occurrence of each doesn't pay Prometheus's first-seen registration cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrRawSockRead, ErrRawSockWrite, ErrEgressTx, ErrMonitorWrite, ErrHandshake, ErrInvariant} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, reason := range []string{ReasonTooShort, ReasonBadEtherType, ReasonBadAppid, ReasonAsduTruncated, ReasonFcsMismatch} {
		MalformedFrames.WithLabelValues(reason).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
