package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/kstaniek/sv-arbitrator/internal/arbiter"
	"github.com/kstaniek/sv-arbitrator/internal/intake"
	"github.com/kstaniek/sv-arbitrator/internal/metrics"
	"github.com/kstaniek/sv-arbitrator/internal/monitor"
	"github.com/kstaniek/sv-arbitrator/internal/rawsock"
	"github.com/kstaniek/sv-arbitrator/internal/republish"
	"github.com/kstaniek/sv-arbitrator/internal/sched"
	"github.com/kstaniek/sv-arbitrator/internal/svcodec"
	"github.com/kstaniek/sv-arbitrator/internal/svframe"
	"github.com/kstaniek/sv-arbitrator/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags(os.Args[1:])
	if showVersion {
		fmt.Printf("sv-arbitrator %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ingress, err := rawsock.Open(cfg.ingressIface, svcodec.SVEtherType)
	if err != nil {
		l.Error("ingress_open_failed", "iface", cfg.ingressIface, "error", err)
		os.Exit(1)
	}
	defer func() { _ = ingress.Close() }()
	l.Info("ingress_open", "iface", cfg.ingressIface)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	var sink transport.FrameSink
	var egress *rawsock.Socket
	var writer *republish.Writer
	if cfg.egressIface != "" {
		egress, err = rawsock.Open(cfg.egressIface, svcodec.SVEtherType)
		if err != nil {
			l.Error("egress_open_failed", "iface", cfg.egressIface, "error", err)
			os.Exit(1)
		}
		writer = republish.NewWriter(ctx, egress, cfg.egressBuffer)
		sink = writer
		l.Info("egress_open", "iface", cfg.egressIface)
	} else {
		l.Info("egress_disabled")
	}

	arb := arbiter.NewWithConfig(svframe.DefaultSvIDMap(), arbiter.Config{
		ContInvalidCeiling: cfg.contInvalidCeiling,
		QuestionableFloor:  cfg.questionableFloor,
		ErrorThreshold:     float32(cfg.errorThreshold),
	})

	var hub *monitor.Hub
	var monSrv *monitor.Server
	if cfg.monitorAddr != "" {
		hub = monitor.New()
		monSrv = monitor.NewServer(cfg.monitorAddr, hub, monitor.WithHandshakeTimeout(cfg.monitorHandshake))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monSrv.Serve(ctx); err != nil {
				l.Error("monitor_server_error", "error", err)
			}
		}()
	}

	in := intake.New(ingress, arb, sink, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := in.Run(ctx); err != nil {
			l.Error("intake_error", "error", err)
			cancel()
		}
	}()

	sched.StartMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	sched.StartInvariantChecker(ctx, arb, cfg.invariantCheckEvery, l, &wg, func(err error) {
		l.Error("fatal_invariant_violation", "error", err)
		cancel()
		os.Exit(1)
	})

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		if cfg.mdnsEnable {
			_, portStr, perr := net.SplitHostPort(cfg.metricsAddr)
			if perr == nil {
				if port, aerr := strconv.Atoi(portStr); aerr == nil {
					cleanupMDNS, merr := startMDNS(ctx, cfg, port)
					if merr != nil {
						l.Warn("mdns_start_failed", "error", merr)
					} else {
						l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
						defer cleanupMDNS()
					}
				}
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	// ingress must close before wg.Wait(): the intake goroutine is parked in
	// ingress.ReadFrame, which only wakes on a ctx deadline tick or this
	// Close (via its cancellation eventfd), never on bare context
	// cancellation alone. Closing it here, rather than leaving it to the
	// top-level defer, guarantees wg.Wait() below cannot hang waiting on a
	// read that ctx.Done() cannot unblock by itself.
	_ = ingress.Close()
	if writer != nil {
		writer.Close()
	}
	if egress != nil {
		_ = egress.Close()
	}
	if monSrv != nil {
		_ = monSrv.Shutdown(context.Background())
	}
	wg.Wait()

	snap := metrics.Snap()
	l.Info("shutdown_summary",
		"ingress", snap.Ingress,
		"malformed", snap.Malformed,
		"republished", snap.Republished,
		"suppressed", snap.Suppressed,
		"egress_drops", snap.EgressDrops,
		"master_toggles", snap.MasterToggles,
		"slave_toggles", snap.SlaveToggles,
		"errors", snap.Errors,
	)
}
