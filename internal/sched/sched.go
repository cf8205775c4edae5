// Package sched runs the periodic, off-the-hot-path housekeeping the
// arbitration daemon needs: a metrics snapshot log line and an invariant
// self-check, both on their own ticker.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/sv-arbitrator/internal/arbiter"
	"github.com/kstaniek/sv-arbitrator/internal/metrics"
)

// StartMetricsLogger logs a metrics snapshot every interval until ctx is
// cancelled. interval <= 0 disables it.
func StartMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"ingress", snap.Ingress,
					"malformed", snap.Malformed,
					"republished", snap.Republished,
					"suppressed", snap.Suppressed,
					"egress_drops", snap.EgressDrops,
					"master_toggles", snap.MasterToggles,
					"slave_toggles", snap.SlaveToggles,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartInvariantChecker calls arb.CheckInvariants every interval. A
// violation means arbitration state has become internally inconsistent,
// which is not recoverable by continuing to run: it logs, counts the error,
// and invokes fatal(err) before the goroutine exits. fatal is a caller-
// supplied hook rather than a direct os.Exit call so this package stays
// testable; production callers should have fatal terminate the process
// (after their own cleanup) once it returns. interval <= 0 disables the
// checker entirely.
func StartInvariantChecker(ctx context.Context, arb *arbiter.Arbiter, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup, fatal func(error)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := arb.CheckInvariants(); err != nil {
					metrics.IncError(metrics.ErrInvariant)
					l.Error("invariant_check_failed", "error", err)
					if fatal != nil {
						fatal(err)
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
