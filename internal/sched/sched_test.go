package sched

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/sv-arbitrator/internal/arbiter"
	"github.com/kstaniek/sv-arbitrator/internal/svframe"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestStartMetricsLogger_LogsAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	lockedLogger := slog.New(slog.NewTextHandler(lockedWriter{&buf, &mu}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	StartMetricsLogger(ctx, 10*time.Millisecond, lockedLogger, &wg)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		has := strings.Contains(buf.String(), "metrics_snapshot")
		mu.Unlock()
		if has {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	logged := strings.Contains(buf.String(), "metrics_snapshot")
	mu.Unlock()
	if !logged {
		t.Fatalf("expected a metrics_snapshot log line")
	}

	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("metrics logger goroutine did not stop after cancel")
	}
}

func TestStartMetricsLogger_DisabledWhenIntervalZero(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	StartMetricsLogger(ctx, 0, l, &wg)
	// wg should have nothing pending; Wait returns immediately.
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected disabled metrics logger to register no goroutine")
	}
}

func TestStartInvariantChecker_ReportsViolation(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	l := slog.New(slog.NewTextHandler(lockedWriter{&buf, &mu}, nil))

	arb := arbiter.New(svframe.DefaultSvIDMap())
	arb.State.ContInvalid = 1 << 20 // force CheckInvariants to fail

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	var fatalMu sync.Mutex
	var fatalCalls int
	StartInvariantChecker(ctx, arb, 10*time.Millisecond, l, &wg, func(err error) {
		fatalMu.Lock()
		fatalCalls++
		fatalMu.Unlock()
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("invariant checker goroutine did not exit after a violation")
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "invariant_check_failed") {
		t.Fatalf("expected invariant_check_failed log line, got: %s", buf.String())
	}
	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatalCalls != 1 {
		t.Fatalf("expected fatal hook to be invoked exactly once, got %d", fatalCalls)
	}
}

func TestStartInvariantChecker_NoFatalOnHealthyState(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	arb := arbiter.New(svframe.DefaultSvIDMap())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var fatalMu sync.Mutex
	var fatalCalls int
	StartInvariantChecker(ctx, arb, 5*time.Millisecond, l, &wg, func(error) {
		fatalMu.Lock()
		fatalCalls++
		fatalMu.Unlock()
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatalCalls != 0 {
		t.Fatalf("expected no fatal calls for a healthy arbiter, got %d", fatalCalls)
	}
}

type lockedWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
