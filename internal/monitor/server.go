// Package monitor implements an opt-in diagnostics tap: a TCP port that,
// after a short hello handshake, streams newline-delimited JSON events for
// every FSM transition and election change the arbiter makes. It is purely
// observational -- closing or never connecting a tap client has no effect
// on ingest, election, or republishing.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/sv-arbitrator/internal/logging"
	"github.com/kstaniek/sv-arbitrator/internal/metrics"
)

// Server accepts diagnostics-tap clients and broadcasts events from its Hub
// to each of them.
type Server struct {
	mu   sync.RWMutex
	addr string
	Hub  *Hub

	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	readyOnce        sync.Once
	readyCh          chan struct{}
	listener         net.Listener
	clientsMu        sync.RWMutex
	clients          map[*Client]net.Conn
	wg               sync.WaitGroup
	logger           *slog.Logger
}

const (
	defaultHandshakeTimeout = 3 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultClientBuf        = 64
)

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// NewServer returns a Server listening on addr (":0" picks a free port) and
// broadcasting through hb.
func NewServer(addr string, hb *Hub, opts ...ServerOption) *Server {
	s := &Server{
		addr:             addr,
		Hub:              hb,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		readyCh:          make(chan struct{}),
		clients:          make(map[*Client]net.Conn),
		logger:           logging.Component("monitor"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Addr returns the server's bound address, valid once Ready fires.
func (s *Server) Addr() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }

// Ready closes once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve accepts tap clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("monitor_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	connLogger := s.logger.With("remote", conn.RemoteAddr().String())
	mask, err := Handshake(ctx, conn, s.handshakeTimeout)
	if err != nil {
		metrics.IncError(metrics.ErrHandshake)
		connLogger.Warn("monitor_handshake_failed", "error", err)
		_ = conn.Close()
		return
	}

	cl := &Client{Out: make(chan Event, defaultClientBuf), Closed: make(chan struct{}), Mask: mask}
	s.Hub.Add(cl)
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	connLogger.Info("monitor_client_connected", "subscription_mask", mask)

	s.wg.Add(1)
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.Hub.Remove(cl)
		s.clientsMu.Lock()
		delete(s.clients, cl)
		s.clientsMu.Unlock()
		connLogger.Info("monitor_client_disconnected")
	}()

	enc := json.NewEncoder(conn)
	for {
		select {
		case ev := <-cl.Out:
			if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if err := enc.Encode(ev); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					metrics.IncError(metrics.ErrMonitorWrite)
					connLogger.Warn("monitor_write_failed", "error", err)
				}
				return
			}
		case <-cl.Closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown closes the listener and all connected tap clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		s.Hub.Remove(cl)
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}
