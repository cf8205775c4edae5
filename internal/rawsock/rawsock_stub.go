//go:build !linux

package rawsock

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned on platforms without AF_PACKET support.
var ErrUnsupported = errors.New("rawsock: raw Ethernet sockets require linux")

// Socket is a non-functional stand-in so non-Linux builds still compile;
// sv-arbitrator's intake/republish paths only run on Linux in production.
type Socket struct{}

// Option mirrors the linux build's Socket options so callers compile
// unchanged on every platform.
type Option func(*Socket)

// WithPollTimeout is a no-op stand-in; there is no poll loop off Linux.
func WithPollTimeout(d time.Duration) Option { return func(*Socket) {} }

func Open(iface string, ethType uint16, opts ...Option) (*Socket, error) { return nil, ErrUnsupported }

func (s *Socket) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	return 0, ErrUnsupported
}

func (s *Socket) WriteFrame(frame []byte) error { return ErrUnsupported }

func (s *Socket) Close() error { return nil }
