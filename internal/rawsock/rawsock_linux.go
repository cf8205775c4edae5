//go:build linux

// Package rawsock opens AF_PACKET/SOCK_RAW sockets bound to an interface and
// a single EtherType, the link-layer plumbing that intake and republish sit
// on top of. Reading and writing deal in whole Ethernet frames (header
// through payload); framing and field meaning belong to svcodec.
package rawsock

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/sv-arbitrator/internal/logging"
	"golang.org/x/sys/unix"
)

// defaultPollTimeout bounds how long ReadFrame blocks in a single poll
// before looping back to recheck ctx, so a link that never produces a
// frame still lets the read loop wake up periodically.
const defaultPollTimeout = 1 * time.Second

// Socket is a raw Ethernet socket bound to one interface and EtherType.
type Socket struct {
	fd          int
	efd         int
	ifindex     int
	htype       uint16
	pollTimeout time.Duration
	logger      *slog.Logger
	closeOnce   sync.Once
}

// Option configures a Socket at Open time.
type Option func(*Socket)

// WithPollTimeout overrides the default 1s bounded poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// Open binds an AF_PACKET/SOCK_RAW socket to iface, receiving and
// transmitting only frames of EtherType ethType (host byte order, e.g.
// 0x88BA). iface must already exist and be up.
func Open(iface string, ethType uint16, opts ...Option) (*Socket, error) {
	proto := htons(ethType)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket(AF_PACKET): %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(%s): %w", iface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	s := &Socket{
		fd:          fd,
		efd:         efd,
		ifindex:     ifi.Index,
		htype:       proto,
		pollTimeout: defaultPollTimeout,
		logger:      logging.Component("rawsock").With("iface", iface),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// ReadFrame blocks until a frame arrives, ctx is cancelled, or the socket is
// closed, and returns the number of bytes written into buf. buf should be
// sized for the largest frame the caller expects (svframe wire frames are a
// few hundred bytes at most; callers typically pass a 1514-byte buffer).
//
// Each poll is bounded by pollTimeout rather than blocking indefinitely, so
// a quiet link still gives the loop a chance to notice ctx cancellation
// instead of depending solely on Close's eventfd wakeup.
func (s *Socket) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	pfds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.efd), Events: unix.POLLIN},
	}
	timeoutMs := int(s.pollTimeout / time.Millisecond)
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, err := unix.Poll(pfds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			s.logger.Debug("poll_timeout")
			continue
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			var tmp [8]byte
			_, _ = unix.Read(s.efd, tmp[:])
			return 0, ErrClosed
		}
		if pfds[0].Revents&(unix.POLLIN|unix.POLLERR) == 0 {
			continue
		}
		nread, _, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("recvfrom: %w", err)
		}
		return nread, nil
	}
}

// WriteFrame transmits one complete Ethernet frame, unmodified, onto the
// bound interface.
func (s *Socket) WriteFrame(frame []byte) error {
	sa := &unix.SockaddrLinklayer{Protocol: s.htype, Ifindex: s.ifindex}
	if err := unix.Sendto(s.fd, frame, 0, sa); err != nil {
		return fmt.Errorf("sendto: %w", err)
	}
	return nil
}

// Close unblocks any pending ReadFrame and releases the socket. Safe to call
// more than once.
func (s *Socket) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(s.efd, one[:])
		_ = unix.Close(s.efd)
		closeErr = unix.Close(s.fd)
	})
	return closeErr
}
