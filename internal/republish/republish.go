// Package republish funnels elected SV frames onto the egress interface
// through a single writer goroutine, the same shape the teacher uses for
// its SocketCAN and serial backends.
package republish

import (
	"context"
	"errors"

	"github.com/kstaniek/sv-arbitrator/internal/metrics"
	"github.com/kstaniek/sv-arbitrator/internal/svcodec"
	"github.com/kstaniek/sv-arbitrator/internal/svframe"
	"github.com/kstaniek/sv-arbitrator/internal/transport"
)

// ErrTxOverflow is returned when the egress buffer is full.
var ErrTxOverflow = errors.New("republish: tx overflow")

// Device is the subset of rawsock.Socket republish needs to transmit whole
// Ethernet frames.
type Device interface {
	WriteFrame(frame []byte) error
}

// Writer encodes elected frames and queues them for asynchronous
// transmission on the egress link.
type Writer struct {
	base *transport.AsyncTx
}

var _ transport.FrameSink = (*Writer)(nil)

// NewWriter builds a Writer transmitting through dev, buffering up to buf
// queued frames before dropping.
func NewWriter(parent context.Context, dev Device, buf int) *Writer {
	codec := svcodec.NewCodec()
	send := func(f svframe.Frame) error { return dev.WriteFrame(codec.Encode(f)) }
	w := &Writer{}
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrRawSockWrite) },
		OnAfter: func() { metrics.SetEgressQueueDepth(w.base.Len()) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrEgressTx)
			return ErrTxOverflow
		},
	}
	w.base = transport.NewAsyncTx(parent, buf, send, hooks)
	return w
}

// SendFrame queues f for asynchronous transmission; returns ErrTxOverflow if
// the buffer is full.
func (w *Writer) SendFrame(f svframe.Frame) error {
	err := w.base.SendFrame(f)
	metrics.SetEgressQueueDepth(w.base.Len())
	return err
}

// Close stops the writer goroutine and waits for it to finish.
func (w *Writer) Close() { w.base.Close() }
