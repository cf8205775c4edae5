package transport

import "github.com/kstaniek/sv-arbitrator/internal/svframe"

// FrameSink is a generic SV frame transmission target, implemented by
// AsyncTx and by the republisher that wraps it.
type FrameSink interface {
	SendFrame(svframe.Frame) error
}
