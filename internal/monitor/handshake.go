package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "SVARB-MONITORv1"

// Handshake runs the tap's hello exchange: both sides exchange the literal
// hello string before any diagnostics events are written, so a stray TCP
// client (or port scanner) never sees an events stream it didn't ask for.
//
// Once the hello exchange succeeds, the server advertises the event kinds it
// can emit (CapAll) and reads back the client's requested subscription mask,
// returning the negotiated mask the caller should filter broadcasts by. A
// client that requests 0 is treated as requesting CapAll, so an older client
// that just writes a zero byte (or nothing meaningful) still gets the full
// stream instead of silence.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) (byte, error) {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)

	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()

	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != hello {
			err = errors.New("bad hello")
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case err := <-errCh:
			if err != nil {
				return 0, fmt.Errorf("handshake: %w", err)
			}
		}
	}

	if _, err := c.Write([]byte{CapAll}); err != nil {
		return 0, fmt.Errorf("handshake: write capabilities: %w", err)
	}
	var sub [1]byte
	if _, err := io.ReadFull(c, sub[:]); err != nil {
		return 0, fmt.Errorf("handshake: read subscription: %w", err)
	}
	mask := sub[0] & CapAll
	if mask == 0 {
		mask = CapAll
	}
	return mask, nil
}
