//go:build !linux

package rawsock

import (
	"context"
	"errors"
	"testing"
)

func TestOpen_UnsupportedOnNonLinux(t *testing.T) {
	_, err := Open("eth0", 0x88BA)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestSocket_StubMethodsReturnUnsupported(t *testing.T) {
	var s *Socket
	if _, err := s.ReadFrame(context.Background(), make([]byte, 64)); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("ReadFrame: expected ErrUnsupported, got %v", err)
	}
	if err := s.WriteFrame([]byte{1, 2, 3}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("WriteFrame: expected ErrUnsupported, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: expected nil, got %v", err)
	}
}
