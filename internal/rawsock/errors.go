package rawsock

import "errors"

// ErrClosed is returned by ReadFrame/WriteFrame once the socket has been closed.
var ErrClosed = errors.New("rawsock: closed")

// ErrShortWrite is returned when the kernel accepted fewer bytes than requested.
var ErrShortWrite = errors.New("rawsock: short write")
