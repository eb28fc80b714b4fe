package core

import "errors"

// Frame is one encoded outbound event.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks: it fails with ErrBackpressure when the
	// outbound buffer is full and ErrClosed after Close.
	TrySend(Frame) error
	Close()
}
