package capture

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Stream is an open capture stream. Chunks are delivered in capture order.
// Close flushes any trailing fragment, closes the Chunks channel and releases
// the underlying hardware handle. Close must be safe to call more than once.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Device abstracts microphone backends.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}
