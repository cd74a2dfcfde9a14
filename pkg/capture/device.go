// Package capture manages the lifecycle of a video capture device: acquiring
// it, waiting for it to produce frames, extracting JPEG stills without
// blocking, and releasing it exactly once.
package capture

import "context"

// Constraints are the requested stream properties. Zero values leave the
// device default in place.
type Constraints struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	Framerate int `json:"framerate"`
	Quality   int `json:"quality"` // JPEG quality 1-100
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture stream.
//
// Dimensions report 0x0 until the device delivers its first frame, and again
// after the device is revoked. Snapshot must return immediately with the most
// recent frame; it never waits for a new one.
type Stream interface {
	Dimensions() (width, height int)
	Snapshot() ([]byte, error)
	Close() error
}
