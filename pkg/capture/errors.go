package capture

import (
	"context"
	"errors"
)

var (
	// ErrDenied is returned when the device is absent, refuses access, or
	// never becomes ready.
	ErrDenied = errors.New("capture: device access denied")

	// ErrNotReady is returned when a frame is requested from a stream that
	// reports zero dimensions or has been released.
	ErrNotReady = errors.New("capture: stream not ready")
)

// Kind classifies a capture error for presentation: "denied", "not_ready",
// "cancelled" or "other". It returns "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
