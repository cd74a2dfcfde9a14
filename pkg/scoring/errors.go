package scoring

import (
	"errors"
	"fmt"
)

// Sentinel errors. All of them are transient from the session's point of
// view: the next tick supersedes a failed call.
var (
	// ErrBusy is returned when a request is already in flight. The frame
	// is dropped, not queued.
	ErrBusy = errors.New("scoring: request already in flight")

	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("scoring: network failure")

	// ErrDecode is returned for bodies that are not a JSON object of the
	// expected shape.
	ErrDecode = errors.New("scoring: malformed response")
)

// Error kinds as reported to the presentation layer.
const (
	KindBusy    = "busy"
	KindNetwork = "network"
	KindDecode  = "decode"
	KindOther   = "other"
)

// StatusError is a non-2xx response from the scoring service.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("scoring: service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("scoring: service returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap makes status errors match ErrNetwork.
func (e *StatusError) Unwrap() error {
	return ErrNetwork
}

// IsServerError returns true for HTTP 5xx.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// Kind classifies err into one of the Kind constants. It returns "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrDecode):
		return KindDecode
	default:
		return KindOther
	}
}
