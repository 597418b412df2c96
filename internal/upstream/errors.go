package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("upstream: request timed out")

	// ErrParse is returned when a response body is empty or malformed.
	ErrParse = errors.New("upstream: malformed response body")

	// ErrRateLimited marks a 429 response. It is recovered internally by
	// the retry loop and only escapes wrapped in an *Error once the retry
	// budget is exhausted.
	ErrRateLimited = errors.New("upstream: rate limited")
)

// Error is a non-success response from the upstream service.
type Error struct {
	Op     string // operation, e.g. "searchArtist"
	Status int    // HTTP status code, 0 for transport failures
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
