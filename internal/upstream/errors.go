package upstream

import (
	"errors"
	"fmt"
)

// ErrNetwork wraps a transport-level failure (DNS, connection refused,
// TLS, etc) that isn't an HTTP status or a timeout.
var ErrNetwork = errors.New("upstream: network error")

// ErrTimeout is returned when the request exceeds the configured upstream
// timeout (spec.md §4.2: 120s).
var ErrTimeout = errors.New("upstream: timed out")

// StatusError wraps any non-2xx response. A 404 is a *soft* failure per
// spec.md §4.2: the Pull-Through Fetcher treats it as "this upstream does
// not have it" and moves on, same as every other StatusError.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: unexpected HTTP status %d", e.Code)
}

// IsNotFound reports whether err is a StatusError for 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
