package tmdb

import (
	"fmt"
	"net/http"
)

// RemoteError reports a failed TMDB call: transport failure, non-2xx status,
// or an undecodable body.
type RemoteError struct {
	Op         string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tmdb %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tmdb %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// RateLimited reports whether TMDB rejected the call with 429.
func (e *RemoteError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// NotFound reports whether TMDB has no such resource.
func (e *RemoteError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
