package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks an evaluation aborted because the catalog could not be read.
	ErrUnavailable = errors.New("catalog unavailable")
	ErrNotFound    = errors.New("catalog item not found")
)

// HTTPError is returned for any non-2xx catalog response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("catalog returned status %d", e.Status)
	}
	return fmt.Sprintf("catalog returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
// Only server-side failures qualify; 429 means our own accounting is off.
func (e *HTTPError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError
}

// IsRateLimited reports whether err carries a 429 from the catalog.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests
}
