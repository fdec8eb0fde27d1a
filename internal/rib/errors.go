package rib

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

const maxErrorBody = 300

// APIError is returned for any failed call to the RIB API. Err is set when the
// request never produced a response.
type APIError struct {
	Status int
	Path   string
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("RIB API %s: %v", e.Path, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("RIB API %s: status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("RIB API %s: status %d: %s", e.Path, e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *APIError) Transient() bool {
	if e.Err != nil {
		return true
	}
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// truncate caps an error body at maxErrorBody bytes without splitting a rune.
func truncate(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	n := maxErrorBody
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}
