package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformed is returned when a service answers 2xx with a payload that
// does not decode or does not line up with the request.
var ErrMalformed = errors.New("malformed service response")

// ConnectionError reports that a service could not be reached at all.
type ConnectionError struct {
	Service string
	URL     string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s service unreachable at %s: %v", e.Service, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s service status %d: %s", e.Service, e.StatusCode, e.Body)
}

// IsConnection reports whether err came from an unreachable service.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTransient reports whether retrying the same call might succeed:
// connection failures, 429 and 5xx.
func IsTransient(err error) bool {
	if IsConnection(err) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return false
}

func errorKind(err error) string {
	var se *StatusError
	switch {
	case IsConnection(err):
		return "connection"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
