package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned when a call is attempted without a bearer token.
var ErrNoCredential = errors.New("no credential")

// Class is how the reconciler should react to a failed remote call.
type Class int

const (
	ClassNone      Class = iota // no error
	ClassTransient              // retry with backoff
	ClassPermanent              // dead-letter, do not retry
	ClassAuth                   // suspend syncing until the credential changes
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassAuth:
		return "auth"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// TransientError is a failure that may succeed if retried: a network error,
// a timeout, 429 or a 5xx response. StatusCode is 0 for transport errors.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string { return "transient remote error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection that will not change on retry, such as a
// 400 validation failure, 404 or 409.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string { return "permanent remote error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// AuthError is a 401/403 response or a missing credential.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string { return "remote auth error: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// StatusError carries the response of a failed call.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// errorForStatus wraps a non-2xx response in the error type of its class.
func errorForStatus(se *StatusError) error {
	switch code := se.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{StatusCode: code, Err: se}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &TransientError{StatusCode: code, Err: se}
	default:
		return &PermanentError{StatusCode: code, Err: se}
	}
}

// Classify maps any error returned by a Gateway to a Class. Transport
// failures, timeouts and unrecognised errors are transient: they are retried
// and, if they persist, dead-lettered.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var (
		authErr *AuthError
		permErr *PermanentError
	)
	switch {
	case errors.As(err, &authErr):
		return ClassAuth
	case errors.As(err, &permErr):
		return ClassPermanent
	}
	return ClassTransient
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var (
		authErr      *AuthError
		permErr      *PermanentError
		transientErr *TransientError
	)
	switch {
	case errors.As(err, &permErr):
		return permErr.StatusCode
	case errors.As(err, &transientErr):
		return transientErr.StatusCode
	case errors.As(err, &authErr):
		return authErr.StatusCode
	}
	return 0
}
