package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the authorization core. Authorization call sites map any
// of these to deny; only ErrStoreUnavailable is ever retried, and only inside
// subject registration.
var (
	// ErrStoreUnavailable marks a transient failure reaching the ACL or
	// token persistence backend.
	ErrStoreUnavailable = errors.New("persistence store unavailable")

	// ErrNotFound marks a lookup that matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrMalformedTopic marks a broker address that could not be parsed.
	ErrMalformedTopic = errors.New("malformed topic address")

	// ErrRemoteTimeout marks a remote authorization or login call that did
	// not answer within its deadline.
	ErrRemoteTimeout = errors.New("remote call timed out")
)

// NewErrNotFound wraps ErrNotFound with the missing element id.
func NewErrNotFound(elementId string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, elementId)
}

// IsErrNotFound reports whether err marks a missing element.
func IsErrNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NewErrStoreUnavailable wraps a backend failure so callers can match it with
// errors.Is while keeping the cause.
func NewErrStoreUnavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
}

// IsErrStoreUnavailable reports whether err marks a backend connectivity
// failure.
func IsErrStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
