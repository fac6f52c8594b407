package meadtools

import (
	"errors"
	"fmt"
)

// ErrNotConfigured indicates there is neither a stored token pair nor an
// email/password to log in with. Remote sync cannot start; local capture is
// unaffected.
var ErrNotConfigured = errors.New("meadtools: no credentials configured")

// ErrNoDeviceToken indicates the service did not hand out a device token, so
// no hydrometer or brew operation can be attempted.
var ErrNoDeviceToken = errors.New("meadtools: device token missing after generation")

// AuthError is a rejected login or refresh. Sessions degrade to local-only
// capture on it rather than aborting.
type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("meadtools: %s rejected with status %d", e.Op, e.Status)
}

// StatusError is a non-200 response from any non-auth endpoint. Callers
// decide whether to retry or treat it as fatal.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("meadtools: %s returned status %d", e.Op, e.Status)
}

// RemoteError is a transport-level failure: the request never produced a
// usable response.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("meadtools: %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err is an authentication problem (rejected
// credentials or none configured) as opposed to a transport or service error.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) || errors.Is(err, ErrNotConfigured)
}
