package main

import (
	"errors"
	"fmt"

	"github.com/brewtap/pillsync/internal/meadtools"
)

// FormatUserError turns the error taxonomy into messages that tell the user
// what to do next rather than which call failed.
func FormatUserError(err error) string {
	var authErr *meadtools.AuthError
	if errors.As(err, &authErr) {
		return fmt.Sprintf("MeadTools rejected the account credentials (%s returned HTTP %d) - check MTEmail/MTPassword in the data file", authErr.Op, authErr.Status)
	}

	var statusErr *meadtools.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("MeadTools request failed: %s returned HTTP %d", statusErr.Op, statusErr.Status)
	}

	var remoteErr *meadtools.RemoteError
	if errors.As(err, &remoteErr) {
		return fmt.Sprintf("could not reach MeadTools: %s", remoteErr.Err)
	}

	if errors.Is(err, meadtools.ErrNotConfigured) {
		return "no MeadTools account configured - fill in MTDetails in the data file, or run without sync"
	}

	return err.Error()
}
