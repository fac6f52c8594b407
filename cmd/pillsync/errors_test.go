package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brewtap/pillsync/internal/meadtools"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "auth error names the credentials",
			err:  &meadtools.AuthError{Op: "login", Status: 401},
			want: "MTEmail/MTPassword",
		},
		{
			name: "wrapped auth error still recognized",
			err:  fmt.Errorf("starting session: %w", &meadtools.AuthError{Op: "refresh", Status: 403}),
			want: "MTEmail/MTPassword",
		},
		{
			name: "status error names the operation",
			err:  &meadtools.StatusError{Op: "register brew", Status: 500},
			want: "register brew returned HTTP 500",
		},
		{
			name: "remote error points at connectivity",
			err:  &meadtools.RemoteError{Op: "login", Err: errors.New("connection refused")},
			want: "could not reach MeadTools",
		},
		{
			name: "not configured explains the data file",
			err:  meadtools.ErrNotConfigured,
			want: "MTDetails",
		},
		{
			name: "anything else passes through",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.want)
		})
	}
}
