package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromStatusClassifies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code          int
		transient     bool
		configuration bool
		validation    bool
	}{
		{code: http.StatusTooManyRequests, transient: true},
		{code: http.StatusBadGateway, transient: true},
		{code: http.StatusUnauthorized, configuration: true},
		{code: http.StatusForbidden, configuration: true},
		{code: http.StatusBadRequest, validation: true},
		{code: http.StatusNotFound, validation: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			t.Parallel()
			err := FromStatus("hunter", "domain-search", tt.code, []byte(`{"errors":[]}`))
			require.Equal(t, tt.transient, IsTransient(err))
			require.Equal(t, tt.configuration, IsConfiguration(err))
			require.Equal(t, tt.validation, IsValidation(err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	require.False(t, IsTransient(nil))
	require.False(t, IsTransient(context.Canceled))
	require.False(t, IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.True(t, IsTransient(fmt.Errorf("dial: %w", timeoutErr{})))
	require.True(t, IsTransient(&TransientError{API: "places", Op: "search", Err: errors.New("boom")}))
	require.False(t, IsTransient(errors.New("plain")))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	require.EqualError(t, Missing("mailgun.api_key"), "configuration: mailgun.api_key is required")
	require.EqualError(t, Invalid("email", "nope", "format"), `invalid email "nope": format`)
	require.EqualError(t, Invalid("radius", "", "must be > 0"), "invalid radius: must be > 0")
}
