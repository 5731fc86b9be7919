// Package apperr defines the error taxonomy shared by the pipeline stages and
// the external API clients.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrCapacityExceeded reports that the daily or per-run send cap is used up.
	ErrCapacityExceeded = errors.New("send capacity exceeded")
	// ErrInvalidLocation reports a discovery location that did not geocode.
	ErrInvalidLocation = errors.New("invalid location")
	// ErrDiscoveryIncomplete reports that discovery stopped before exhausting results.
	ErrDiscoveryIncomplete = errors.New("discovery incomplete")
)

// ConfigurationError marks a missing or rejected credential or parameter.
// It is the only error that aborts the orchestrator.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// Missing builds a ConfigurationError for an unset field.
func Missing(field string) error {
	return &ConfigurationError{Field: field, Reason: "is required"}
}

// TransientError wraps a failure worth retrying: rate limits, timeouts, 5xx.
type TransientError struct {
	API        string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: transient status %d: %v", e.API, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: transient: %v", e.API, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks malformed data. It is never retried in the same form.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient reports whether err should be retried. Context cancellation
// never is; network timeouts always are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var target *TransientError
	if errors.As(err, &target) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// FromStatus classifies a non-2xx HTTP response from an external API.
func FromStatus(api, op string, code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	cause := fmt.Errorf("%s", http.StatusText(code))
	if msg != "" {
		cause = fmt.Errorf("%s: %s", http.StatusText(code), msg)
	}
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &TransientError{API: api, Op: op, StatusCode: code, Err: cause}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ConfigurationError{Field: api + " credentials", Reason: "rejected: " + cause.Error()}
	default:
		return &ValidationError{Field: api + " " + op, Reason: cause.Error()}
	}
}
