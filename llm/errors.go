// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies a provider failure for retry and failover decisions.
type ErrorCode string

const (
	// ErrCodeRateLimited means the vendor throttled the call. Retryable.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeTimeout means the call exceeded its absolute deadline. Retryable.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeUnavailable means the vendor is overloaded or down. Retryable.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// ErrCodeServerError means the vendor returned a 5xx. Retryable.
	ErrCodeServerError ErrorCode = "SERVER_ERROR"

	// ErrCodeValidation means the vendor answered but the response failed
	// schema validation. Terminal for that provider; never retried.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeAuth means the credential was rejected. Terminal.
	ErrCodeAuth ErrorCode = "AUTH_FAILED"

	// ErrCodeInvalidRequest means the vendor rejected the request shape.
	// Terminal.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeCircuitOpen means the provider's circuit refused the call.
	// Terminal for that provider; triggers immediate failover.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrCodeBudgetExceeded means the spend cap blocked the request before
	// any provider was attempted.
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// ErrCodeAllUnavailable means every configured provider failed.
	ErrCodeAllUnavailable ErrorCode = "ALL_PROVIDERS_UNAVAILABLE"

	// ErrCodeNoProviders means no providers are configured at all.
	ErrCodeNoProviders ErrorCode = "NO_PROVIDERS_CONFIGURED"
)

// ErrNoProviders is returned by the Selector when no providers are
// configured at all.
var ErrNoProviders = errors.New("llm: no providers configured")

// ProviderError is a classified failure from one provider attempt.
type ProviderError struct {
	Provider   string
	Code       ErrorCode
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// NewProviderError builds a ProviderError with retryability derived from
// the code.
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WithStatus attaches the vendor HTTP status.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.StatusCode = status
	return e
}

// WithCause attaches the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Cause = err
	return e
}

// isRetryableCode reports whether a code is worth another attempt against
// the same provider.
func isRetryableCode(code ErrorCode) bool {
	switch code {
	case ErrCodeRateLimited, ErrCodeTimeout, ErrCodeUnavailable, ErrCodeServerError:
		return true
	}
	return false
}

// CodeForStatus maps a vendor HTTP status to the shared taxonomy. Adapters
// use this as the baseline and override from vendor error types where the
// body says more than the status.
func CodeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeAuth
	case status == http.StatusServiceUnavailable:
		return ErrCodeUnavailable
	case status >= 500:
		return ErrCodeServerError
	case status >= 400:
		return ErrCodeInvalidRequest
	}
	return ErrCodeServerError
}

// IsRetryable reports whether err is worth another attempt against the same
// provider. Context cancellation is never retryable; a plain deadline
// expiry is a timeout and is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// CodeOf extracts the taxonomy code from err for audit records and metrics
// labels. Unclassified errors report as UNAVAILABLE, the conservative bucket.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Code
	}
	var allErr *AllProvidersError
	if errors.As(err, &allErr) {
		return ErrCodeAllUnavailable
	}
	if errors.Is(err, ErrNoProviders) {
		return ErrCodeNoProviders
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeUnavailable
}

// AttemptFailure records why one provider failed during a selector pass.
type AttemptFailure struct {
	Provider string    `json:"provider"`
	Code     ErrorCode `json:"code"`
	Reason   string    `json:"reason"`
}

// AllProvidersError means every candidate in the failover order failed. It
// carries the per-provider reasons so callers can degrade with a full
// picture instead of crashing.
type AllProvidersError struct {
	Attempts []AttemptFailure
}

func (e *AllProvidersError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s: %s", a.Provider, a.Code, a.Reason))
	}
	return "all providers unavailable: " + strings.Join(parts, "; ")
}
