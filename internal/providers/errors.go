package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorReason categorizes why a provider request failed, driving the
// retry decision.
type ErrorReason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402).
	ReasonBilling ErrorReason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth ErrorReason = "auth"

	// ReasonTimeout indicates a request timeout.
	ReasonTimeout ErrorReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError ErrorReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400).
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonModelUnavailable indicates the model is not available.
	ReasonModelUnavailable ErrorReason = "model_unavailable"

	// ReasonContentFilter indicates content blocked by safety filters.
	ReasonContentFilter ErrorReason = "content_filter"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown ErrorReason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM backend. It carries
// the context needed for retry decisions and debugging without leaking
// request payloads.
type ProviderError struct {
	// Reason categorizes the error for retry logic.
	Reason ErrorReason

	// Provider is the backend name ("anthropic", "openai").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request id for support escalation.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError, classifying the cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}

	return err
}

// WithStatus adds an HTTP status and reclassifies the reason.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code and reclassifies when
// the code is recognized.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request id.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error string and returns a reason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ReasonTimeout
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ReasonRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return ReasonAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return ReasonBilling
	}

	if strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "blocked") {
		return ReasonContentFilter
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return ReasonModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ReasonServerError
	}

	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "model_not_available":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "server_error", "internal_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsProviderError checks if an error chain contains a ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// IsRetryable reports whether an error should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
