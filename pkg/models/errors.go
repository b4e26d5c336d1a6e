package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures by kind rather than transport status.
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "validation_error"
	ErrCodeTemplate          ErrorCode = "template_error"
	ErrCodeBuiltin           ErrorCode = "builtin_error"
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeForbidden         ErrorCode = "forbidden"
	ErrCodeConflict          ErrorCode = "conflict"
	ErrCodeUpstreamTimeout   ErrorCode = "upstream_timeout"
	ErrCodeUpstreamConn      ErrorCode = "upstream_connection_error"
	ErrCodeUpstream          ErrorCode = "upstream_error"
	ErrCodeCircuitOpen       ErrorCode = "circuit_open"
	ErrCodeCircuitTesting    ErrorCode = "circuit_testing"
	ErrCodeTokenExchange     ErrorCode = "token_exchange_failed"
	ErrCodeClientCredentials ErrorCode = "client_credentials_failed"
	ErrCodeOIDCDiscovery     ErrorCode = "oidc_discovery_error"
	ErrCodePollTimeout       ErrorCode = "poll_timeout"
	ErrCodeInternal          ErrorCode = "internal_error"
)

// ErrorBodyLimit caps how much of an upstream body an error may carry.
const ErrorBodyLimit = 500

// ToolError is the uniform error object crossing every boundary of the
// system. Retryability travels with it so callers can decide without
// re-classifying. It must never carry credentials or subject tokens.
type ToolError struct {
	Code           ErrorCode      `json:"error_code"`
	Message        string         `json:"message"`
	Retryable      bool           `json:"retryable"`
	Details        map[string]any `json:"details,omitempty"`
	UpstreamStatus int            `json:"upstream_status,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches one non-sensitive context entry and returns the
// error for chaining.
func (e *ToolError) WithDetail(key string, value any) *ToolError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error kind onto a transport status.
func (e *ToolError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation, ErrCodeTemplate, ErrCodeBuiltin:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamConn, ErrCodeUpstream,
		ErrCodeCircuitOpen, ErrCodeCircuitTesting, ErrCodePollTimeout:
		return http.StatusServiceUnavailable
	case ErrCodeTokenExchange:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnauthorized
	case ErrCodeClientCredentials:
		return http.StatusUnauthorized
	case ErrCodeOIDCDiscovery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsToolError unwraps err into a *ToolError if one is in the chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CoerceToolError returns the ToolError in err's chain, or wraps err as
// an internal error so every failure has a uniform wire shape.
func CoerceToolError(err error) *ToolError {
	if te, ok := AsToolError(err); ok {
		return te
	}
	return &ToolError{Code: ErrCodeInternal, Message: err.Error()}
}

// NewValidationError lists up to five path-qualified problems.
func NewValidationError(problems []string) *ToolError {
	if len(problems) > 5 {
		problems = problems[:5]
	}
	return &ToolError{
		Code:      ErrCodeValidation,
		Message:   "arguments failed schema validation",
		Retryable: false,
		Details:   map[string]any{"validation_errors": problems},
	}
}

// NewTemplateError marks an unrenderable template. Detail carries the
// template context (which template, which variables were supplied).
func NewTemplateError(msg string, details map[string]any) *ToolError {
	return &ToolError{Code: ErrCodeTemplate, Message: msg, Retryable: false, Details: details}
}

func NewNotFoundError(kind, id string) *ToolError {
	return &ToolError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, id),
		Details: map[string]any{"resource_type": kind, "resource_id": id},
	}
}

func NewUpstreamTimeout(msg string) *ToolError {
	return &ToolError{Code: ErrCodeUpstreamTimeout, Message: msg, Retryable: true}
}

func NewUpstreamConnError(msg string) *ToolError {
	return &ToolError{Code: ErrCodeUpstreamConn, Message: msg, Retryable: true}
}

// NewUpstreamError reports a 5xx from the upstream. The body is
// truncated before it is attached.
func NewUpstreamError(status int, body string) *ToolError {
	return &ToolError{
		Code:           ErrCodeUpstream,
		Message:        fmt.Sprintf("upstream returned status %d", status),
		Retryable:      true,
		UpstreamStatus: status,
		Details:        map[string]any{"body": TruncateBody(body)},
	}
}

func NewInternalError(msg string) *ToolError {
	return &ToolError{Code: ErrCodeInternal, Message: msg}
}

// TruncateBody bounds upstream payloads embedded in errors.
func TruncateBody(body string) string {
	if len(body) <= ErrorBodyLimit {
		return body
	}
	return body[:ErrorBodyLimit] + "...(truncated)"
}
