package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestToolError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *ToolError
		want int
	}{
		{"validation", &ToolError{Code: ErrCodeValidation}, http.StatusBadRequest},
		{"template", &ToolError{Code: ErrCodeTemplate}, http.StatusBadRequest},
		{"not_found", &ToolError{Code: ErrCodeNotFound}, http.StatusNotFound},
		{"forbidden", &ToolError{Code: ErrCodeForbidden}, http.StatusForbidden},
		{"conflict", &ToolError{Code: ErrCodeConflict}, http.StatusConflict},
		{"upstream_timeout", &ToolError{Code: ErrCodeUpstreamTimeout}, http.StatusServiceUnavailable},
		{"circuit_open", &ToolError{Code: ErrCodeCircuitOpen}, http.StatusServiceUnavailable},
		{"circuit_testing", &ToolError{Code: ErrCodeCircuitTesting}, http.StatusServiceUnavailable},
		{"poll_timeout", &ToolError{Code: ErrCodePollTimeout}, http.StatusServiceUnavailable},
		{"exchange_auth", &ToolError{Code: ErrCodeTokenExchange, Retryable: false}, http.StatusUnauthorized},
		{"exchange_transport", &ToolError{Code: ErrCodeTokenExchange, Retryable: true}, http.StatusServiceUnavailable},
		{"client_credentials", &ToolError{Code: ErrCodeClientCredentials}, http.StatusUnauthorized},
		{"oidc", &ToolError{Code: ErrCodeOIDCDiscovery}, http.StatusBadGateway},
		{"internal", &ToolError{Code: ErrCodeInternal}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewValidationError_CapsAtFive(t *testing.T) {
	problems := []string{"a", "b", "c", "d", "e", "f", "g"}
	err := NewValidationError(problems)

	list, ok := err.Details["validation_errors"].([]string)
	if !ok {
		t.Fatalf("validation_errors detail missing or wrong type: %T", err.Details["validation_errors"])
	}
	if len(list) != 5 {
		t.Errorf("len(validation_errors) = %d, want 5", len(list))
	}
	if err.Retryable {
		t.Error("validation errors must not be retryable")
	}
}

func TestTruncateBody(t *testing.T) {
	short := "small body"
	if got := TruncateBody(short); got != short {
		t.Errorf("TruncateBody(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("x", ErrorBodyLimit+100)
	got := TruncateBody(long)
	if len(got) != ErrorBodyLimit+len("...(truncated)") {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Error("truncated body missing marker")
	}
}

func TestNewUpstreamError_TruncatesBody(t *testing.T) {
	body := strings.Repeat("y", 2000)
	err := NewUpstreamError(502, body)

	if err.UpstreamStatus != 502 {
		t.Errorf("UpstreamStatus = %d, want 502", err.UpstreamStatus)
	}
	if !err.Retryable {
		t.Error("5xx upstream error must be retryable")
	}
	got, _ := err.Details["body"].(string)
	if len(got) > ErrorBodyLimit+len("...(truncated)") {
		t.Errorf("body detail not truncated: len=%d", len(got))
	}
}

func TestAsToolError_ThroughWrap(t *testing.T) {
	inner := NewNotFoundError("tool", "src:missing")
	wrapped := fmt.Errorf("executing: %w", inner)

	te, ok := AsToolError(wrapped)
	if !ok {
		t.Fatal("AsToolError failed to unwrap")
	}
	if te.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", te.Code, ErrCodeNotFound)
	}
}

func TestCoerceToolError_PlainError(t *testing.T) {
	te := CoerceToolError(errors.New("boom"))
	if te.Code != ErrCodeInternal {
		t.Errorf("Code = %v, want %v", te.Code, ErrCodeInternal)
	}
	if te.Message != "boom" {
		t.Errorf("Message = %q, want %q", te.Message, "boom")
	}
}

func TestFailedResult_CoercesError(t *testing.T) {
	r := FailedResult(errors.New("plain failure"), 12)
	if r.Status != ExecutionFailed {
		t.Errorf("Status = %v, want %v", r.Status, ExecutionFailed)
	}
	if r.Error == nil || r.Error.Code != ErrCodeInternal {
		t.Error("plain error not coerced into ToolError")
	}
	if r.ExecutionTimeMs != 12 {
		t.Errorf("ExecutionTimeMs = %d, want 12", r.ExecutionTimeMs)
	}
}
