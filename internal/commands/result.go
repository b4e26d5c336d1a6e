package commands

import (
	"errors"
	"fmt"

	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// Status is the outcome class of a command execution.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusBadRequest         Status = "bad_request"
	StatusNotFound           Status = "not_found"
	StatusConflict           Status = "conflict"
	StatusForbidden          Status = "forbidden"
	StatusInternalError      Status = "internal_error"
	StatusServiceUnavailable Status = "service_unavailable"
)

// OperationResult is the single shape crossing the API boundary: a
// status, the payload on success, and a human-readable detail on
// failure. Failures with structured payloads carry them in Data
// alongside the status.
type OperationResult struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// OK reports whether the command succeeded.
func (r OperationResult) OK() bool { return r.Status == StatusOK }

// OK wraps a successful payload.
func OK(data any) OperationResult {
	return OperationResult{Status: StatusOK, Data: data}
}

// BadRequest marks a malformed or invalid command.
func BadRequest(detail string) OperationResult {
	return OperationResult{Status: StatusBadRequest, Detail: detail}
}

// NotFound marks a missing resource, carrying its type and id.
func NotFound(resourceType, id string) OperationResult {
	return OperationResult{
		Status: StatusNotFound,
		Detail: fmt.Sprintf("%s %q not found", resourceType, id),
		Data:   map[string]any{"resource_type": resourceType, "resource_id": id},
	}
}

// Conflict marks a command that lost against current state.
func Conflict(detail string) OperationResult {
	return OperationResult{Status: StatusConflict, Detail: detail}
}

// Forbidden marks a command the caller may not perform.
func Forbidden(detail string) OperationResult {
	return OperationResult{Status: StatusForbidden, Detail: detail}
}

// InternalError marks a fault in the gateway itself.
func InternalError(detail string) OperationResult {
	return OperationResult{Status: StatusInternalError, Detail: detail}
}

// ServiceUnavailable marks a dependency that is temporarily down.
func ServiceUnavailable(detail string) OperationResult {
	return OperationResult{Status: StatusServiceUnavailable, Detail: detail}
}

// FromError maps the error taxonomy onto a result. ToolErrors ride in
// Data so callers keep the full diagnostic object; storage sentinels
// map to their natural statuses; anything else is an internal error.
func FromError(err error) OperationResult {
	if err == nil {
		return OK(nil)
	}

	if te, ok := models.AsToolError(err); ok {
		res := OperationResult{Detail: te.Message, Data: te}
		switch te.Code {
		case models.ErrCodeValidation, models.ErrCodeTemplate, models.ErrCodeBuiltin:
			res.Status = StatusBadRequest
		case models.ErrCodeNotFound:
			res.Status = StatusNotFound
		case models.ErrCodeForbidden:
			res.Status = StatusForbidden
		case models.ErrCodeConflict:
			res.Status = StatusConflict
		case models.ErrCodeUpstreamTimeout, models.ErrCodeUpstreamConn, models.ErrCodeUpstream,
			models.ErrCodeCircuitOpen, models.ErrCodeCircuitTesting, models.ErrCodePollTimeout,
			models.ErrCodeOIDCDiscovery:
			res.Status = StatusServiceUnavailable
		case models.ErrCodeTokenExchange:
			if te.Retryable {
				res.Status = StatusServiceUnavailable
			} else {
				res.Status = StatusForbidden
			}
		case models.ErrCodeClientCredentials:
			res.Status = StatusForbidden
		default:
			res.Status = StatusInternalError
		}
		return res
	}

	if errors.Is(err, storage.ErrNotFound) {
		return OperationResult{Status: StatusNotFound, Detail: err.Error()}
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return Conflict(err.Error())
	}

	return InternalError(err.Error())
}
