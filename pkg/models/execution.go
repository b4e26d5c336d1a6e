package models

// ExecutionStatus is the terminal state of one tool invocation.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecuteToolResult is the uniform wire shape for both successful and
// failed invocations.
type ExecuteToolResult struct {
	Status          ExecutionStatus `json:"status"`
	Result          any             `json:"result,omitempty"`
	Error           *ToolError      `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	UpstreamStatus  int             `json:"upstream_status,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Succeeded reports whether the invocation completed.
func (r *ExecuteToolResult) Succeeded() bool {
	return r.Status == ExecutionCompleted
}

// CompletedResult builds a success envelope.
func CompletedResult(result any, elapsedMs int64) *ExecuteToolResult {
	return &ExecuteToolResult{Status: ExecutionCompleted, Result: result, ExecutionTimeMs: elapsedMs}
}

// FailedResult builds a failure envelope from any error. Non-ToolError
// values are coerced so the wire shape stays uniform.
func FailedResult(err error, elapsedMs int64) *ExecuteToolResult {
	te := CoerceToolError(err)
	return &ExecuteToolResult{
		Status:          ExecutionFailed,
		Error:           te,
		ExecutionTimeMs: elapsedMs,
		UpstreamStatus:  te.UpstreamStatus,
	}
}

// BuiltinToolResult is what every in-process tool returns.
type BuiltinToolResult struct {
	Success  bool           `json:"success"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BuiltinOK wraps a successful builtin result.
func BuiltinOK(result any) *BuiltinToolResult {
	return &BuiltinToolResult{Success: true, Result: result}
}

// BuiltinFail wraps a builtin failure message.
func BuiltinFail(msg string) *BuiltinToolResult {
	return &BuiltinToolResult{Success: false, Error: msg}
}
