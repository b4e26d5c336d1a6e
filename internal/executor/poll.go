package executor

import (
	"context"
	"fmt"

	"github.com/tesserahq/toolgate/internal/backoff"
	"github.com/tesserahq/toolgate/internal/jsonpath"
	"github.com/tesserahq/toolgate/internal/render"
	"github.com/tesserahq/toolgate/pkg/models"
)

// defaultMaxPollAttempts bounds the poll loop when the profile does
// not.
const defaultMaxPollAttempts = 30

// pollUntilDone drives the async completion loop after a successful
// trigger call. The trigger response is merged into the argument scope
// so the status template can reference fields like {{ job_id }}.
func (e *Executor) pollUntilDone(ctx context.Context, req *Request, trigger *upstreamCall, triggerResp *upstreamResponse, elapsed func() int64) *models.ExecuteToolResult {
	poll := req.Definition.Execution.Poll

	scope := make(map[string]any, len(req.args())+4)
	for k, v := range req.args() {
		scope[k] = v
	}
	if fields, ok := triggerResp.value.(map[string]any); ok {
		for k, v := range fields {
			scope[k] = v
		}
	}

	policy := backoff.FromPoll(poll)
	maxAttempts := poll.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxPollAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := backoff.SleepAttempt(ctx, policy, attempt); err != nil {
			return models.FailedResult(err, elapsed())
		}

		statusURL, err := render.RenderURL(poll.StatusURLTemplate, scope)
		if err != nil {
			return models.FailedResult(err, elapsed())
		}

		statusCall := &upstreamCall{
			method:      "GET",
			url:         statusURL,
			headers:     trigger.headers,
			contentType: trigger.contentType,
			timeout:     trigger.timeout,
		}
		resp, err := e.dispatch(ctx, req.SourceID, statusCall)
		if err != nil {
			return models.FailedResult(err, elapsed())
		}
		if resp.clientError {
			return models.FailedResult(&models.ToolError{
				Code:           models.ErrCodeUpstream,
				Message:        fmt.Sprintf("status endpoint returned %d", resp.status),
				UpstreamStatus: resp.status,
			}, elapsed())
		}

		statusValue, _ := jsonpath.ExtractString(resp.value, poll.StatusFieldPath)

		if containsValue(poll.CompletedValues, statusValue) {
			var result any = resp.value
			if poll.ResultFieldPath != "" {
				if extracted, ok := jsonpath.Extract(resp.value, poll.ResultFieldPath); ok {
					result = extracted
				}
			}
			out := models.CompletedResult(result, elapsed())
			out.UpstreamStatus = resp.status
			out.Metadata = map[string]any{"poll_attempts": attempt}
			return out
		}
		if containsValue(poll.FailedValues, statusValue) {
			return &models.ExecuteToolResult{
				Status: models.ExecutionFailed,
				Result: resp.value,
				Error: &models.ToolError{
					Code:    models.ErrCodeUpstream,
					Message: fmt.Sprintf("job reported status %q", statusValue),
				},
				ExecutionTimeMs: elapsed(),
				UpstreamStatus:  resp.status,
				Metadata:        map[string]any{"poll_attempts": attempt},
			}
		}
	}

	return models.FailedResult(&models.ToolError{
		Code:      models.ErrCodePollTimeout,
		Message:   fmt.Sprintf("no terminal status after %d poll attempts", maxAttempts),
		Retryable: true,
		Details:   map[string]any{"max_poll_attempts": maxAttempts},
	}, elapsed())
}

func containsValue(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
