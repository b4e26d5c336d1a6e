package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	defaultCodeTimeout = 5 * time.Second
	maxCodeTimeout     = 30 * time.Second
	maxStdoutBytes     = 64 << 10
)

// codeExecuteTool runs JavaScript in a fresh goja VM per call. The VM
// has no host access beyond console.log; timeouts interrupt the VM.
// The sandbox limits routine misuse, it is not a hard security
// boundary.
type codeExecuteTool struct {
	defaultTimeout time.Duration
}

func newCodeExecuteTool(timeout time.Duration) *codeExecuteTool {
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}
	return &codeExecuteTool{defaultTimeout: timeout}
}

func (t *codeExecuteTool) Name() string { return "code_execute" }

func (t *codeExecuteTool) Description() string {
	return "Run a JavaScript snippet in an isolated sandbox. console.log output is captured; the result is the last expression value or an explicit `result` variable."
}

func (t *codeExecuteTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"code":            prop("string", "The JavaScript source to run."),
		"timeout_seconds": prop("number", "Execution timeout in seconds (max 30, default 5)."),
	}, "code")
}

func (t *codeExecuteTool) Execute(ctx context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	code, ok := stringArg(args, "code")
	if !ok || strings.TrimSpace(code) == "" {
		return failf("code is required")
	}

	timeout := t.defaultTimeout
	if secs, ok := floatArg(args, "timeout_seconds"); ok {
		if secs <= 0 {
			return failf("timeout_seconds must be positive")
		}
		timeout = time.Duration(secs * float64(time.Second))
		if timeout > maxCodeTimeout {
			timeout = maxCodeTimeout
		}
	}

	vm := goja.New()

	var stdout strings.Builder
	stdoutTruncated := false
	appendLine := func(line string) {
		if stdout.Len() >= maxStdoutBytes {
			stdoutTruncated = true
			return
		}
		stdout.WriteString(line)
		stdout.WriteByte('\n')
	}
	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, consoleFormat(arg))
		}
		appendLine(strings.Join(parts, " "))
		return goja.Undefined()
	})
	vm.Set("console", console)

	timer := time.AfterFunc(timeout, func() { vm.Interrupt("timeout") })
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("cancelled")
		case <-watchDone:
		}
	}()

	value, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return failf("code execution cancelled")
			}
			return failf("code execution timed out after %s", timeout)
		}
		return failf("javascript error: %v", err)
	}

	// An explicit `result` variable wins over the last expression.
	out := exportValue(value)
	if rv := vm.Get("result"); rv != nil && !goja.IsUndefined(rv) {
		out = exportValue(rv)
	}

	result := map[string]any{
		"result": out,
		"stdout": stdout.String(),
	}
	if stdoutTruncated {
		result["stdout_truncated"] = true
	}
	return models.BuiltinOK(result)
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func consoleFormat(v goja.Value) string {
	exported := exportValue(v)
	switch val := exported.(type) {
	case nil:
		return "null"
	case string:
		return val
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}
