package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tesserahq/toolgate/pkg/models"
)

// ToolExecutor runs one model-requested tool call. Failures are values,
// not Go errors, so the model can read them and react; ok reports
// whether the call succeeded.
type ToolExecutor func(ctx context.Context, name string, args map[string]any) (result any, ok bool)

const (
	// defaultMaxTurns bounds the number of tool round trips per run.
	defaultMaxTurns = 10

	// defaultMaxTokens is the per-response generation cap.
	defaultMaxTokens = 4096

	// maxToolCallsPerTurn bounds tool calls collected from one response.
	maxToolCallsPerTurn = 100

	// maxRunTextBytes bounds accumulated assistant text for one run.
	maxRunTextBytes = 1 << 20 // 1MB

	// runEventBuffer is the event channel capacity.
	runEventBuffer = 10
)

// RunnerConfig bounds runs driven by a Runner. Zero values pick the
// package defaults.
type RunnerConfig struct {
	MaxTurns  int
	MaxTokens int
}

// Runner drives the multi-turn tool-calling loop on a Provider.
//
// One run streams the model's response, collects any tool calls,
// executes them through the caller's ToolExecutor, feeds the results
// back, and repeats until the model answers without tools or the turn
// budget runs out. Progress is reported as models.RunEvent values with
// monotonic sequence numbers.
type Runner struct {
	factory *Factory
	cfg     RunnerConfig
	logger  *slog.Logger
}

// NewRunner creates a Runner over the factory's providers.
func NewRunner(factory *Factory, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		factory: factory,
		cfg:     cfg,
		logger:  logger.With("component", "runner"),
	}
}

// RunRequest is the context for one run.
type RunRequest struct {
	// Provider optionally pins a backend by name. When empty the model
	// id selects one, and when both are empty the factory default runs.
	Provider string

	// Model is the backend model id.
	Model string

	// System is the system prompt.
	System string

	// History is the conversation so far, including the triggering
	// user message as the last turn.
	History []Turn

	// Tools is the catalogue slice offered to the model.
	Tools []models.LLMToolDescriptor

	// Execute runs model-requested tool calls. Nil means tool calls
	// fail in-band with an explanatory reply.
	Execute ToolExecutor

	// MaxTokens overrides the runner's per-response cap when positive.
	MaxTokens int
}

// Run executes the loop and streams run events. The channel closes
// after a terminal event (run.completed or run.failed). Cancelling ctx
// aborts the run with a failed event.
func (r *Runner) Run(ctx context.Context, req *RunRequest) <-chan models.RunEvent {
	events := make(chan models.RunEvent, runEventBuffer)

	go func() {
		defer close(events)
		em := &runEmitter{ch: events, runID: uuid.NewString()}
		em.send(models.RunEvent{Type: models.RunEventStarted})

		provider, err := r.resolve(req.Provider, req.Model)
		if err != nil {
			em.fail(err)
			return
		}

		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = r.cfg.MaxTokens
		}

		started := time.Now()
		messages := append([]Turn(nil), req.History...)
		var full strings.Builder
		var inputTokens, outputTokens int

		for turn := 0; turn < r.cfg.MaxTurns; turn++ {
			if err := ctx.Err(); err != nil {
				em.fail(err)
				return
			}

			chunks, err := provider.Complete(ctx, &CompletionRequest{
				Model:     req.Model,
				System:    req.System,
				Messages:  messages,
				Tools:     req.Tools,
				MaxTokens: maxTokens,
			})
			if err != nil {
				em.fail(err)
				return
			}

			var calls []ToolCall
			var text strings.Builder
			for chunk := range chunks {
				if chunk.Error != nil {
					em.fail(chunk.Error)
					return
				}
				if chunk.Text != "" {
					if full.Len()+len(chunk.Text) > maxRunTextBytes {
						em.fail(fmt.Errorf("response text exceeds maximum size of %d bytes", maxRunTextBytes))
						return
					}
					text.WriteString(chunk.Text)
					full.WriteString(chunk.Text)
					em.send(models.RunEvent{
						Type:  models.RunEventChunk,
						Chunk: &models.RunChunkPayload{Delta: chunk.Text},
					})
				}
				if chunk.ToolCall != nil {
					if len(calls) >= maxToolCallsPerTurn {
						em.fail(fmt.Errorf("tool calls exceed maximum of %d per turn", maxToolCallsPerTurn))
						return
					}
					calls = append(calls, *chunk.ToolCall)
				}
				if chunk.Done {
					inputTokens += chunk.InputTokens
					outputTokens += chunk.OutputTokens
				}
			}

			if len(calls) == 0 {
				em.send(models.RunEvent{
					Type: models.RunEventCompleted,
					Completed: &models.RunCompletedPayload{
						FullContent:  full.String(),
						StopReason:   "end_turn",
						InputTokens:  inputTokens,
						OutputTokens: outputTokens,
					},
				})
				r.logger.Debug("run completed",
					"run_id", em.runID,
					"provider", provider.Name(),
					"turns", turn+1,
					"duration_ms", time.Since(started).Milliseconds())
				return
			}

			messages = append(messages, Turn{
				Role:      RoleAssistant,
				Content:   text.String(),
				ToolCalls: calls,
			})

			replies := make([]ToolReply, 0, len(calls))
			for _, call := range calls {
				if err := ctx.Err(); err != nil {
					em.fail(err)
					return
				}
				replies = append(replies, r.executeCall(ctx, em, req.Execute, call))
			}

			messages = append(messages, Turn{Role: RoleTool, ToolReplies: replies})
		}

		em.fail(fmt.Errorf("run exceeded maximum of %d tool turns", r.cfg.MaxTurns))
	}()

	return events
}

// executeCall runs one tool call, emitting the started/completed pair
// around it, and returns the reply to feed back to the model.
func (r *Runner) executeCall(ctx context.Context, em *runEmitter, execute ToolExecutor, call ToolCall) ToolReply {
	em.send(models.RunEvent{
		Type: models.RunEventToolStarted,
		ToolCall: &models.RunToolCallPayload{
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		},
	})

	started := time.Now()
	var result any
	ok := false

	switch {
	case execute == nil:
		result = "tool execution is not available for this conversation"
	default:
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				result = fmt.Sprintf("invalid tool arguments: %v", err)
				break
			}
		}
		result, ok = execute(ctx, call.Name, args)
	}

	elapsed := time.Since(started).Milliseconds()
	em.send(models.RunEvent{
		Type: models.RunEventToolCompleted,
		ToolResult: &models.RunToolResultPayload{
			CallID:          call.ID,
			ToolName:        call.Name,
			Success:         ok,
			Result:          result,
			ExecutionTimeMs: elapsed,
		},
	})

	return ToolReply{
		CallID:  call.ID,
		Content: toolReplyContent(result),
		IsError: !ok,
	}
}

// Generate performs a single-shot completion with no tools and returns
// the full text. Template item stems marked as templated are produced
// through this path.
func (r *Runner) Generate(ctx context.Context, providerName, model, system, prompt string) (string, error) {
	provider, err := r.resolve(providerName, model)
	if err != nil {
		return "", err
	}

	chunks, err := provider.Complete(ctx, &CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []Turn{{Role: RoleUser, Content: prompt}},
		MaxTokens: r.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

func (r *Runner) resolve(providerName, model string) (Provider, error) {
	if providerName != "" {
		return r.factory.Provider(providerName)
	}
	if model != "" {
		return r.factory.ForModel(model)
	}
	return r.factory.Default()
}

func toolReplyContent(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// runEmitter stamps events with the run id, a monotonic sequence, and
// the emission time. Single-goroutine use only.
type runEmitter struct {
	ch    chan<- models.RunEvent
	runID string
	seq   uint64
}

func (e *runEmitter) send(ev models.RunEvent) {
	e.seq++
	ev.Sequence = e.seq
	ev.RunID = e.runID
	ev.Time = time.Now().UTC()
	e.ch <- ev
}

func (e *runEmitter) fail(err error) {
	payload := &models.RunErrorPayload{Message: err.Error(), Err: err}
	if pe, ok := GetProviderError(err); ok {
		payload.Code = string(pe.Reason)
		payload.Retryable = pe.Reason.IsRetryable()
	} else if errors.Is(err, context.Canceled) {
		payload.Code = "cancelled"
	} else if errors.Is(err, context.DeadlineExceeded) {
		payload.Code = "timeout"
		payload.Retryable = true
	}
	e.send(models.RunEvent{Type: models.RunEventFailed, Error: payload})
}
