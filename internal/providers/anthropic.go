package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/tesserahq/toolgate/pkg/models"
)

// AnthropicProvider implements Provider for Anthropic's Claude API.
//
// It converts between the unified message format and Anthropic's
// content-block format, consumes the SSE stream, and retries transient
// failures with exponential backoff. Tool input JSON arrives in
// fragments across delta events and is accumulated until the content
// block closes; only complete tool calls are emitted.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is
// required; the rest default in NewAnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// BaseURL overrides the default API base URL (proxies, test servers).
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay; the actual delay is
	// RetryDelay * 2^attempt. Default 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider validates the config, applies defaults, and
// builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the Claude models this provider serves.
func (p *AnthropicProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// Complete sends a completion request and returns a streaming channel.
// The returned error covers request construction only; streaming
// failures arrive as a Chunk with Error set.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			wrapped := p.wrapError(err, p.model(req.Model))
			if !IsRetryable(wrapped) {
				chunks <- &Chunk{Error: wrapped}
				return
			}

			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &Chunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}

		if err != nil {
			chunks <- &Chunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, p.model(req.Model)))}
			return
		}

		p.processStream(stream, chunks, p.model(req.Model))
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}

	// System prompts are separate from messages in the Anthropic API.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents caps consecutive empty SSE events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// processStream converts Anthropic SSE events into Chunks. Tool calls
// span multiple events: a content_block_start carries the id and name,
// input_json_delta events stream the argument JSON, and
// content_block_stop finalizes the call.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	var currentToolCall *ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens int
	var outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			contentBlock := contentBlockStart.ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			contentBlockDelta := event.AsContentBlockDelta()
			delta := contentBlockDelta.Delta

			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Arguments = json.RawMessage(currentToolInput.String())
				chunks <- &Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &Chunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &Chunk{
				Error: p.wrapError(errors.New("anthropic stream error"), model),
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &Chunk{
					Error: p.wrapError(
						fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
						model,
					),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Error: p.wrapError(err, model)}
	}
}

// convertMessages translates turns into Anthropic content-block
// messages. System turns are skipped (handled via params.System); tool
// turns become user messages carrying tool_result blocks.
func (p *AnthropicProvider) convertMessages(turns []Turn) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, turn := range turns {
		if turn.Role == RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if turn.Content != "" {
			content = append(content, anthropic.NewTextBlock(turn.Content))
		}

		for _, reply := range turn.ToolReplies {
			content = append(content, anthropic.NewToolResultBlock(
				reply.CallID,
				reply.Content,
				reply.IsError,
			))
		}

		for _, call := range turn.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(call.Arguments, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if len(content) == 0 {
			continue
		}

		if turn.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.LLMToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
