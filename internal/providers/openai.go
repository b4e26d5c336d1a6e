package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tesserahq/toolgate/pkg/models"
)

// OpenAIProvider implements Provider for OpenAI's chat completions API.
//
// Unlike the Anthropic API, tool calls stream incrementally: the id and
// function name arrive first, then argument JSON fragments, and a
// finish_reason of "tool_calls" signals completion. Fragments are
// accumulated per call index until then. System prompts are injected as
// the first message rather than passed out-of-band, and every tool
// reply becomes its own message with role "tool".
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// BaseURL overrides the default API base URL (Azure, proxies,
	// compatible local servers).
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base delay; the actual delay grows linearly
	// with the attempt number. Default 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewOpenAIProvider validates the config, applies defaults, and builds
// the SDK client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the GPT models this provider serves.
func (p *OpenAIProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
	}
}

// Complete sends a completion request and returns a streaming channel.
// Request construction and non-retryable API errors are returned
// directly; streaming failures arrive as a Chunk with Error set.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	model := p.model(req.Model)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}

		if !IsRetryable(lastErr) {
			return nil, p.wrapError(lastErr, model)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", p.wrapError(lastErr, model))
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks, model)

	return chunks, nil
}

// processStream converts the OpenAI stream into Chunks, accumulating
// incremental tool call fragments keyed by call index.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*ToolCall)
	flushed := make(map[int]bool)

	var inputTokens int
	var outputTokens int

	flush := func() {
		for i, tc := range toolCalls {
			if flushed[i] || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage("{}")
			}
			chunks <- &Chunk{ToolCall: tc}
			flushed[i] = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &Chunk{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				return
			}
			chunks <- &Chunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		// With IncludeUsage the final frame has usage and no choices.
		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- &Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			if toolCalls[index] == nil {
				toolCalls[index] = &ToolCall{}
			}

			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				var current string
				if toolCalls[index].Arguments != nil {
					current = string(toolCalls[index].Arguments)
				}
				toolCalls[index].Arguments = json.RawMessage(current + tc.Function.Arguments)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertMessages translates turns into OpenAI chat messages. The
// system prompt becomes the first message; each tool reply becomes a
// separate message with role "tool" linked by tool_call_id.
func (p *OpenAIProvider) convertMessages(turns []Turn, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(turns)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range turns {
		switch turn.Role {
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			if len(turn.ToolCalls) > 0 {
				msg.ToolCalls = make([]openai.ToolCall, len(turn.ToolCalls))
				for i, tc := range turn.ToolCalls {
					msg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
			result = append(result, msg)

		case RoleTool:
			for _, reply := range turn.ToolReplies {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    reply.Content,
					ToolCallID: reply.CallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []models.LLMToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
			Message:  apiErr.Message,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if apiErr.Type != "" && providerErr.Code == "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
