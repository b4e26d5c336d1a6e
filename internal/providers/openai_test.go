package providers

import (
	"encoding/json"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tesserahq/toolgate/pkg/models"
)

func TestNewOpenAIProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  OpenAIConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: OpenAIConfig{
				APIKey:       "test-key",
				MaxRetries:   3,
				RetryDelay:   time.Second,
				DefaultModel: "gpt-4o",
			},
		},
		{
			name:    "missing API key",
			config:  OpenAIConfig{MaxRetries: 3},
			wantErr: true,
		},
		{
			name:   "defaults applied",
			config: OpenAIConfig{APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewOpenAIProvider(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.maxRetries <= 0 || provider.retryDelay <= 0 || provider.defaultModel == "" {
				t.Error("defaults were not applied")
			}
		})
	}
}

func TestOpenAIModels(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	if provider.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", provider.Name())
	}

	ids := make(map[string]bool)
	for _, m := range provider.Models() {
		ids[m.ID] = true
	}
	if !ids["gpt-4o"] {
		t.Error("expected gpt-4o in model list")
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	t.Run("system prompt injected first", func(t *testing.T) {
		result := provider.convertMessages(
			[]Turn{{Role: RoleUser, Content: "hi"}},
			"You are helpful.",
		)
		if len(result) != 2 {
			t.Fatalf("got %d messages, want 2", len(result))
		}
		if result[0].Role != openai.ChatMessageRoleSystem {
			t.Errorf("first message role = %q, want system", result[0].Role)
		}
		if result[1].Role != openai.ChatMessageRoleUser {
			t.Errorf("second message role = %q, want user", result[1].Role)
		}
	})

	t.Run("assistant tool calls mapped", func(t *testing.T) {
		result := provider.convertMessages([]Turn{
			{
				Role:    RoleAssistant,
				Content: "checking",
				ToolCalls: []ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"London"}`)},
				},
			},
		}, "")
		if len(result) != 1 {
			t.Fatalf("got %d messages, want 1", len(result))
		}
		if len(result[0].ToolCalls) != 1 {
			t.Fatalf("got %d tool calls, want 1", len(result[0].ToolCalls))
		}
		tc := result[0].ToolCalls[0]
		if tc.ID != "call_1" || tc.Function.Name != "get_weather" {
			t.Errorf("tool call = %+v", tc)
		}
		if tc.Function.Arguments != `{"city":"London"}` {
			t.Errorf("arguments = %q", tc.Function.Arguments)
		}
	})

	t.Run("each tool reply becomes its own message", func(t *testing.T) {
		result := provider.convertMessages([]Turn{
			{
				Role: RoleTool,
				ToolReplies: []ToolReply{
					{CallID: "call_1", Content: "sunny"},
					{CallID: "call_2", Content: "rainy"},
				},
			},
		}, "")
		if len(result) != 2 {
			t.Fatalf("got %d messages, want 2", len(result))
		}
		for i, want := range []string{"call_1", "call_2"} {
			if result[i].Role != openai.ChatMessageRoleTool {
				t.Errorf("message %d role = %q, want tool", i, result[i].Role)
			}
			if result[i].ToolCallID != want {
				t.Errorf("message %d tool_call_id = %q, want %q", i, result[i].ToolCallID, want)
			}
		}
	})
}

func TestOpenAIConvertTools(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	tools := []models.LLMToolDescriptor{
		{
			Name:        "get_weather",
			Description: "Fetch current weather",
			InputSchema: map[string]any{"type": "object"},
		},
		{
			Name: "no_schema",
		},
	}

	result := provider.convertTools(tools)
	if len(result) != 2 {
		t.Fatalf("got %d tools, want 2", len(result))
	}
	if result[0].Function.Name != "get_weather" {
		t.Errorf("tool name = %q", result[0].Function.Name)
	}

	// A tool without a schema still gets a valid empty object schema.
	params, ok := result[1].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type = %T", result[1].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("fallback schema type = %v", params["type"])
	}
}

func TestWrapOpenAIError(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	apiErr := &openai.APIError{
		HTTPStatusCode: 401,
		Message:        "Incorrect API key provided",
		Type:           "invalid_request_error",
		Code:           "invalid_api_key",
	}
	wrapped := provider.wrapError(apiErr, "gpt-4o")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Status != 401 {
		t.Errorf("Status = %d, want 401", providerErr.Status)
	}
	if providerErr.Reason != ReasonAuth {
		t.Errorf("Reason = %v, want %v", providerErr.Reason, ReasonAuth)
	}
	if providerErr.Code != "invalid_api_key" {
		t.Errorf("Code = %q, want invalid_api_key", providerErr.Code)
	}
	if providerErr.Message != "Incorrect API key provided" {
		t.Errorf("Message = %q", providerErr.Message)
	}
}
