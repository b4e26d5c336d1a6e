package providers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tesserahq/toolgate/pkg/models"
)

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  AnthropicConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: AnthropicConfig{
				APIKey:       "test-key",
				MaxRetries:   3,
				RetryDelay:   time.Second,
				DefaultModel: "claude-sonnet-4-20250514",
			},
		},
		{
			name:    "missing API key",
			config:  AnthropicConfig{MaxRetries: 3},
			wantErr: true,
		},
		{
			name:   "defaults applied",
			config: AnthropicConfig{APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAnthropicProvider(tt.config)
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

func TestAnthropicModels(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	if provider.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", provider.Name())
	}

	ids := make(map[string]bool)
	for _, m := range provider.Models() {
		ids[m.ID] = true
		if m.Name == "" || m.ContextSize <= 0 {
			t.Errorf("model %s has incomplete metadata", m.ID)
		}
	}
	if !ids["claude-sonnet-4-20250514"] {
		t.Error("expected claude-sonnet-4-20250514 in model list")
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	tests := []struct {
		name    string
		turns   []Turn
		want    int
		wantErr bool
	}{
		{
			name:  "simple user message",
			turns: []Turn{{Role: RoleUser, Content: "Hello!"}},
			want:  1,
		},
		{
			name: "system turn is skipped",
			turns: []Turn{
				{Role: RoleSystem, Content: "You are helpful."},
				{Role: RoleUser, Content: "Hello!"},
			},
			want: 1,
		},
		{
			name: "assistant with tool call",
			turns: []Turn{
				{Role: RoleUser, Content: "weather?"},
				{
					Role:    RoleAssistant,
					Content: "Let me check.",
					ToolCalls: []ToolCall{
						{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"London"}`)},
					},
				},
			},
			want: 2,
		},
		{
			name: "tool turn becomes user message",
			turns: []Turn{
				{
					Role: RoleTool,
					ToolReplies: []ToolReply{
						{CallID: "call_1", Content: "Sunny, 22C"},
					},
				},
			},
			want: 1,
		},
		{
			name: "empty turn is dropped",
			turns: []Turn{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant},
			},
			want: 1,
		},
		{
			name: "invalid tool call JSON",
			turns: []Turn{
				{
					Role: RoleAssistant,
					ToolCalls: []ToolCall{
						{ID: "call_1", Name: "t", Arguments: json.RawMessage(`invalid`)},
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := provider.convertMessages(tt.turns)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != tt.want {
				t.Errorf("got %d messages, want %d", len(result), tt.want)
			}
		})
	}
}

func TestAnthropicConvertTools(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	tools := []models.LLMToolDescriptor{
		{
			Name:        "get_weather",
			Description: "Fetch current weather",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string"},
				},
				"required": []any{"city"},
			},
		},
	}

	result, err := provider.convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d tools, want 1", len(result))
	}
	if result[0].OfTool == nil {
		t.Fatal("tool param missing definition")
	}
	if result[0].OfTool.Name != "get_weather" {
		t.Errorf("tool name = %q", result[0].OfTool.Name)
	}
}

func TestWrapAnthropicError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	apiErr := &anthropic.Error{
		StatusCode: 429,
		RequestID:  "req_123",
	}
	wrapped := provider.wrapError(apiErr, "claude-sonnet-4-20250514")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Status != 429 {
		t.Errorf("Status = %d, want 429", providerErr.Status)
	}
	if providerErr.Reason != ReasonRateLimit {
		t.Errorf("Reason = %v, want %v", providerErr.Reason, ReasonRateLimit)
	}
	if providerErr.RequestID != "req_123" {
		t.Errorf("RequestID = %q, want req_123", providerErr.RequestID)
	}
}
