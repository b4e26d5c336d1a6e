package models

import "encoding/json"

// Wire message types for the conversation channel. Every frame is a
// JSON object {type, payload}.
const (
	// Server -> client.
	MsgConversationConfig = "control.conversation.config"
	MsgFlowChatInput      = "control.flow.chatInput"
	MsgItemContext        = "control.item.context"
	MsgWidgetRender       = "control.widget.render"
	MsgContentChunk       = "data.content.chunk"
	MsgContentComplete    = "data.content.complete"
	MsgToolCall           = "data.tool.call"
	MsgToolResult         = "data.tool.result"
	MsgMessageAck         = "data.message.ack"
	MsgResponseAck        = "data.response.ack"
	MsgSystemError        = "system.error"

	// Client -> server.
	MsgSessionInit    = "control.session.init"
	MsgSessionAck     = "control.session.ack"
	MsgMessageSend    = "data.message.send"
	MsgWidgetResponse = "data.widget.response"
	MsgFlowBegin      = "control.flow.begin"
	MsgFlowPause      = "control.flow.pause"
	MsgFlowResume     = "control.flow.resume"
	MsgFlowCancel     = "control.flow.cancel"
	MsgModelChange    = "control.model.change"
)

// WireMessage is the envelope for every frame on the conversation channel.
type WireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewWireMessage marshals payload into an envelope. Marshal failures
// surface as a system error frame rather than a dropped message.
func NewWireMessage(msgType string, payload any) (*WireMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &WireMessage{Type: msgType, Payload: raw}, nil
}

// ConversationConfigPayload mirrors the template's presentation flags.
type ConversationConfigPayload struct {
	TemplateID                 string `json:"templateId,omitempty"`
	TemplateName               string `json:"templateName,omitempty"`
	TotalItems                 int    `json:"totalItems"`
	DisplayMode                string `json:"displayMode,omitempty"`
	ShowConversationHistory    bool   `json:"showConversationHistory"`
	AllowBackwardNavigation    bool   `json:"allowBackwardNavigation"`
	AllowConcurrentItemWidgets bool   `json:"allowConcurrentItemWidgets"`
	AllowSkip                  bool   `json:"allowSkip"`
	EnableChatInputInitially   bool   `json:"enableChatInputInitially"`
	DisplayProgressIndicator   bool   `json:"displayProgressIndicator"`
	DisplayFinalScoreReport    bool   `json:"displayFinalScoreReport"`
	ContinueAfterCompletion    bool   `json:"continueAfterCompletion"`
}

// ChatInputPayload toggles the client's chat input.
type ChatInputPayload struct {
	Enabled bool `json:"enabled"`
}

// ItemContextPayload announces the active template item.
type ItemContextPayload struct {
	ItemID                   string `json:"itemId"`
	ItemIndex                int    `json:"itemIndex"`
	TotalItems               int    `json:"totalItems"`
	ItemTitle                string `json:"itemTitle,omitempty"`
	EnableChatInput          bool   `json:"enableChatInput"`
	TimeLimitSeconds         int    `json:"timeLimitSeconds,omitempty"`
	ShowRemainingTime        bool   `json:"showRemainingTime"`
	WidgetCompletionBehavior string `json:"widgetCompletionBehavior,omitempty"`
	ConversationDeadline     string `json:"conversationDeadline,omitempty"`
}

// WidgetRenderPayload forwards a widget descriptor verbatim.
type WidgetRenderPayload struct {
	ItemID           string         `json:"itemId"`
	WidgetID         string         `json:"widgetId"`
	WidgetType       string         `json:"widgetType"`
	Stem             string         `json:"stem,omitempty"`
	Options          []WidgetOption `json:"options,omitempty"`
	WidgetConfig     map[string]any `json:"widgetConfig,omitempty"`
	Required         bool           `json:"required"`
	Skippable        bool           `json:"skippable"`
	InitialValue     any            `json:"initialValue,omitempty"`
	ShowUserResponse bool           `json:"showUserResponse"`
	Layout           string         `json:"layout,omitempty"`
	Constraints      map[string]any `json:"constraints,omitempty"`
}

// ContentChunkPayload streams assistant text.
type ContentChunkPayload struct {
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Final     bool   `json:"final"`
}

// ContentCompletePayload closes an assistant message.
type ContentCompletePayload struct {
	MessageID   string `json:"messageId"`
	Role        Role   `json:"role"`
	FullContent string `json:"fullContent"`
}

// ToolCallPayload announces a tool invocation to the client.
type ToolCallPayload struct {
	CallID    string          `json:"callId"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultPayload reports a tool invocation outcome to the client.
type ToolResultPayload struct {
	CallID          string `json:"callId"`
	ToolName        string `json:"toolName"`
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// AckPayload acknowledges a client message or widget response.
type AckPayload struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	WidgetID  string `json:"widgetId,omitempty"`
}

// SystemErrorPayload surfaces an error on the conversation channel.
type SystemErrorPayload struct {
	Category    string `json:"category"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	IsRetryable bool   `json:"isRetryable"`
}

// SessionInitPayload is the client handshake: which conversation to
// attach and the edge-verified access token.
type SessionInitPayload struct {
	ConversationID string `json:"conversationId"`
	AccessToken    string `json:"accessToken,omitempty"`
}

// MessageSendPayload is a reactive user message.
type MessageSendPayload struct {
	Content string `json:"content"`
}

// WidgetResponsePayload is the user's answer to a rendered widget.
type WidgetResponsePayload struct {
	ItemID   string `json:"itemId"`
	WidgetID string `json:"widgetId"`
	Value    any    `json:"value"`
}

// ModelChangePayload switches the conversation's model override.
type ModelChangePayload struct {
	Model string `json:"model"`
}
