package models

import "time"

// WidgetTypeMessage marks a content entry that is rendered as an
// assistant message stream instead of an interactive widget.
const WidgetTypeMessage = "message"

// Template is an authored sequence of items driving a proactive
// conversation.
type Template struct {
	ID                         string         `json:"id"`
	Name                       string         `json:"name"`
	AgentStartsFirst           bool           `json:"agent_starts_first"`
	IntroductionMessage        string         `json:"introduction_message,omitempty"`
	CompletionMessage          string         `json:"completion_message,omitempty"`
	ContinueAfterCompletion    bool           `json:"continue_after_completion"`
	DisplayMode                string         `json:"display_mode,omitempty"`
	ShowConversationHistory    bool           `json:"show_conversation_history"`
	AllowBackwardNavigation    bool           `json:"allow_backward_navigation"`
	AllowConcurrentItemWidgets bool           `json:"allow_concurrent_item_widgets"`
	AllowSkip                  bool           `json:"allow_skip"`
	EnableChatInputInitially   bool           `json:"enable_chat_input_initially"`
	DisplayProgressIndicator   bool           `json:"display_progress_indicator"`
	DisplayFinalScoreReport    bool           `json:"display_final_score_report"`
	Items                      []TemplateItem `json:"items"`
	CreatedAt                  time.Time      `json:"created_at"`
	UpdatedAt                  time.Time      `json:"updated_at"`
}

// TemplateItem is one step in a template.
type TemplateItem struct {
	ID                       string        `json:"id"`
	Title                    string        `json:"title,omitempty"`
	Instructions             string        `json:"instructions,omitempty"`
	RequireUserConfirmation  bool          `json:"require_user_confirmation"`
	TimeLimitSeconds         int           `json:"time_limit_seconds,omitempty"`
	ShowRemainingTime        bool          `json:"show_remaining_time"`
	WidgetCompletionBehavior string        `json:"widget_completion_behavior,omitempty"`
	EnableChatInput          bool          `json:"enable_chat_input"`
	Contents                 []ItemContent `json:"contents"`
}

// RequiredWidgetIDs collects the widget ids that must be answered
// before the item counts as complete.
func (it *TemplateItem) RequiredWidgetIDs() []string {
	var ids []string
	for _, c := range it.Contents {
		if c.WidgetType != WidgetTypeMessage && c.Required {
			ids = append(ids, c.WidgetID)
		}
	}
	return ids
}

// ConfirmationWidgetID is the synthetic button id appended when an item
// requires explicit user confirmation.
func (it *TemplateItem) ConfirmationWidgetID() string {
	return it.ID + "-confirm"
}

// ItemContent is one content piece inside an item: either a message
// stem or a widget descriptor forwarded verbatim to the client.
type ItemContent struct {
	WidgetID         string         `json:"widget_id"`
	WidgetType       string         `json:"widget_type"`
	Stem             string         `json:"stem,omitempty"`
	IsTemplated      bool           `json:"is_templated,omitempty"`
	Options          []WidgetOption `json:"options,omitempty"`
	WidgetConfig     map[string]any `json:"widget_config,omitempty"`
	Required         bool           `json:"required"`
	Skippable        bool           `json:"skippable"`
	InitialValue     any            `json:"initial_value,omitempty"`
	ShowUserResponse bool           `json:"show_user_response"`
	Layout           string         `json:"layout,omitempty"`
	Constraints      map[string]any `json:"constraints,omitempty"`
	// CorrectAnswer is only read server-side for scoring; it is never
	// forwarded in widget render payloads.
	CorrectAnswer any `json:"correct_answer,omitempty"`
}

// WidgetOption is one selectable choice on an interactive widget.
type WidgetOption struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}
