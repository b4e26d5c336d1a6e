// Package orchestrator drives one conversation per WebSocket
// connection. A Context loads the conversation's configuration on
// attach, presents template items for proactive flows, turns user
// messages into LLM runs through the command bus, and translates run
// events into wire frames. Contexts are strictly per-connection; all
// methods are called from the connection's single dispatch goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tesserahq/toolgate/internal/builtin"
	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/internal/inventory"
	"github.com/tesserahq/toolgate/internal/providers"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// State is the conversation context's lifecycle position.
type State string

const (
	// StateReady accepts user messages.
	StateReady State = "ready"

	// StatePresenting is mid-way through sending a template item.
	StatePresenting State = "presenting"

	// StateProcessing has an LLM run in flight.
	StateProcessing State = "processing"

	// StateSuspended waits for required widget responses.
	StateSuspended State = "suspended"

	// StatePaused was explicitly paused by the client.
	StatePaused State = "paused"

	// StateCompleted reached the end of the template flow.
	StateCompleted State = "completed"

	// StateError failed to initialize.
	StateError State = "error"
)

// Sender delivers wire frames to the connected client. The gateway
// session implements it over its buffered send channel; a slow peer
// blocks the conversation's goroutine rather than growing a queue.
type Sender interface {
	Send(msg *models.WireMessage) error
}

// Deps are the services a conversation context runs against.
type Deps struct {
	Bus           *commands.Bus
	Conversations storage.ConversationStore
	Messages      storage.MessageStore
	Definitions   storage.DefinitionStore
	Templates     storage.TemplateStore

	// Catalogue may be nil; the model then sees no tools.
	Catalogue *inventory.Catalogue

	// Runner may be nil; user messages then fail with a system error.
	Runner *providers.Runner

	// Factory may be nil; model changes are then rejected.
	Factory *providers.Factory

	Logger *slog.Logger
}

// Context is the per-connection conversation state machine.
type Context struct {
	connectionID   string
	conversationID string
	userID         string
	accessToken    string

	deps   Deps
	sender Sender
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	conv     *models.Conversation
	def      *models.AgentDefinition
	template *models.Template
	tools    []models.LLMToolDescriptor

	state       State
	resumeState State
	isProactive bool
	began       bool
	model       string
	itemIndex   int
	item        *models.ItemExecutionState
}

// New creates a context for one connection. Initialize must be called
// before any event handler.
func New(connectionID string, init *models.SessionInitPayload, sender Sender, deps Deps) (*Context, error) {
	if sender == nil {
		return nil, errors.New("orchestrator: sender is required")
	}
	if init == nil || init.ConversationID == "" {
		return nil, errors.New("orchestrator: conversation id is required")
	}
	if deps.Bus == nil || deps.Conversations == nil || deps.Messages == nil || deps.Definitions == nil {
		return nil, errors.New("orchestrator: bus, conversation, message, and definition stores are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		connectionID:   connectionID,
		conversationID: init.ConversationID,
		accessToken:    init.AccessToken,
		deps:           deps,
		sender:         sender,
		logger: logger.With("component", "orchestrator",
			"connection_id", connectionID,
			"conversation_id", init.ConversationID),
		now:   time.Now,
		newID: uuid.NewString,
		state: StateReady,
	}, nil
}

// Initialize loads the conversation, its agent definition, and its
// template, verifies ownership, builds the tool descriptors, and sends
// the conversation config. It does not begin the flow; that waits for
// the client's explicit begin after the handshake ack.
func (c *Context) Initialize(ctx context.Context) error {
	conv, err := c.deps.Conversations.Get(ctx, c.conversationID)
	if err != nil {
		c.state = StateError
		if errors.Is(err, storage.ErrNotFound) {
			return models.NewNotFoundError("conversation", c.conversationID)
		}
		return fmt.Errorf("load conversation: %w", err)
	}

	user := builtin.UserFromToken(c.accessToken)
	c.userID = user.ID
	if conv.UserID != c.userID {
		c.state = StateError
		return &models.ToolError{
			Code:    models.ErrCodeForbidden,
			Message: "conversation belongs to another user",
		}
	}
	c.conv = conv

	def, err := c.deps.Definitions.Get(ctx, conv.DefinitionID)
	if err != nil {
		c.state = StateError
		if errors.Is(err, storage.ErrNotFound) {
			return models.NewNotFoundError("agent definition", conv.DefinitionID)
		}
		return fmt.Errorf("load agent definition: %w", err)
	}
	c.def = def
	c.model = def.Model

	if def.TemplateID != "" {
		if c.deps.Templates == nil {
			c.state = StateError
			return models.NewNotFoundError("template", def.TemplateID)
		}
		tmpl, err := c.deps.Templates.Get(ctx, def.TemplateID)
		if err != nil {
			c.state = StateError
			if errors.Is(err, storage.ErrNotFound) {
				return models.NewNotFoundError("template", def.TemplateID)
			}
			return fmt.Errorf("load template: %w", err)
		}
		c.template = tmpl
		c.isProactive = tmpl.AgentStartsFirst
	}

	if c.accessToken != "" && c.deps.Catalogue != nil {
		tools, err := c.deps.Catalogue.ListForAgent(ctx, def)
		if err != nil {
			c.logger.Warn("load tool catalogue", "error", err)
		} else {
			c.tools = tools
		}
	}

	c.itemIndex = commands.CurrentItemIndex(conv)
	c.send(models.MsgConversationConfig, c.configPayload())

	if c.isProactive {
		c.state = StatePresenting
	} else {
		c.state = StateReady
	}
	c.logger.Info("conversation attached",
		"proactive", c.isProactive,
		"tools", len(c.tools),
		"item_index", c.itemIndex)
	return nil
}

// BeginFlow starts the flow after the handshake ack: reactive
// conversations get their chat input, proactive ones get the
// introduction and the current item. Repeated begins are ignored.
func (c *Context) BeginFlow(ctx context.Context) {
	if c.began {
		c.logger.Debug("flow already begun")
		return
	}
	if c.state == StateError {
		return
	}
	c.began = true

	if !c.isProactive {
		c.state = StateReady
		c.setChatInput(true)
		return
	}
	if c.itemIndex == 0 && c.template.IntroductionMessage != "" {
		c.streamAssistant(c.template.IntroductionMessage)
	}
	c.presentItem(ctx, c.itemIndex)
}

// State returns the current lifecycle state.
func (c *Context) State() State { return c.state }

// Model returns the active model override, empty for the default.
func (c *Context) Model() string { return c.model }

// ConversationID returns the attached conversation.
func (c *Context) ConversationID() string { return c.conversationID }

func (c *Context) configPayload() *models.ConversationConfigPayload {
	if c.template == nil {
		return &models.ConversationConfigPayload{EnableChatInputInitially: true}
	}
	t := c.template
	return &models.ConversationConfigPayload{
		TemplateID:                 t.ID,
		TemplateName:               t.Name,
		TotalItems:                 len(t.Items),
		DisplayMode:                t.DisplayMode,
		ShowConversationHistory:    t.ShowConversationHistory,
		AllowBackwardNavigation:    t.AllowBackwardNavigation,
		AllowConcurrentItemWidgets: t.AllowConcurrentItemWidgets,
		AllowSkip:                  t.AllowSkip,
		EnableChatInputInitially:   t.EnableChatInputInitially,
		DisplayProgressIndicator:   t.DisplayProgressIndicator,
		DisplayFinalScoreReport:    t.DisplayFinalScoreReport,
		ContinueAfterCompletion:    t.ContinueAfterCompletion,
	}
}

// send encodes and delivers one frame. Encoding failures surface as a
// system error frame so the client never silently misses a message.
func (c *Context) send(msgType string, payload any) {
	msg, err := models.NewWireMessage(msgType, payload)
	if err != nil {
		c.logger.Error("encode wire message", "type", msgType, "error", err)
		if msgType != models.MsgSystemError {
			c.sendSystemError("protocol", "encoding_failed",
				fmt.Sprintf("failed to encode %s message", msgType), false)
		}
		return
	}
	if err := c.sender.Send(msg); err != nil {
		c.logger.Debug("send frame", "type", msgType, "error", err)
	}
}

func (c *Context) sendSystemError(category, code, message string, retryable bool) {
	c.send(models.MsgSystemError, models.SystemErrorPayload{
		Category:    category,
		Code:        code,
		Message:     message,
		IsRetryable: retryable,
	})
}

func (c *Context) setChatInput(enabled bool) {
	c.send(models.MsgFlowChatInput, models.ChatInputPayload{Enabled: enabled})
}

// streamAssistant delivers static assistant content (introductions,
// stems, completion messages) using the same chunk/complete pair a live
// run produces, under a fresh message id.
func (c *Context) streamAssistant(content string) {
	if content == "" {
		return
	}
	id := c.newID()
	c.send(models.MsgContentChunk, models.ContentChunkPayload{
		Content:   content,
		MessageID: id,
		Final:     true,
	})
	c.send(models.MsgContentComplete, models.ContentCompletePayload{
		MessageID:   id,
		Role:        models.RoleAssistant,
		FullContent: content,
	})
}

// restoreState picks the state to return to after a run or a resume:
// an unfinished item suspends, everything else is ready.
func (c *Context) restoreState() State {
	if c.item != nil && !c.item.Complete() {
		return StateSuspended
	}
	return StateReady
}
