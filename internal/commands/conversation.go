package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// MetaCurrentItemIndex is the conversation metadata key holding the
// template cursor. It survives reconnects; widget answers do not.
const MetaCurrentItemIndex = "current_item_index"

// PersistedMessage is the payload of the persist-user-message command.
// The orchestrator completes the pending assistant message after the
// run finishes.
type PersistedMessage struct {
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

// TemplateAdvanced is the payload of the template-advance command.
type TemplateAdvanced struct {
	NextIndex int `json:"next_index"`
}

// ConversationHandlers implements the persistence commands the
// orchestrator dispatches while driving a conversation.
type ConversationHandlers struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	responses     storage.ResponseStore
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewConversationHandlers wires the conversation command handlers.
func NewConversationHandlers(conversations storage.ConversationStore, messages storage.MessageStore, responses storage.ResponseStore, logger *slog.Logger) *ConversationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandlers{
		conversations: conversations,
		messages:      messages,
		responses:     responses,
		logger:        logger.With("component", "commands"),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Register binds the handlers to the bus.
func (h *ConversationHandlers) Register(bus *Bus) error {
	if err := bus.Handle(CmdPersistUserMessage, typed(h.handlePersistUserMessage)); err != nil {
		return err
	}
	if err := bus.Handle(CmdCompleteMessage, typed(h.handleCompleteMessage)); err != nil {
		return err
	}
	if err := bus.Handle(CmdRecordItemResponse, typed(h.handleRecordItemResponse)); err != nil {
		return err
	}
	return bus.Handle(CmdAdvanceTemplate, typed(h.handleAdvanceTemplate))
}

func (h *ConversationHandlers) handlePersistUserMessage(ctx context.Context, cmd PersistUserMessage) OperationResult {
	if cmd.ConversationID == "" {
		return BadRequest("conversation id is required")
	}

	conv, err := h.conversations.Get(ctx, cmd.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("conversation", cmd.ConversationID)
		}
		return FromError(err)
	}

	now := h.now()
	userMsg := &models.ChatMessage{
		ID:             h.newID(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        cmd.Content,
		Status:         models.MessageComplete,
		Metadata:       cmd.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.messages.Create(ctx, userMsg); err != nil {
		return FromError(err)
	}

	// The assistant message exists from the moment the run is owed, so
	// history readers see the slot and the run can complete it later.
	// Its timestamp sits after the user message so the pair keeps its
	// order under stores that sort on created_at.
	slotAt := now.Add(time.Millisecond)
	assistantMsg := &models.ChatMessage{
		ID:             h.newID(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Status:         models.MessagePending,
		CreatedAt:      slotAt,
		UpdatedAt:      slotAt,
	}
	if err := h.messages.Create(ctx, assistantMsg); err != nil {
		return FromError(err)
	}

	conv.UpdatedAt = now
	if err := h.conversations.Update(ctx, conv); err != nil {
		h.logger.Warn("touch conversation", "conversation_id", conv.ID, "error", err)
	}

	return OK(PersistedMessage{
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
	})
}

func (h *ConversationHandlers) handleCompleteMessage(ctx context.Context, cmd CompleteMessage) OperationResult {
	if cmd.MessageID == "" {
		return BadRequest("message id is required")
	}

	msg, err := h.messages.Get(ctx, cmd.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("message", cmd.MessageID)
		}
		return FromError(err)
	}
	if msg.Status == models.MessageComplete {
		return Conflict(fmt.Sprintf("message %q is already complete", cmd.MessageID))
	}

	msg.Content = cmd.Content
	msg.ToolCalls = cmd.ToolCalls
	msg.Status = models.MessageComplete
	msg.UpdatedAt = h.now()
	if err := h.messages.Update(ctx, msg); err != nil {
		return FromError(err)
	}

	return OK(msg)
}

func (h *ConversationHandlers) handleRecordItemResponse(ctx context.Context, cmd RecordItemResponse) OperationResult {
	if cmd.ConversationID == "" {
		return BadRequest("conversation id is required")
	}
	if cmd.ItemID == "" {
		return BadRequest("item id is required")
	}

	if _, err := h.conversations.Get(ctx, cmd.ConversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("conversation", cmd.ConversationID)
		}
		return FromError(err)
	}

	completedAt := cmd.CompletedAt
	if completedAt.IsZero() {
		completedAt = h.now()
	}
	resp := &models.ItemResponse{
		ID:              h.newID(),
		ConversationID:  cmd.ConversationID,
		ItemID:          cmd.ItemID,
		ItemIndex:       cmd.ItemIndex,
		WidgetResponses: cmd.WidgetResponses,
		StartedAt:       cmd.StartedAt,
		CompletedAt:     completedAt,
	}
	if err := h.responses.Create(ctx, resp); err != nil {
		return FromError(err)
	}

	return OK(resp)
}

func (h *ConversationHandlers) handleAdvanceTemplate(ctx context.Context, cmd AdvanceTemplate) OperationResult {
	if cmd.ConversationID == "" {
		return BadRequest("conversation id is required")
	}

	conv, err := h.conversations.Get(ctx, cmd.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("conversation", cmd.ConversationID)
		}
		return FromError(err)
	}

	current := CurrentItemIndex(conv)
	if current != cmd.FromIndex {
		return Conflict(fmt.Sprintf("template is at item %d, cannot advance from %d", current, cmd.FromIndex))
	}

	next := current + 1
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	conv.Metadata[MetaCurrentItemIndex] = next
	conv.UpdatedAt = h.now()
	if err := h.conversations.Update(ctx, conv); err != nil {
		return FromError(err)
	}

	h.logger.Debug("template advanced",
		"conversation_id", conv.ID,
		"next_index", next)
	return OK(TemplateAdvanced{NextIndex: next})
}

// CurrentItemIndex reads the template cursor from conversation
// metadata. JSON round-trips store numbers as float64, so both int
// and float64 are accepted; anything else means index 0.
func CurrentItemIndex(conv *models.Conversation) int {
	if conv == nil || conv.Metadata == nil {
		return 0
	}
	switch v := conv.Metadata[MetaCurrentItemIndex].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
