// Package storage defines the repository contracts for every persisted
// aggregate and read model, with in-memory and sqlite implementations.
// A missing aggregate is always ErrNotFound, never a driver error.
package storage

import (
	"context"
	"errors"

	"github.com/tesserahq/toolgate/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// SourceStore persists source aggregates.
type SourceStore interface {
	Add(ctx context.Context, src *models.SourceAggregate) error
	Get(ctx context.Context, id string) (*models.SourceAggregate, error)
	List(ctx context.Context) ([]*models.SourceAggregate, error)
	Update(ctx context.Context, src *models.SourceAggregate) error
	Remove(ctx context.Context, id string) error
}

/// ToolStore persists tool aggregates, keyed source_id:name.
type ToolStore interface {
	Add(ctx context.Context, tool *models.ToolAggregate) error
	Get(ctx context.Context, id string) (*models.ToolAggregate, error)
	List(ctx context.Context) ([]*models.ToolAggregate, error)
	ListBySource(ctx context.Context, sourceID string) ([]*models.ToolAggregate, error)
	Update(ctx context.Context, tool *models.ToolAggregate) error
	Remove(ctx context.Context, id string) error
}

// ConversationStore persists conversation threads.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, conv *models.Conversation) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, msg *models.ChatMessage) error
	Get(ctx context.Context, id string) (*models.ChatMessage, error)
	Update(ctx context.Context, msg *models.ChatMessage) error
	ListByConversation(ctx context.Context, conversationID string) ([]*models.ChatMessage, error)
}

// ResponseStore persists completed template item responses.
type ResponseStore interface {
	Create(ctx context.Context, resp *models.ItemResponse) error
	ListByConversation(ctx context.Context, conversationID string) ([]*models.ItemResponse, error)
}

// DefinitionStore persists agent definitions. Put upserts: definitions
// are admin-seeded and replaced wholesale.
type DefinitionStore interface {
	Put(ctx context.Context, def *models.AgentDefinition) error
	Get(ctx context.Context, id string) (*models.AgentDefinition, error)
	List(ctx context.Context) ([]*models.AgentDefinition, error)
}

// TemplateStore persists conversation templates.
type TemplateStore interface {
	Put(ctx context.Context, tpl *models.Template) error
	Get(ctx context.Context, id string) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Sources       SourceStore
	Tools         ToolStore
	Conversations ConversationStore
	Messages      MessageStore
	Responses     ResponseStore
	Definitions   DefinitionStore
	Templates     TemplateStore
	closer        func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
