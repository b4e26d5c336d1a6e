package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tesserahq/toolgate/pkg/models"
)

// NewMemoryStores wires every store to its in-memory implementation.
// This is the default for tests and single-process dev mode.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Sources:       NewMemorySourceStore(),
		Tools:         NewMemoryToolStore(),
		Conversations: NewMemoryConversationStore(),
		Messages:      NewMemoryMessageStore(),
		Responses:     NewMemoryResponseStore(),
		Definitions:   NewMemoryDefinitionStore(),
		Templates:     NewMemoryTemplateStore(),
	}
}

// MemorySourceStore provides an in-memory SourceStore.
type MemorySourceStore struct {
	mu      sync.RWMutex
	sources map[string]*models.SourceAggregate
}

func NewMemorySourceStore() *MemorySourceStore {
	return &MemorySourceStore{sources: make(map[string]*models.SourceAggregate)}
}

func (s *MemorySourceStore) Add(ctx context.Context, src *models.SourceAggregate) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[src.ID]; exists {
		return ErrAlreadyExists
	}
	s.sources[src.ID] = src
	return nil
}

func (s *MemorySourceStore) Get(ctx context.Context, id string) (*models.SourceAggregate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return src, nil
}

func (s *MemorySourceStore) List(ctx context.Context) ([]*models.SourceAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]*models.SourceAggregate, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func (s *MemorySourceStore) Update(ctx context.Context, src *models.SourceAggregate) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[src.ID]; !exists {
		return ErrNotFound
	}
	s.sources[src.ID] = src
	return nil
}

func (s *MemorySourceStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[id]; !exists {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

// MemoryToolStore provides an in-memory ToolStore.
type MemoryToolStore struct {
	mu    sync.RWMutex
	tools map[string]*models.ToolAggregate
}

func NewMemoryToolStore() *MemoryToolStore {
	return &MemoryToolStore{tools: make(map[string]*models.ToolAggregate)}
}

func (s *MemoryToolStore) Add(ctx context.Context, tool *models.ToolAggregate) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.ID]; exists {
		return ErrAlreadyExists
	}
	s.tools[tool.ID] = tool
	return nil
}

func (s *MemoryToolStore) Get(ctx context.Context, id string) (*models.ToolAggregate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tool, ok := s.tools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tool, nil
}

func (s *MemoryToolStore) List(ctx context.Context) ([]*models.ToolAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*models.ToolAggregate) bool { return true }), nil
}

func (s *MemoryToolStore) ListBySource(ctx context.Context, sourceID string) ([]*models.ToolAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(t *models.ToolAggregate) bool { return t.SourceID == sourceID }), nil
}

func (s *MemoryToolStore) collect(keep func(*models.ToolAggregate) bool) []*models.ToolAggregate {
	tools := make([]*models.ToolAggregate, 0, len(s.tools))
	for _, tool := range s.tools {
		if keep(tool) {
			tools = append(tools, tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID < tools[j].ID })
	return tools
}

func (s *MemoryToolStore) Update(ctx context.Context, tool *models.ToolAggregate) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.ID]; !exists {
		return ErrNotFound
	}
	s.tools[tool.ID] = tool
	return nil
}

func (s *MemoryToolStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[id]; !exists {
		return ErrNotFound
	}
	delete(s.tools, id)
	return nil
}

// MemoryConversationStore provides an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string]*models.Conversation)}
}

func (s *MemoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return ErrAlreadyExists
	}
	s.conversations[conv.ID] = conv
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (s *MemoryConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; !exists {
		return ErrNotFound
	}
	s.conversations[conv.ID] = conv
	return nil
}

func (s *MemoryConversationStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversations := make([]*models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if userID != "" && conv.UserID != userID {
			continue
		}
		conversations = append(conversations, conv)
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.After(conversations[j].CreatedAt)
	})
	return paginateConversations(conversations, limit, offset), len(conversations), nil
}

func paginateConversations(conversations []*models.Conversation, limit, offset int) []*models.Conversation {
	if offset < 0 {
		offset = 0
	}
	if offset > len(conversations) {
		offset = len(conversations)
	}
	end := len(conversations)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return conversations[offset:end]
}

// MemoryMessageStore provides an in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.ChatMessage
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*models.ChatMessage)}
}

func (s *MemoryMessageStore) Create(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*models.ChatMessage, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *MemoryMessageStore) Update(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		return ErrNotFound
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]*models.ChatMessage, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			messages = append(messages, msg)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// MemoryResponseStore provides an in-memory ResponseStore.
type MemoryResponseStore struct {
	mu        sync.RWMutex
	responses map[string]*models.ItemResponse
}

func NewMemoryResponseStore() *MemoryResponseStore {
	return &MemoryResponseStore{responses: make(map[string]*models.ItemResponse)}
}

func (s *MemoryResponseStore) Create(ctx context.Context, resp *models.ItemResponse) error {
	if resp == nil || resp.ID == "" {
		return fmt.Errorf("response is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.responses[resp.ID]; exists {
		return ErrAlreadyExists
	}
	s.responses[resp.ID] = resp
	return nil
}

func (s *MemoryResponseStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.ItemResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	responses := make([]*models.ItemResponse, 0)
	for _, resp := range s.responses {
		if resp.ConversationID == conversationID {
			responses = append(responses, resp)
		}
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].ItemIndex < responses[j].ItemIndex })
	return responses, nil
}

// MemoryDefinitionStore provides an in-memory DefinitionStore.
type MemoryDefinitionStore struct {
	mu          sync.RWMutex
	definitions map[string]*models.AgentDefinition
}

func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{definitions: make(map[string]*models.AgentDefinition)}
}

func (s *MemoryDefinitionStore) Put(ctx context.Context, def *models.AgentDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("definition is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.ID] = def
	return nil
}

func (s *MemoryDefinitionStore) Get(ctx context.Context, id string) (*models.AgentDefinition, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

func (s *MemoryDefinitionStore) List(ctx context.Context) ([]*models.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	definitions := make([]*models.AgentDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		definitions = append(definitions, def)
	}
	sort.Slice(definitions, func(i, j int) bool { return definitions[i].ID < definitions[j].ID })
	return definitions, nil
}

// MemoryTemplateStore provides an in-memory TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*models.Template)}
}

func (s *MemoryTemplateStore) Put(ctx context.Context, tpl *models.Template) error {
	if tpl == nil || tpl.ID == "" {
		return fmt.Errorf("template is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *MemoryTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tpl, nil
}

func (s *MemoryTemplateStore) List(ctx context.Context) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	templates := make([]*models.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		templates = append(templates, tpl)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}
