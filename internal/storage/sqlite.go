package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tesserahq/toolgate/pkg/models"
)

// NewSQLiteStores opens (or creates) the database file, bootstraps the
// schema, and returns sqlite-backed stores. The caller owns Close.
func NewSQLiteStores(path string, config *SQLiteConfig) (StoreSet, error) {
	if strings.TrimSpace(path) == "" {
		return StoreSet{}, fmt.Errorf("database path is required")
	}
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}
	if err := bootstrapSchema(ctx, db); err != nil {
		_ = db.Close()
		return StoreSet{}, err
	}

	return StoreSet{
		Sources:       &sqliteSourceStore{db: db},
		Tools:         &sqliteToolStore{db: db},
		Conversations: &sqliteConversationStore{db: db},
		Messages:      &sqliteMessageStore{db: db},
		Responses:     &sqliteResponseStore{db: db},
		Definitions:   &sqliteDefinitionStore{db: db},
		Templates:     &sqliteTemplateStore{db: db},
		closer:        db.Close,
	}, nil
}

// SQLiteConfig bounds the connection pool. A single writer process is
// the deployment model; WAL keeps readers unblocked.
type SQLiteConfig struct {
	BusyTimeout    time.Duration
	ConnectTimeout time.Duration
	MaxOpenConns   int
}

func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		BusyTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxOpenConns:   4,
	}
}

// Aggregates live as JSON documents beside the columns queries filter
// or order on.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tools (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tools_source ON tools(source_id)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	`CREATE TABLE IF NOT EXISTS item_responses (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		item_index INTEGER NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_conversation ON item_responses(conversation_id)`,
	`CREATE TABLE IF NOT EXISTS definitions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
}

func bootstrapSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}

type sqliteSourceStore struct {
	db *sql.DB
}

func (s *sqliteSourceStore) Add(ctx context.Context, src *models.SourceAggregate) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("source is required")
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, data, updated_at) VALUES (?, ?, ?)`,
		src.ID, string(data), src.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("add source: %w", err)
	}
	return nil
}

func (s *sqliteSourceStore) Get(ctx context.Context, id string) (*models.SourceAggregate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sources WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	var src models.SourceAggregate
	if err := json.Unmarshal([]byte(data), &src); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}
	return &src, nil
}

func (s *sqliteSourceStore) List(ctx context.Context) ([]*models.SourceAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.SourceAggregate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		var src models.SourceAggregate
		if err := json.Unmarshal([]byte(data), &src); err != nil {
			return nil, fmt.Errorf("unmarshal source: %w", err)
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

func (s *sqliteSourceStore) Update(ctx context.Context, src *models.SourceAggregate) error {
	if src == nil || src.ID == "" {
		return fmt.Errorf("source is required")
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), src.UpdatedAt.UnixNano(), src.ID)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteSourceStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return requireRow(res)
}

type sqliteToolStore struct {
	db *sql.DB
}

func (s *sqliteToolStore) Add(ctx context.Context, tool *models.ToolAggregate) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool is required")
	}
	data, err := json.Marshal(tool)
	if err != nil {
		return fmt.Errorf("marshal tool: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tools (id, source_id, status, data, updated_at) VALUES (?, ?, ?, ?, ?)`,
		tool.ID, tool.SourceID, string(tool.Status), string(data), tool.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("add tool: %w", err)
	}
	return nil
}

func (s *sqliteToolStore) Get(ctx context.Context, id string) (*models.ToolAggregate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tools WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	var tool models.ToolAggregate
	if err := json.Unmarshal([]byte(data), &tool); err != nil {
		return nil, fmt.Errorf("unmarshal tool: %w", err)
	}
	return &tool, nil
}

func (s *sqliteToolStore) List(ctx context.Context) ([]*models.ToolAggregate, error) {
	return s.query(ctx, `SELECT data FROM tools ORDER BY id`)
}

func (s *sqliteToolStore) ListBySource(ctx context.Context, sourceID string) ([]*models.ToolAggregate, error) {
	return s.query(ctx, `SELECT data FROM tools WHERE source_id = ? ORDER BY id`, sourceID)
}

func (s *sqliteToolStore) query(ctx context.Context, query string, args ...any) ([]*models.ToolAggregate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []*models.ToolAggregate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		var tool models.ToolAggregate
		if err := json.Unmarshal([]byte(data), &tool); err != nil {
			return nil, fmt.Errorf("unmarshal tool: %w", err)
		}
		tools = append(tools, &tool)
	}
	return tools, rows.Err()
}

func (s *sqliteToolStore) Update(ctx context.Context, tool *models.ToolAggregate) error {
	if tool == nil || tool.ID == "" {
		return fmt.Errorf("tool is required")
	}
	data, err := json.Marshal(tool)
	if err != nil {
		return fmt.Errorf("marshal tool: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET source_id = ?, status = ?, data = ?, updated_at = ? WHERE id = ?`,
		tool.SourceID, string(tool.Status), string(data), tool.UpdatedAt.UnixNano(), tool.ID)
	if err != nil {
		return fmt.Errorf("update tool: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteToolStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove tool: %w", err)
	}
	return requireRow(res)
}

type sqliteConversationStore struct {
	db *sql.DB
}

func (s *sqliteConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, data, created_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.UserID, string(data), conv.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *sqliteConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var conv models.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (s *sqliteConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET user_id = ?, data = ? WHERE id = ?`,
		conv.UserID, string(data), conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteConversationStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Conversation, int, error) {
	countQuery := `SELECT count(*) FROM conversations`
	listQuery := `SELECT data FROM conversations ORDER BY created_at DESC`
	countArgs := []any{}
	listArgs := []any{}
	if userID != "" {
		countQuery = `SELECT count(*) FROM conversations WHERE user_id = ?`
		listQuery = `SELECT data FROM conversations WHERE user_id = ? ORDER BY created_at DESC`
		countArgs = append(countArgs, userID)
		listArgs = append(listArgs, userID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	if offset < 0 {
		offset = 0
	}
	listQuery += ` LIMIT ? OFFSET ?`
	listArgs = append(listArgs, limit, offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		var conv models.Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			return nil, 0, fmt.Errorf("unmarshal conversation: %w", err)
		}
		conversations = append(conversations, &conv)
	}
	return conversations, total, rows.Err()
}

type sqliteMessageStore struct {
	db *sql.DB
}

func (s *sqliteMessageStore) Create(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, data, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(data), msg.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *sqliteMessageStore) Get(ctx context.Context, id string) (*models.ChatMessage, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM messages WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	var msg models.ChatMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

func (s *sqliteMessageStore) Update(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET data = ? WHERE id = ?`, string(data), msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res)
}

func (s *sqliteMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

type sqliteResponseStore struct {
	db *sql.DB
}

func (s *sqliteResponseStore) Create(ctx context.Context, resp *models.ItemResponse) error {
	if resp == nil || resp.ID == "" {
		return fmt.Errorf("response is required")
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO item_responses (id, conversation_id, item_index, data) VALUES (?, ?, ?, ?)`,
		resp.ID, resp.ConversationID, resp.ItemIndex, string(data))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create response: %w", err)
	}
	return nil
}

func (s *sqliteResponseStore) ListByConversation(ctx context.Context, conversationID string) ([]*models.ItemResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM item_responses WHERE conversation_id = ? ORDER BY item_index`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []*models.ItemResponse
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		var resp models.ItemResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		responses = append(responses, &resp)
	}
	return responses, rows.Err()
}

type sqliteDefinitionStore struct {
	db *sql.DB
}

func (s *sqliteDefinitionStore) Put(ctx context.Context, def *models.AgentDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("definition is required")
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		def.ID, string(data))
	if err != nil {
		return fmt.Errorf("put definition: %w", err)
	}
	return nil
}

func (s *sqliteDefinitionStore) Get(ctx context.Context, id string) (*models.AgentDefinition, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM definitions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	var def models.AgentDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}

func (s *sqliteDefinitionStore) List(ctx context.Context) ([]*models.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var definitions []*models.AgentDefinition
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		var def models.AgentDefinition
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		definitions = append(definitions, &def)
	}
	return definitions, rows.Err()
}

type sqliteTemplateStore struct {
	db *sql.DB
}

func (s *sqliteTemplateStore) Put(ctx context.Context, tpl *models.Template) error {
	if tpl == nil || tpl.ID == "" {
		return fmt.Errorf("template is required")
	}
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		tpl.ID, string(data))
	if err != nil {
		return fmt.Errorf("put template: %w", err)
	}
	return nil
}

func (s *sqliteTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM templates WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	var tpl models.Template
	if err := json.Unmarshal([]byte(data), &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &tpl, nil
}

func (s *sqliteTemplateStore) List(ctx context.Context) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.Template
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		var tpl models.Template
		if err := json.Unmarshal([]byte(data), &tpl); err != nil {
			return nil, fmt.Errorf("unmarshal template: %w", err)
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
