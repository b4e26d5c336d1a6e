package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

const memoryFileName = "memory.json"

// memoryBackend stores per-user key/value entries. Redis is the
// primary tier; when it is absent or unreachable the entries live in a
// JSON file inside the user workspace. Values are stored as JSON text
// so both tiers hold the same shape.
type memoryBackend struct {
	redis  redis.UniversalClient
	ws     *workspace.Manager
	logger *slog.Logger

	// mu serializes file-fallback read-modify-write cycles.
	mu sync.Mutex
}

func newMemoryBackend(client redis.UniversalClient, ws *workspace.Manager, logger *slog.Logger) *memoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &memoryBackend{redis: client, ws: ws, logger: logger.With("component", "builtin.memory")}
}

func memoryKey(userID, key string) string {
	return fmt.Sprintf("user:%s:mem:%s", userID, key)
}

func (b *memoryBackend) store(ctx context.Context, userID, key string, value string, ttl time.Duration) error {
	if b.redis != nil {
		err := b.redis.Set(ctx, memoryKey(userID, key), value, ttl).Err()
		if err == nil {
			return nil
		}
		b.logger.Warn("redis memory store failed, falling back to file", "error", err)
	}
	return b.fileStore(userID, key, value, ttl)
}

func (b *memoryBackend) retrieve(ctx context.Context, userID, key string) (string, bool, error) {
	if b.redis != nil {
		value, err := b.redis.Get(ctx, memoryKey(userID, key)).Result()
		switch {
		case err == nil:
			return value, true, nil
		case err == redis.Nil:
			return "", false, nil
		default:
			b.logger.Warn("redis memory retrieve failed, falling back to file", "error", err)
		}
	}
	return b.fileRetrieve(userID, key)
}

func (b *memoryBackend) keys(ctx context.Context, userID string) ([]string, error) {
	if b.redis != nil {
		prefix := memoryKey(userID, "")
		var keys []string
		iter := b.redis.Scan(ctx, 0, prefix+"*", 200).Iterator()
		scanOK := true
		for iter.Next(ctx) {
			keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
		}
		if err := iter.Err(); err != nil {
			b.logger.Warn("redis memory scan failed, falling back to file", "error", err)
			scanOK = false
		}
		if scanOK {
			sort.Strings(keys)
			return keys, nil
		}
	}
	entries, err := b.fileLoad(userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	keys := make([]string, 0, len(entries))
	for k, e := range entries {
		if !e.Expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *memoryBackend) memoryFilePath(userID string) (string, error) {
	dir, err := b.ws.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, memoryFileName), nil
}

func (b *memoryBackend) fileLoad(userID string) (map[string]models.MemoryEntry, error) {
	path, err := b.memoryFilePath(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]models.MemoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	entries := map[string]models.MemoryEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode memory file: %w", err)
	}
	return entries, nil
}

func (b *memoryBackend) fileSave(userID string, entries map[string]models.MemoryEntry) error {
	path, err := b.memoryFilePath(userID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	return nil
}

func (b *memoryBackend) fileStore(userID, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, err := b.fileLoad(userID)
	if err != nil {
		return err
	}
	now := time.Now()
	entry := models.MemoryEntry{
		UserID:    userID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := entries[key]; ok {
		entry.CreatedAt = prev.CreatedAt
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	entries[key] = entry
	return b.fileSave(userID, entries)
}

func (b *memoryBackend) fileRetrieve(userID, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, err := b.fileLoad(userID)
	if err != nil {
		return "", false, err
	}
	entry, ok := entries[key]
	if !ok {
		return "", false, nil
	}
	if entry.Expired(time.Now()) {
		delete(entries, key)
		if err := b.fileSave(userID, entries); err != nil {
			b.logger.Warn("prune expired memory entry", "error", err)
		}
		return "", false, nil
	}
	return entry.Value, true, nil
}

// memoryStoreTool persists a value under a user-scoped key.
type memoryStoreTool struct {
	backend *memoryBackend
}

func (t *memoryStoreTool) Name() string { return "memory_store" }

func (t *memoryStoreTool) Description() string {
	return "Store a value under a key in the user's memory. Optional TTL in days."
}

func (t *memoryStoreTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"key":      prop("string", "The memory key."),
		"value":    map[string]any{"description": "The value to store. Serialized as JSON."},
		"ttl_days": prop("number", "Optional time-to-live in days."),
	}, "key", "value")
}

func (t *memoryStoreTool) Execute(ctx context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	key, ok := stringArg(args, "key")
	if !ok || strings.TrimSpace(key) == "" {
		return failf("key is required")
	}
	value, present := args["value"]
	if !present {
		return failf("value is required")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return failf("encode value: %v", err)
	}

	var ttl time.Duration
	if days, ok := floatArg(args, "ttl_days"); ok {
		if days <= 0 {
			return failf("ttl_days must be positive")
		}
		ttl = time.Duration(days * 24 * float64(time.Hour))
	}

	if err := t.backend.store(ctx, user.scope(), key, string(encoded), ttl); err != nil {
		return failf("store memory: %v", err)
	}
	result := map[string]any{"key": key, "stored": true}
	if ttl > 0 {
		result["ttl_days"] = ttl.Hours() / 24
	}
	return models.BuiltinOK(result)
}

// memoryRetrieveTool reads a value back, or lists keys when no key is
// given.
type memoryRetrieveTool struct {
	backend *memoryBackend
}

func (t *memoryRetrieveTool) Name() string { return "memory_retrieve" }

func (t *memoryRetrieveTool) Description() string {
	return "Retrieve a value from the user's memory by key, or list all keys when no key is given."
}

func (t *memoryRetrieveTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"key": prop("string", "The memory key. Omit to list stored keys."),
	})
}

func (t *memoryRetrieveTool) Execute(ctx context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	key, _ := stringArg(args, "key")
	if strings.TrimSpace(key) == "" {
		keys, err := t.backend.keys(ctx, user.scope())
		if err != nil {
			return failf("list memory keys: %v", err)
		}
		return models.BuiltinOK(map[string]any{"keys": keys})
	}

	raw, found, err := t.backend.retrieve(ctx, user.scope(), key)
	if err != nil {
		return failf("retrieve memory: %v", err)
	}
	if !found {
		return models.BuiltinOK(map[string]any{"key": key, "found": false})
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return models.BuiltinOK(map[string]any{"key": key, "found": true, "value": value})
}
