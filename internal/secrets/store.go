// Package secrets resolves upstream credential material for sources.
// Persisted SourceAggregates carry only their auth_mode tag; the
// material itself is keyed by source id here and is read, never
// written, by the serving path.
package secrets

import (
	"context"
	"sync"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Store resolves credential material for a source. A nil config with a
// nil error means the source has no stored material and ingests or
// executes anonymously.
type Store interface {
	GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error)
}

// Chain queries stores in order and returns the first non-nil config.
// Errors stop the chain: a broken store must not silently fall through
// to weaker material.
type Chain []Store

// GetAuthConfig implements Store.
func (c Chain) GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error) {
	for _, s := range c {
		cfg, err := s.GetAuthConfig(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}

// MemoryStore keeps credentials in process memory. Default dev mode
// and tests use it; Put is how they seed material.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*models.AuthConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]*models.AuthConfig)}
}

// GetAuthConfig implements Store.
func (m *MemoryStore) GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[sourceID], nil
}

// Put stores material for a source, replacing any previous value.
func (m *MemoryStore) Put(sourceID string, cfg *models.AuthConfig) {
	m.mu.Lock()
	m.configs[sourceID] = cfg
	m.mu.Unlock()
}

// Delete removes a source's material.
func (m *MemoryStore) Delete(sourceID string) {
	m.mu.Lock()
	delete(m.configs, sourceID)
	m.mu.Unlock()
}
