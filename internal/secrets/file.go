package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tesserahq/toolgate/pkg/models"
)

// FileStore reads credentials from a YAML file mapping source ids to
// AuthConfig objects. ${ENV} references in the file expand before
// parsing so the file itself can stay free of secret literals. The
// file is re-read when its mtime or size changes, which makes rotation
// a plain file write.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	loaded  bool
	configs map[string]*models.AuthConfig
}

// NewFileStore creates a file-backed store. The file may not exist
// yet; a missing file resolves every source to no material.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		logger: slog.Default().With("component", "secrets", "path", path),
	}
}

// GetAuthConfig implements Store.
func (s *FileStore) GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s.configs[sourceID], nil
}

// reloadLocked re-reads the file when it changed since the last load.
func (s *FileStore) reloadLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		if !s.loaded {
			s.logger.Warn("secrets file missing, sources resolve to no credentials")
			s.loaded = true
		}
		s.configs = nil
		s.modTime = time.Time{}
		s.size = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat secrets file: %w", err)
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}

	var entries map[string]map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &entries); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}

	configs := make(map[string]*models.AuthConfig, len(entries))
	for sourceID, entry := range entries {
		// Round-trip through JSON so the models' canonical field names
		// apply to the YAML shape too.
		raw, err := json.Marshal(entry)
		if err != nil {
			s.logger.Warn("skipping malformed secrets entry", "source_id", sourceID)
			continue
		}
		var cfg models.AuthConfig
		if err := json.Unmarshal(raw, &cfg); err != nil || cfg.Type == "" {
			s.logger.Warn("skipping secrets entry with no usable type", "source_id", sourceID)
			continue
		}
		configs[sourceID] = &cfg
	}

	s.configs = configs
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.loaded = true
	s.logger.Debug("secrets file loaded", "entries", len(configs))
	return nil
}
