package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

// DefaultEnvPrefix is prepended to the sanitized source id to form the
// environment variable an EnvStore inspects.
const DefaultEnvPrefix = "TOOLGATE_AUTH_"

// EnvStore reads credentials from process environment variables. Each
// variable holds a JSON AuthConfig; the name is the prefix plus the
// source id uppercased with every non-alphanumeric rune mapped to '_'
// (so source "pet-store" reads TOOLGATE_AUTH_PET_STORE).
type EnvStore struct {
	prefix string
}

// NewEnvStore creates an env-backed store. An empty prefix selects
// DefaultEnvPrefix.
func NewEnvStore(prefix string) *EnvStore {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvStore{prefix: prefix}
}

// GetAuthConfig implements Store.
func (s *EnvStore) GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error) {
	key := s.prefix + envKey(sourceID)
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil, nil
	}
	var cfg models.AuthConfig
	// The raw value is credential material: never echo it in the error.
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: invalid auth config JSON", key)
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("parse %s: auth config has no type", key)
	}
	return &cfg, nil
}

func envKey(sourceID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(sourceID) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
