package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("TOOLGATE_AUTH_PET_STORE", `{"type":"bearer","bearer":{"token":"tok-123"}}`)

	store := NewEnvStore("")
	cfg, err := store.GetAuthConfig(context.Background(), "pet-store")
	if err != nil {
		t.Fatalf("GetAuthConfig() error = %v", err)
	}
	if cfg == nil || cfg.Type != models.AuthConfigBearer || cfg.Bearer.Token != "tok-123" {
		t.Errorf("config = %+v", cfg)
	}

	cfg, err = store.GetAuthConfig(context.Background(), "unknown")
	if err != nil || cfg != nil {
		t.Errorf("unknown source = (%+v, %v), want (nil, nil)", cfg, err)
	}
}

func TestEnvStoreKeySanitizing(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"src-1", "SRC_1"},
		{"My.Source", "MY_SOURCE"},
		{"already_fine", "ALREADY_FINE"},
		{"a b/c", "A_B_C"},
	}
	for _, tt := range tests {
		if got := envKey(tt.id); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestEnvStoreBadJSONKeepsSecretOutOfError(t *testing.T) {
	t.Setenv("TOOLGATE_AUTH_BROKEN", `{"type":"bearer","bearer":{"token":"sup3r-s3cret"`)

	store := NewEnvStore("")
	_, err := store.GetAuthConfig(context.Background(), "broken")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if strings.Contains(err.Error(), "sup3r-s3cret") {
		t.Errorf("error leaks the credential: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	t.Setenv("PET_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	content := `
pet-store:
  type: bearer
  bearer:
    token: ${PET_TOKEN}
weather:
  type: api_key
  api_key:
    name: X-Api-Key
    value: k-123
    in: header
broken:
  note: no type here
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	ctx := context.Background()

	cfg, err := store.GetAuthConfig(ctx, "pet-store")
	if err != nil {
		t.Fatalf("GetAuthConfig() error = %v", err)
	}
	if cfg == nil || cfg.Bearer == nil || cfg.Bearer.Token != "from-env" {
		t.Errorf("pet-store config = %+v, want expanded env token", cfg)
	}

	cfg, err = store.GetAuthConfig(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Type != models.AuthConfigAPIKey || cfg.APIKey.In != models.APIKeyInHeader {
		t.Errorf("weather config = %+v", cfg)
	}

	// Entries without a usable type are skipped, not fatal.
	cfg, err = store.GetAuthConfig(ctx, "broken")
	if err != nil || cfg != nil {
		t.Errorf("broken entry = (%+v, %v), want (nil, nil)", cfg, err)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := store.GetAuthConfig(context.Background(), "any")
	if err != nil || cfg != nil {
		t.Errorf("missing file = (%+v, %v), want (nil, nil)", cfg, err)
	}
}

func TestFileStoreReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	write := func(token string) {
		t.Helper()
		content := "src-1:\n  type: bearer\n  bearer:\n    token: " + token + "\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("first")
	store := NewFileStore(path)
	ctx := context.Background()

	cfg, err := store.GetAuthConfig(ctx, "src-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bearer.Token != "first" {
		t.Fatalf("token = %q", cfg.Bearer.Token)
	}

	write("second")
	// Same-second writes can leave mtime unchanged on coarse
	// filesystems; force it forward.
	if err := os.Chtimes(path, time.Now(), time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	cfg, err = store.GetAuthConfig(ctx, "src-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bearer.Token != "second" {
		t.Errorf("token after rotation = %q, want %q", cfg.Bearer.Token, "second")
	}
}

type erroringStore struct{}

func (erroringStore) GetAuthConfig(context.Context, string) (*models.AuthConfig, error) {
	return nil, errors.New("backend down")
}

func TestChain(t *testing.T) {
	mem := NewMemoryStore()
	mem.Put("src-1", &models.AuthConfig{Type: models.AuthConfigBearer, Bearer: &models.BearerAuth{Token: "mem"}})

	t.Setenv("TOOLGATE_AUTH_SRC_1", `{"type":"bearer","bearer":{"token":"env"}}`)
	env := NewEnvStore("")

	// Earlier stores win.
	chain := Chain{env, mem}
	cfg, err := chain.GetAuthConfig(context.Background(), "src-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bearer.Token != "env" {
		t.Errorf("token = %q, want env to win", cfg.Bearer.Token)
	}

	// Fall through past stores with no material.
	cfg, err = chain.GetAuthConfig(context.Background(), "src-2")
	if err != nil || cfg != nil {
		t.Errorf("src-2 = (%+v, %v), want (nil, nil)", cfg, err)
	}
	mem.Put("src-2", &models.AuthConfig{Type: models.AuthConfigBearer, Bearer: &models.BearerAuth{Token: "mem2"}})
	cfg, err = chain.GetAuthConfig(context.Background(), "src-2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Bearer.Token != "mem2" {
		t.Errorf("src-2 = %+v, want memory fallback", cfg)
	}

	// Errors stop the chain instead of falling through.
	chain = Chain{erroringStore{}, mem}
	if _, err := chain.GetAuthConfig(context.Background(), "src-1"); err == nil {
		t.Error("chain swallowed a store error")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	mem := NewMemoryStore()
	mem.Put("src-1", &models.AuthConfig{Type: models.AuthConfigBearer, Bearer: &models.BearerAuth{Token: "x"}})
	mem.Delete("src-1")

	cfg, err := mem.GetAuthConfig(context.Background(), "src-1")
	if err != nil || cfg != nil {
		t.Errorf("deleted entry = (%+v, %v), want (nil, nil)", cfg, err)
	}
}
