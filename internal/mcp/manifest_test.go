package mcp

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tesserahq/toolgate/pkg/models"
)

func writePluginManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writePluginManifest(t, dir, `{
		"name": "weather-plugin",
		"version": "2.1.0",
		"command": "weather-mcp",
		"args": ["--mode", "server"],
		"env": [
			{"name": "WEATHER_API_KEY", "required": true},
			{"name": "WEATHER_UNITS", "default": "metric"}
		],
		"transport": "stdio"
	}`)

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if m.Name != "weather-plugin" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.Command != "weather-mcp" {
		t.Errorf("Command = %q", m.Command)
	}
	if len(m.Args) != 2 || m.Args[0] != "--mode" {
		t.Errorf("Args = %v", m.Args)
	}
	if len(m.Env) != 2 || !m.Env[0].Required || m.Env[1].Default != "metric" {
		t.Errorf("Env = %+v", m.Env)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string // empty means no manifest file
	}{
		{"missing file", ""},
		{"invalid json", `{"name": `},
		{"missing name", `{"command": "x"}`},
		{"missing command", `{"name": "x"}`},
		{"http transport rejected", `{"name": "x", "command": "y", "transport": "http"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.content != "" {
				writePluginManifest(t, dir, tt.content)
			}

			_, err := LoadManifest(dir)
			if err == nil {
				t.Fatal("LoadManifest() expected error")
			}
			te, ok := models.AsToolError(err)
			if !ok || te.Code != models.ErrCodeValidation {
				t.Errorf("error = %v, want validation failure", err)
			}
		})
	}
}

func TestManifestResolveEnv(t *testing.T) {
	m := &Manifest{
		Name: "p",
		Env: []ManifestEnv{
			{Name: "ZZZ_TOOLGATE_FROM_BINDING", Required: true},
			{Name: "ZZZ_TOOLGATE_FROM_HOST", Required: true},
			{Name: "ZZZ_TOOLGATE_FROM_DEFAULT", Default: "fallback"},
			{Name: "ZZZ_TOOLGATE_OPTIONAL_ABSENT"},
		},
	}

	t.Setenv("ZZZ_TOOLGATE_FROM_HOST", "host-value")

	env, err := m.ResolveEnv(map[string]string{
		"ZZZ_TOOLGATE_FROM_BINDING": "bound-value",
		"EXTRA":                     "passes-through",
	})
	if err != nil {
		t.Fatalf("ResolveEnv() error = %v", err)
	}

	want := map[string]string{
		"ZZZ_TOOLGATE_FROM_BINDING": "bound-value",
		"ZZZ_TOOLGATE_FROM_HOST":    "host-value",
		"ZZZ_TOOLGATE_FROM_DEFAULT": "fallback",
		"EXTRA":                     "passes-through",
	}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("ResolveEnv() = %v, want %v", env, want)
	}
}

func TestManifestResolveEnvBindingBeatsHost(t *testing.T) {
	m := &Manifest{Name: "p", Env: []ManifestEnv{{Name: "ZZZ_TOOLGATE_TOKEN", Required: true}}}

	t.Setenv("ZZZ_TOOLGATE_TOKEN", "host")

	env, err := m.ResolveEnv(map[string]string{"ZZZ_TOOLGATE_TOKEN": "bound"})
	if err != nil {
		t.Fatalf("ResolveEnv() error = %v", err)
	}
	if env["ZZZ_TOOLGATE_TOKEN"] != "bound" {
		t.Errorf("resolved = %q, want bound", env["ZZZ_TOOLGATE_TOKEN"])
	}
}

func TestManifestResolveEnvMissingRequired(t *testing.T) {
	m := &Manifest{
		Name: "weather-plugin",
		Env: []ManifestEnv{
			{Name: "ZZZ_TOOLGATE_TEST_B", Required: true},
			{Name: "ZZZ_TOOLGATE_TEST_A", Required: true},
			{Name: "ZZZ_TOOLGATE_TEST_C"},
		},
	}

	_, err := m.ResolveEnv(nil)
	if err == nil {
		t.Fatal("ResolveEnv() expected error")
	}
	te, ok := models.AsToolError(err)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if te.Code != models.ErrCodeValidation || te.Retryable {
		t.Errorf("error = %+v, want non-retryable validation failure", te)
	}

	missing, _ := te.Details["missing"].([]string)
	want := []string{"ZZZ_TOOLGATE_TEST_A", "ZZZ_TOOLGATE_TEST_B"}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("missing = %v, want %v (sorted, optional excluded)", missing, want)
	}
}

func TestHeadersFromEnv(t *testing.T) {
	headers := HeadersFromEnv(map[string]string{
		"MCP_HEADER_X_FOO_BAR":     "v1",
		"MCP_HEADER_AUTHORIZATION": "Bearer abc",
		"PLAIN_VAR":                "ignored",
		"MCP_HEADER_":              "ignored too",
	})

	want := map[string]string{
		"X-Foo-Bar":     "v1",
		"Authorization": "Bearer abc",
	}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("HeadersFromEnv() = %v, want %v", headers, want)
	}
}

func TestHeadersFromEnvEmpty(t *testing.T) {
	if got := HeadersFromEnv(nil); got != nil {
		t.Errorf("HeadersFromEnv(nil) = %v, want nil", got)
	}
	if got := HeadersFromEnv(map[string]string{"A": "b"}); got != nil {
		t.Errorf("HeadersFromEnv(no prefix) = %v, want nil", got)
	}
}

func TestServerConfigFromSourceRemote(t *testing.T) {
	cfg, err := ServerConfigFromSource("src-1", &models.MCPConfig{
		ServerURL: "https://mcp.example.com/rpc",
		Env:       map[string]string{"MCP_HEADER_X_API_KEY": "k"},
	})
	if err != nil {
		t.Fatalf("ServerConfigFromSource() error = %v", err)
	}

	if cfg.Transport != TransportHTTP {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.URL != "https://mcp.example.com/rpc" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.Headers["X-Api-Key"] != "k" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
}

func TestServerConfigFromSourcePluginDir(t *testing.T) {
	dir := t.TempDir()
	writePluginManifest(t, dir, `{
		"name": "notes",
		"command": "notes-mcp",
		"args": ["serve"],
		"env": [{"name": "NOTES_DB", "required": true}]
	}`)

	cfg, err := ServerConfigFromSource("src-2", &models.MCPConfig{
		PluginDir: dir,
		Env:       map[string]string{"NOTES_DB": "/data/notes.db"},
	})
	if err != nil {
		t.Fatalf("ServerConfigFromSource() error = %v", err)
	}

	if cfg.Transport != TransportStdio {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.Command != "notes-mcp" || len(cfg.Args) != 1 {
		t.Errorf("Command = %q Args = %v", cfg.Command, cfg.Args)
	}
	if cfg.WorkDir != dir {
		t.Errorf("WorkDir = %q, want plugin dir", cfg.WorkDir)
	}
	if cfg.Env["NOTES_DB"] != "/data/notes.db" {
		t.Errorf("Env = %v", cfg.Env)
	}
	if cfg.Name != "notes" {
		t.Errorf("Name = %q", cfg.Name)
	}
}

func TestServerConfigFromSourceBareCommand(t *testing.T) {
	cfg, err := ServerConfigFromSource("src-3", &models.MCPConfig{
		Command: "local-mcp",
		Args:    []string{"--fast"},
	})
	if err != nil {
		t.Fatalf("ServerConfigFromSource() error = %v", err)
	}
	if cfg.Transport != TransportStdio || cfg.Command != "local-mcp" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestServerConfigFromSourceEmpty(t *testing.T) {
	for _, mc := range []*models.MCPConfig{nil, {}} {
		_, err := ServerConfigFromSource("src", mc)
		te, _ := models.AsToolError(err)
		if te == nil || te.Code != models.ErrCodeValidation {
			t.Errorf("ServerConfigFromSource(%v) error = %v, want validation failure", mc, err)
		}
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		mc   *models.MCPConfig
		want string
	}{
		{nil, ""},
		{&models.MCPConfig{ServerURL: "https://x"}, "https://x"},
		{&models.MCPConfig{PluginDir: "/plugins/a"}, "/plugins/a"},
		{&models.MCPConfig{Command: "run-me"}, "run-me"},
	}
	for _, tt := range tests {
		if got := Endpoint(tt.mc); got != tt.want {
			t.Errorf("Endpoint(%+v) = %q, want %q", tt.mc, got, tt.want)
		}
	}
}
