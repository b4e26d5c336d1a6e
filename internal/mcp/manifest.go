package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

// ManifestFileName is the manifest a plugin directory must contain.
const ManifestFileName = "plugin.json"

// headerEnvPrefix marks env bindings that become HTTP headers on
// remote servers: MCP_HEADER_X_FOO_BAR=v sends "X-Foo-Bar: v".
const headerEnvPrefix = "MCP_HEADER_"

// Manifest describes a local MCP plugin: what to spawn and which
// environment variables it needs.
type Manifest struct {
	Name      string        `json:"name"`
	Version   string        `json:"version,omitempty"`
	Command   string        `json:"command"`
	Args      []string      `json:"args,omitempty"`
	Env       []ManifestEnv `json:"env,omitempty"`
	Transport TransportType `json:"transport,omitempty"`
}

// ManifestEnv declares one environment variable the plugin expects.
type ManifestEnv struct {
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
	Default  string `json:"default,omitempty"`
}

// LoadManifest reads and validates plugin.json from a plugin directory.
func LoadManifest(pluginDir string) (*Manifest, error) {
	if err := validatePath(pluginDir, "plugin_dir"); err != nil {
		return nil, validationErr(err.Error())
	}

	path := filepath.Join(pluginDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, validationErr(fmt.Sprintf("no %s in plugin directory %q", ManifestFileName, pluginDir))
		}
		return nil, validationErr(fmt.Sprintf("read plugin manifest: %v", err))
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, validationErr(fmt.Sprintf("parse %s: %v", path, err))
	}

	if m.Name == "" {
		return nil, validationErr(fmt.Sprintf("%s: name is required", path))
	}
	if m.Command == "" {
		return nil, validationErr(fmt.Sprintf("%s: command is required", path))
	}
	if m.Transport != "" && m.Transport != TransportStdio {
		return nil, validationErr(fmt.Sprintf("%s: plugin manifests support only stdio transport, got %q", path, m.Transport))
	}

	return &m, nil
}

// ResolveEnv produces the process environment for the plugin. For each
// declared variable the precedence is: the source's binding, the host
// process environment, the manifest default. Missing required
// variables fail with the full list of names.
func (m *Manifest) ResolveEnv(bindings map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(m.Env))
	var missing []string

	for _, decl := range m.Env {
		if v, ok := bindings[decl.Name]; ok {
			resolved[decl.Name] = v
			continue
		}
		if v, ok := os.LookupEnv(decl.Name); ok {
			resolved[decl.Name] = v
			continue
		}
		if decl.Default != "" {
			resolved[decl.Name] = decl.Default
			continue
		}
		if decl.Required {
			missing = append(missing, decl.Name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &models.ToolError{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("plugin %s: missing required environment variables: %s", m.Name, strings.Join(missing, ", ")),
			Details: map[string]any{"missing": missing},
		}
	}

	// Bindings not declared by the manifest still pass through; a
	// plugin may read more than it advertises.
	for name, v := range bindings {
		if _, ok := resolved[name]; !ok {
			resolved[name] = v
		}
	}

	return resolved, nil
}

// HeadersFromEnv translates MCP_HEADER_* bindings into HTTP headers:
// the prefix is stripped, underscores become hyphens, and the name is
// canonicalized (MCP_HEADER_X_FOO_BAR → X-Foo-Bar).
func HeadersFromEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}

	headers := map[string]string{}
	for name, v := range env {
		if !strings.HasPrefix(name, headerEnvPrefix) {
			continue
		}
		raw := strings.TrimPrefix(name, headerEnvPrefix)
		if raw == "" {
			continue
		}
		key := http.CanonicalHeaderKey(strings.ReplaceAll(raw, "_", "-"))
		headers[key] = v
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// ServerConfigFromSource resolves a source's mcp_config into a
// connectable ServerConfig. Remote servers use the HTTP transport with
// translated headers; plugin directories load their manifest; a bare
// command runs over stdio as declared.
func ServerConfigFromSource(sourceID string, mc *models.MCPConfig) (*ServerConfig, error) {
	if mc == nil {
		return nil, validationErr("source has no mcp_config")
	}

	switch {
	case mc.ServerURL != "":
		cfg := &ServerConfig{
			ID:        sourceID,
			Transport: TransportHTTP,
			URL:       mc.ServerURL,
			Headers:   HeadersFromEnv(mc.Env),
		}
		if err := cfg.Validate(); err != nil {
			return nil, validationErr(err.Error())
		}
		return cfg, nil

	case mc.PluginDir != "":
		manifest, err := LoadManifest(mc.PluginDir)
		if err != nil {
			return nil, err
		}
		env, err := manifest.ResolveEnv(mc.Env)
		if err != nil {
			return nil, err
		}
		cfg := &ServerConfig{
			ID:        sourceID,
			Name:      manifest.Name,
			Transport: TransportStdio,
			Command:   manifest.Command,
			Args:      append([]string(nil), manifest.Args...),
			Env:       env,
			WorkDir:   mc.PluginDir,
		}
		if err := cfg.Validate(); err != nil {
			return nil, validationErr(err.Error())
		}
		return cfg, nil

	case mc.Command != "":
		cfg := &ServerConfig{
			ID:        sourceID,
			Transport: TransportStdio,
			Command:   mc.Command,
			Args:      append([]string(nil), mc.Args...),
			Env:       mc.Env,
		}
		if err := cfg.Validate(); err != nil {
			return nil, validationErr(err.Error())
		}
		return cfg, nil

	default:
		return nil, validationErr("mcp_config needs one of server_url, plugin_dir, or command")
	}
}

// Endpoint is the dir-or-url half of the mcp:// source path for tools
// discovered from this config.
func Endpoint(mc *models.MCPConfig) string {
	if mc == nil {
		return ""
	}
	if mc.ServerURL != "" {
		return mc.ServerURL
	}
	if mc.PluginDir != "" {
		return mc.PluginDir
	}
	return mc.Command
}

func validationErr(msg string) *models.ToolError {
	return &models.ToolError{
		Code:    models.ErrCodeValidation,
		Message: msg,
	}
}
