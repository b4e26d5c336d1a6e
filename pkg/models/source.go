package models

import "time"

// SourceType identifies the kind of upstream a source wraps.
type SourceType string

const (
	SourceTypeOpenAPI SourceType = "openapi"
	SourceTypeMCP     SourceType = "mcp"
	SourceTypeBuiltin SourceType = "builtin"
)

// AuthMode selects how upstream credentials are produced for a source.
type AuthMode string

const (
	AuthModeNone              AuthMode = "none"
	AuthModeAPIKey            AuthMode = "api_key"
	AuthModeHTTPBasic         AuthMode = "http_basic"
	AuthModeClientCredentials AuthMode = "client_credentials"
	AuthModeTokenExchange     AuthMode = "token_exchange"
)

// HealthStatus summarizes the last observed reachability of a source.
type HealthStatus string

const (
	HealthUnknown     HealthStatus = "unknown"
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
)

// MCPTransportKind selects the wire transport for an MCP source.
type MCPTransportKind string

const (
	MCPTransportStdio MCPTransportKind = "stdio"
	MCPTransportHTTP  MCPTransportKind = "http"
)

// LifecycleMode controls whether an MCP connection outlives a single ingest.
type LifecycleMode string

const (
	LifecycleTransient LifecycleMode = "transient"
	LifecycleSingleton LifecycleMode = "singleton"
)

// MCPConfig carries everything needed to reach an MCP plugin or server.
type MCPConfig struct {
	PluginDir string            `json:"plugin_dir,omitempty"`
	ServerURL string            `json:"server_url,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport MCPTransportKind  `json:"transport,omitempty"`
	Lifecycle LifecycleMode     `json:"lifecycle_mode,omitempty"`
}

// SourceAggregate is the persistent record of one upstream source.
// It is only mutated through its methods; command handlers persist the
// resulting state via the repository.
type SourceAggregate struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	URL                 string       `json:"url"`
	SpecURL             string       `json:"spec_url,omitempty"`
	SourceType          SourceType   `json:"source_type"`
	AuthMode            AuthMode     `json:"auth_mode"`
	DefaultAudience     string       `json:"default_audience,omitempty"`
	RequiredScopes      []string     `json:"required_scopes,omitempty"`
	MCP                 *MCPConfig   `json:"mcp_config,omitempty"`
	HealthStatus        HealthStatus `json:"health_status"`
	IsEnabled           bool         `json:"is_enabled"`
	InventoryHash       string       `json:"inventory_hash,omitempty"`
	LastSyncAt          time.Time    `json:"last_sync_at,omitempty"`
	LastSyncError       string       `json:"last_sync_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Version             int          `json:"version"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// NewSourceAggregate builds a freshly registered source.
func NewSourceAggregate(id, name, url string, st SourceType, am AuthMode, now time.Time) *SourceAggregate {
	return &SourceAggregate{
		ID:           id,
		Name:         name,
		URL:          url,
		SourceType:   st,
		AuthMode:     am,
		HealthStatus: HealthUnknown,
		IsEnabled:    true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SpecLocation returns the URL the OpenAPI adapter should fetch.
func (s *SourceAggregate) SpecLocation() string {
	if s.SpecURL != "" {
		return s.SpecURL
	}
	return s.URL
}

// SourcePatch is a partial update. Pointer fields distinguish "not
// provided" from zero values; Clear flags distinguish "set empty" from
// "leave alone" for optional strings.
type SourcePatch struct {
	Name                 *string
	URL                  *string
	SpecURL              *string
	ClearSpecURL         bool
	AuthMode             *AuthMode
	DefaultAudience      *string
	ClearDefaultAudience bool
	RequiredScopes       *[]string
	MCP                  *MCPConfig
	ClearMCP             bool
}

// ApplyPatch mutates the aggregate in place and reports whether
// anything changed.
func (s *SourceAggregate) ApplyPatch(p SourcePatch, now time.Time) bool {
	changed := false
	set := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	set(&s.Name, p.Name)
	set(&s.URL, p.URL)
	set(&s.SpecURL, p.SpecURL)
	if p.ClearSpecURL && s.SpecURL != "" {
		s.SpecURL = ""
		changed = true
	}
	if p.AuthMode != nil && s.AuthMode != *p.AuthMode {
		s.AuthMode = *p.AuthMode
		changed = true
	}
	set(&s.DefaultAudience, p.DefaultAudience)
	if p.ClearDefaultAudience && s.DefaultAudience != "" {
		s.DefaultAudience = ""
		changed = true
	}
	if p.RequiredScopes != nil {
		s.RequiredScopes = append([]string(nil), (*p.RequiredScopes)...)
		changed = true
	}
	if p.MCP != nil {
		cp := *p.MCP
		s.MCP = &cp
		changed = true
	}
	if p.ClearMCP && s.MCP != nil {
		s.MCP = nil
		changed = true
	}
	if changed {
		s.Version++
		s.UpdatedAt = now
	}
	return changed
}

// RecordSync marks a successful inventory refresh.
func (s *SourceAggregate) RecordSync(inventoryHash string, now time.Time) {
	s.InventoryHash = inventoryHash
	s.LastSyncAt = now
	s.LastSyncError = ""
	s.ConsecutiveFailures = 0
	s.HealthStatus = HealthHealthy
	s.UpdatedAt = now
}

// RecordSyncFailure marks a failed refresh without touching tool state.
func (s *SourceAggregate) RecordSyncFailure(errMsg string, now time.Time) {
	s.LastSyncError = errMsg
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= 3 {
		s.HealthStatus = HealthUnreachable
	} else {
		s.HealthStatus = HealthDegraded
	}
	s.UpdatedAt = now
}

// SetEnabled toggles the source and reports whether the value changed.
func (s *SourceAggregate) SetEnabled(enabled bool, now time.Time) bool {
	if s.IsEnabled == enabled {
		return false
	}
	s.IsEnabled = enabled
	s.Version++
	s.UpdatedAt = now
	return true
}
