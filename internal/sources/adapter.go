// Package sources contains the ingestion adapters that turn upstream
// catalogues (OpenAPI documents, MCP servers, the builtin registry)
// into normalized tool definitions for the inventory reconciler.
package sources

import (
	"context"
	"net/http"

	"github.com/tesserahq/toolgate/pkg/models"
)

// IngestionResult is what an adapter hands the reconciler: the
// normalized tools plus the canonical hash used for change detection.
type IngestionResult struct {
	Tools         []models.ToolDefinition `json:"tools"`
	InventoryHash string                  `json:"inventory_hash"`
	Success       bool                    `json:"success"`
	Error         string                  `json:"error,omitempty"`
	SourceVersion string                  `json:"source_version,omitempty"`
	Warnings      []string                `json:"warnings,omitempty"`
}

// validationErr builds the non-retryable error shape shared by the
// adapters' config and document checks.
func validationErr(msg string, details map[string]any) *models.ToolError {
	return &models.ToolError{Code: models.ErrCodeValidation, Message: msg, Details: details}
}

// Failed wraps an ingestion error in the wire shape used by refresh
// results.
func Failed(err error) *IngestionResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &IngestionResult{Success: false, Error: msg}
}

// Adapter normalizes one kind of upstream into tool definitions.
type Adapter interface {
	// FetchAndNormalize enumerates the source's operations. The
	// returned error is a *models.ToolError describing why ingestion
	// failed; warnings for partial problems ride on the result.
	FetchAndNormalize(ctx context.Context, src *models.SourceAggregate, auth *models.AuthConfig) (*IngestionResult, error)

	// ValidateURL reports whether the source's location looks
	// reachable and well-formed, for registration-time checks.
	ValidateURL(ctx context.Context, rawURL string, auth *models.AuthConfig) bool
}

// Registry maps source types to their adapters.
type Registry struct {
	adapters map[models.SourceType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.SourceType]Adapter)}
}

// Register binds an adapter to a source type, replacing any previous
// binding.
func (r *Registry) Register(st models.SourceType, a Adapter) {
	r.adapters[st] = a
}

// For returns the adapter for a source type.
func (r *Registry) For(st models.SourceType) (Adapter, bool) {
	a, ok := r.adapters[st]
	return a, ok
}

// decorateRequest attaches static credential material to an outbound
// fetch. OAuth2 material is not used here: spec documents behind a
// client-credentials flow are fetched anonymously.
func decorateRequest(req *http.Request, auth *models.AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case models.AuthConfigBearer:
		if auth.Bearer != nil && auth.Bearer.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Bearer.Token)
		}
	case models.AuthConfigAPIKey:
		if auth.APIKey == nil || auth.APIKey.Name == "" {
			return
		}
		switch auth.APIKey.In {
		case models.APIKeyInQuery:
			q := req.URL.Query()
			q.Set(auth.APIKey.Name, auth.APIKey.Value)
			req.URL.RawQuery = q.Encode()
		default:
			req.Header.Set(auth.APIKey.Name, auth.APIKey.Value)
		}
	case models.AuthConfigHTTPBasic:
		if auth.Basic != nil {
			req.SetBasicAuth(auth.Basic.Username, auth.Basic.Password)
		}
	}
}
