package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tesserahq/toolgate/internal/commands"
	"github.com/tesserahq/toolgate/pkg/models"
)

// adminHandler maps the management HTTP surface onto bus commands. It
// exists for the toolgate CLI; every response body is the
// OperationResult JSON, so the CLI prints what the bus returned.
type adminHandler struct {
	server *Server
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	h := &adminHandler{server: s}
	mux.HandleFunc("GET /admin/sources", h.listSources)
	mux.HandleFunc("POST /admin/sources", h.registerSource)
	mux.HandleFunc("POST /admin/sources/{id}", h.updateSource)
	mux.HandleFunc("DELETE /admin/sources/{id}", h.deleteSource)
	mux.HandleFunc("POST /admin/sources/{id}/refresh", h.refreshSource)
	mux.HandleFunc("GET /admin/tools", h.listTools)
	mux.HandleFunc("POST /admin/tools/{id}/enable", h.toggleTool)
	mux.HandleFunc("POST /admin/tools/{id}/disable", h.toggleTool)
	mux.HandleFunc("POST /admin/tools/execute", h.executeTool)
	mux.HandleFunc("POST /admin/tools/cleanup", h.cleanupTools)
	mux.HandleFunc("POST /admin/circuits/reset", h.resetCircuit)
}

func httpStatus(status commands.Status) int {
	switch status {
	case commands.StatusOK:
		return http.StatusOK
	case commands.StatusBadRequest:
		return http.StatusBadRequest
	case commands.StatusNotFound:
		return http.StatusNotFound
	case commands.StatusConflict:
		return http.StatusConflict
	case commands.StatusForbidden:
		return http.StatusForbidden
	case commands.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *adminHandler) respond(w http.ResponseWriter, result commands.OperationResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(result.Status))
	_ = json.NewEncoder(w).Encode(result) //nolint:errcheck
}

func (h *adminHandler) dispatch(w http.ResponseWriter, r *http.Request, cmd commands.Command) {
	h.respond(w, h.server.deps.Bus.Execute(r.Context(), cmd))
}

func (h *adminHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respond(w, commands.BadRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// registerSourceRequest is the admin wire shape for source creation.
type registerSourceRequest struct {
	ID              string            `json:"id,omitempty"`
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	SpecURL         string            `json:"spec_url,omitempty"`
	SourceType      string            `json:"source_type"`
	AuthMode        string            `json:"auth_mode,omitempty"`
	DefaultAudience string            `json:"default_audience,omitempty"`
	RequiredScopes  []string          `json:"required_scopes,omitempty"`
	MCP             *models.MCPConfig `json:"mcp,omitempty"`
	SkipRefresh     bool              `json:"skip_refresh,omitempty"`
}

func (h *adminHandler) registerSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, commands.RegisterSource{
		ID:              req.ID,
		SourceName:      req.Name,
		URL:             req.URL,
		SpecURL:         req.SpecURL,
		SourceType:      models.SourceType(req.SourceType),
		AuthMode:        models.AuthMode(req.AuthMode),
		DefaultAudience: req.DefaultAudience,
		RequiredScopes:  req.RequiredScopes,
		MCP:             req.MCP,
		SkipRefresh:     req.SkipRefresh,
	})
}

// updateSourceRequest distinguishes absent fields from explicit
// clears: a null means untouched, the clear flags null the value out.
type updateSourceRequest struct {
	Name                 *string           `json:"name,omitempty"`
	URL                  *string           `json:"url,omitempty"`
	SpecURL              *string           `json:"spec_url,omitempty"`
	ClearSpecURL         bool              `json:"clear_spec_url,omitempty"`
	AuthMode             *string           `json:"auth_mode,omitempty"`
	DefaultAudience      *string           `json:"default_audience,omitempty"`
	ClearDefaultAudience bool              `json:"clear_default_audience,omitempty"`
	RequiredScopes       *[]string         `json:"required_scopes,omitempty"`
	MCP                  *models.MCPConfig `json:"mcp,omitempty"`
	ClearMCP             bool              `json:"clear_mcp,omitempty"`
	Refresh              bool              `json:"refresh,omitempty"`
}

func (h *adminHandler) updateSource(w http.ResponseWriter, r *http.Request) {
	var req updateSourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := models.SourcePatch{
		Name:                 req.Name,
		URL:                  req.URL,
		SpecURL:              req.SpecURL,
		ClearSpecURL:         req.ClearSpecURL,
		DefaultAudience:      req.DefaultAudience,
		ClearDefaultAudience: req.ClearDefaultAudience,
		RequiredScopes:       req.RequiredScopes,
		MCP:                  req.MCP,
		ClearMCP:             req.ClearMCP,
	}
	if req.AuthMode != nil {
		mode := models.AuthMode(*req.AuthMode)
		patch.AuthMode = &mode
	}
	h.dispatch(w, r, commands.UpdateSource{
		ID:      r.PathValue("id"),
		Patch:   patch,
		Refresh: req.Refresh,
	})
}

func (h *adminHandler) deleteSource(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, commands.DeleteSource{ID: r.PathValue("id")})
}

func (h *adminHandler) refreshSource(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	h.dispatch(w, r, commands.RefreshSource{ID: r.PathValue("id"), Force: force})
}

func (h *adminHandler) listSources(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, commands.ListSources{})
}

func (h *adminHandler) listTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.dispatch(w, r, commands.ListTools{
		SourceID:       q.Get("source_id"),
		Status:         models.ToolStatus(q.Get("status")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	})
}

func (h *adminHandler) toggleTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if strings.HasSuffix(r.URL.Path, "/enable") {
		h.dispatch(w, r, commands.EnableTool{ID: id})
		return
	}
	h.dispatch(w, r, commands.DisableTool{ID: id})
}

// executeToolRequest invokes a tool on behalf of the CLI. The agent
// token is taken from the Authorization header, not the body.
type executeToolRequest struct {
	ToolName       string         `json:"tool_name"`
	SourceID       string         `json:"source_id,omitempty"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	ValidateSchema *bool          `json:"validate_schema,omitempty"`
}

func (h *adminHandler) executeTool(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if !h.decode(w, r, &req) {
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	h.dispatch(w, r, commands.ExecuteTool{
		ToolName:       req.ToolName,
		SourceID:       req.SourceID,
		Arguments:      req.Arguments,
		AgentToken:     token,
		ValidateSchema: req.ValidateSchema,
	})
}

func (h *adminHandler) cleanupTools(w http.ResponseWriter, r *http.Request) {
	apply := r.URL.Query().Get("apply") == "true"
	h.dispatch(w, r, commands.CleanupOrphanedTools{Apply: apply})
}

type resetCircuitRequest struct {
	CircuitType string `json:"circuit_type,omitempty"`
	Key         string `json:"key,omitempty"`
}

func (h *adminHandler) resetCircuit(w http.ResponseWriter, r *http.Request) {
	var req resetCircuitRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, commands.ResetCircuit{CircuitType: req.CircuitType, Key: req.Key})
}
