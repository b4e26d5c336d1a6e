// Package executor carries out tool invocations: argument validation,
// the builtin short-circuit, upstream credential resolution, template
// rendering, the breaker-wrapped HTTP call, response mapping, and the
// async-poll loop. Every outcome, success or failure, leaves as a
// models.ExecuteToolResult so the wire shape stays uniform.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tesserahq/toolgate/internal/builtin"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/mcp"
	"github.com/tesserahq/toolgate/internal/render"
	"github.com/tesserahq/toolgate/internal/schema"
	"github.com/tesserahq/toolgate/internal/tokens"
	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	// DefaultTimeout bounds an upstream call when the execution profile
	// does not set one.
	DefaultTimeout = 30 * time.Second

	// maxRedirects caps redirect following on upstream calls.
	maxRedirects = 5

	// circuitType keys upstream breakers in the registry.
	circuitType = "tool_call"
)

// TokenServices groups the three credential paths the executor can
// take. Any of them may be nil when the deployment does not configure
// that path; invocations needing it then fail with a credential error.
type TokenServices struct {
	Exchanger   *tokens.Exchanger
	ClientCreds *tokens.ClientCredentials
	ExternalIdP *tokens.ExternalIdP
}

// Executor invokes tools. It is safe for concurrent use.
type Executor struct {
	validator *schema.Validator
	tokens    TokenServices
	circuits  *infra.CircuitRegistry
	client    *http.Client
	builtins  *builtin.Registry
	pool      *mcp.Pool
	logger    *slog.Logger

	defaultTimeout time.Duration
	tokenObserver  func(service, outcome string)
}

// Config tunes the executor.
type Config struct {
	DefaultTimeout time.Duration

	// TokenObserver, when set, receives one call per credential grant
	// attempt: the service ("exchange", "client_credentials",
	// "external_idp") and the outcome ("ok" or "error").
	TokenObserver func(service, outcome string)
}

// New builds an executor. The HTTP client is cloned so the redirect
// cap cannot leak into other users of the same client.
func New(validator *schema.Validator, svc TokenServices, circuits *infra.CircuitRegistry, client *http.Client, builtins *builtin.Registry, pool *mcp.Pool, cfg Config, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	bounded := *client
	bounded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		validator:      validator,
		tokens:         svc,
		circuits:       circuits,
		client:         &bounded,
		builtins:       builtins,
		pool:           pool,
		logger:         logger.With("component", "executor"),
		defaultTimeout: cfg.DefaultTimeout,
		tokenObserver:  cfg.TokenObserver,
	}
}

// Execute runs one invocation to completion. It never returns a Go
// error: failures are encoded in the result envelope.
func (e *Executor) Execute(ctx context.Context, req *Request) *models.ExecuteToolResult {
	started := time.Now()
	elapsed := func() int64 { return time.Since(started).Milliseconds() }

	if req == nil || req.Definition == nil {
		return models.FailedResult(models.NewInternalError("tool definition is required"), elapsed())
	}
	def := req.Definition

	if err := e.validator.Validate(def.InputSchema, req.args(), req.ValidateSchema); err != nil {
		return models.FailedResult(err, elapsed())
	}

	if def.IsBuiltin() {
		return e.executeBuiltin(ctx, req, elapsed)
	}
	if def.Execution.Mode == models.ModeMCPCall {
		return e.executeMCP(ctx, req, elapsed)
	}

	bearer, err := e.resolveCredential(ctx, req)
	if err != nil {
		return models.FailedResult(err, elapsed())
	}

	call, err := e.buildCall(req, bearer)
	if err != nil {
		return models.FailedResult(err, elapsed())
	}

	resp, err := e.dispatch(ctx, req.SourceID, call)
	if err != nil {
		return models.FailedResult(err, elapsed())
	}
	if resp.clientError {
		result := &models.ExecuteToolResult{
			Status: models.ExecutionFailed,
			Result: resp.value,
			Error: &models.ToolError{
				Code:           models.ErrCodeUpstream,
				Message:        fmt.Sprintf("upstream returned status %d", resp.status),
				Retryable:      false,
				UpstreamStatus: resp.status,
			},
			ExecutionTimeMs: elapsed(),
			UpstreamStatus:  resp.status,
		}
		return result
	}

	if def.Execution.Mode == models.ModeAsyncPoll && def.Execution.Poll != nil {
		return e.pollUntilDone(ctx, req, call, resp, elapsed)
	}

	result := models.CompletedResult(e.mapResponse(def, resp.value), elapsed())
	result.UpstreamStatus = resp.status
	return result
}

func (e *Executor) executeBuiltin(ctx context.Context, req *Request, elapsed func() int64) *models.ExecuteToolResult {
	user := builtin.UserFromToken(req.AgentToken)
	res := e.builtins.Execute(ctx, req.Definition.BuiltinName(), req.args(), user)
	if !res.Success {
		return &models.ExecuteToolResult{
			Status:          models.ExecutionFailed,
			Error:           &models.ToolError{Code: models.ErrCodeBuiltin, Message: res.Error},
			ExecutionTimeMs: elapsed(),
			Metadata:        res.Metadata,
		}
	}
	return &models.ExecuteToolResult{
		Status:          models.ExecutionCompleted,
		Result:          res.Result,
		ExecutionTimeMs: elapsed(),
		Metadata:        res.Metadata,
	}
}

func (e *Executor) executeMCP(ctx context.Context, req *Request, elapsed func() int64) *models.ExecuteToolResult {
	if e.pool == nil {
		return models.FailedResult(models.NewInternalError("mcp pool not configured"), elapsed())
	}
	if req.MCP == nil {
		return models.FailedResult(models.NewInternalError("mcp source configuration missing"), elapsed())
	}

	breaker := e.circuits.Get(circuitType, req.SourceID)
	result, err := infra.Do(ctx, breaker, func(ctx context.Context) (*mcp.ToolCallResult, error) {
		client, err := e.pool.Get(ctx, req.SourceID, req.MCP)
		if err != nil {
			return nil, models.NewUpstreamConnError(fmt.Sprintf("mcp connect: %v", err))
		}
		res, err := client.CallTool(ctx, mcpToolName(req.Definition), req.args())
		if err != nil {
			e.pool.Evict(req.SourceID)
			return nil, models.NewUpstreamConnError(fmt.Sprintf("mcp call: %v", err))
		}
		return res, nil
	})
	if err != nil {
		return models.FailedResult(err, elapsed())
	}
	if result.IsError {
		return models.FailedResult(&models.ToolError{
			Code:    models.ErrCodeUpstream,
			Message: models.TruncateBody(result.Text()),
		}, elapsed())
	}
	return models.CompletedResult(result.Value(), elapsed())
}

// mcpToolName recovers the server-side tool name from the source path
// fragment ("mcp://plugins/echo#say" -> "say").
func mcpToolName(def *models.ToolDefinition) string {
	if i := strings.LastIndex(def.SourcePath, "#"); i >= 0 && i+1 < len(def.SourcePath) {
		return def.SourcePath[i+1:]
	}
	return def.Name
}

// resolveCredential produces the bearer token for the request's auth
// mode. API keys and basic auth are handled during header rendering,
// not here.
func (e *Executor) resolveCredential(ctx context.Context, req *Request) (string, error) {
	switch req.AuthMode {
	case models.AuthModeNone, models.AuthModeAPIKey, models.AuthModeHTTPBasic, "":
		return "", nil

	case models.AuthModeClientCredentials:
		oauth := oauthConfig(req.AuthConfig)
		switch {
		case oauth != nil && oauth.Issuer != "":
			if e.tokens.ExternalIdP == nil {
				return "", &models.ToolError{Code: models.ErrCodeClientCredentials, Message: "external idp bridge not configured"}
			}
			tok, err := e.tokens.ExternalIdP.ClientCredentialsToken(ctx, oauth.Issuer, oauth.ClientID, oauth.ClientSecret, oauth.Scopes)
			e.observeGrant("external_idp", err)
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		case oauth != nil && oauth.TokenURL != "":
			if e.tokens.ClientCreds == nil {
				return "", &models.ToolError{Code: models.ErrCodeClientCredentials, Message: "client credentials service not configured"}
			}
			tok, err := e.tokens.ClientCreds.TokenFor(ctx, oauth.TokenURL, oauth.ClientID, oauth.ClientSecret, oauth.Scopes)
			e.observeGrant("client_credentials", err)
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		default:
			if e.tokens.ClientCreds == nil {
				return "", &models.ToolError{Code: models.ErrCodeClientCredentials, Message: "client credentials service not configured"}
			}
			tok, err := e.tokens.ClientCreds.Token(ctx)
			e.observeGrant("client_credentials", err)
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		}

	case models.AuthModeTokenExchange:
		audience := req.Definition.Execution.RequiredAudience
		if audience == "" {
			audience = req.DefaultAudience
		}
		if audience == "" {
			// No downstream audience: the agent token passes through.
			return req.AgentToken, nil
		}
		if req.AgentToken == "" {
			return "", &models.ToolError{Code: models.ErrCodeTokenExchange, Message: "token exchange requires an agent token"}
		}
		if e.tokens.Exchanger == nil {
			return "", &models.ToolError{Code: models.ErrCodeTokenExchange, Message: "token exchange service not configured"}
		}
		tok, err := e.tokens.Exchanger.Exchange(ctx, req.AgentToken, audience, req.Definition.Execution.RequiredScopes)
		e.observeGrant("exchange", err)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil

	default:
		return "", models.NewInternalError(fmt.Sprintf("unknown auth mode %q", req.AuthMode))
	}
}

func (e *Executor) observeGrant(service string, err error) {
	if e.tokenObserver == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.tokenObserver(service, outcome)
}

func oauthConfig(ac *models.AuthConfig) *models.OAuth2Auth {
	if ac == nil {
		return nil
	}
	return ac.OAuth2
}

// upstreamCall is a fully rendered HTTP invocation.
type upstreamCall struct {
	method      string
	url         string
	headers     map[string]string
	body        string
	contentType string
	timeout     time.Duration
}

// buildCall renders the URL, headers, and body and injects the
// credential material.
func (e *Executor) buildCall(req *Request, bearer string) (*upstreamCall, error) {
	profile := req.Definition.Execution
	args := req.args()

	rawURL, err := render.RenderURL(profile.URLTemplate, args)
	if err != nil {
		return nil, err
	}
	headers, err := render.RenderHeaders(profile.HeadersTemplate, args)
	if err != nil {
		return nil, err
	}

	// Credential injection. A template-declared Authorization header
	// wins over anything resolved here.
	switch req.AuthMode {
	case models.AuthModeAPIKey:
		if key := apiKeyConfig(req.AuthConfig); key != nil {
			switch key.In {
			case models.APIKeyInQuery:
				rawURL = appendQueryParam(rawURL, key.Name, key.Value)
			default:
				if _, exists := headers[key.Name]; !exists {
					headers[key.Name] = key.Value
				}
			}
		}
	case models.AuthModeHTTPBasic:
		if basic := basicConfig(req.AuthConfig); basic != nil {
			setIfAbsent(headers, "Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(basic.Username+":"+basic.Password)))
		}
	}
	if bearer != "" {
		setIfAbsent(headers, "Authorization", "Bearer "+bearer)
	}
	if static := bearerConfig(req.AuthConfig); static != nil && static.Token != "" {
		setIfAbsent(headers, "Authorization", "Bearer "+static.Token)
	}

	method := strings.ToUpper(profile.Method)
	body := ""
	if profile.BodyTemplate != "" {
		rendered, err := render.RenderBody(profile.BodyTemplate, args)
		if err != nil {
			return nil, err
		}
		body = rendered
	}
	if method == "" {
		if body != "" {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	contentType := profile.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	timeout := e.defaultTimeout
	if profile.TimeoutSeconds > 0 {
		timeout = time.Duration(profile.TimeoutSeconds) * time.Second
	}

	return &upstreamCall{
		method:      method,
		url:         rawURL,
		headers:     headers,
		body:        body,
		contentType: contentType,
		timeout:     timeout,
	}, nil
}

func apiKeyConfig(ac *models.AuthConfig) *models.APIKeyAuth {
	if ac == nil {
		return nil
	}
	return ac.APIKey
}

func basicConfig(ac *models.AuthConfig) *models.BasicAuth {
	if ac == nil {
		return nil
	}
	return ac.Basic
}

func bearerConfig(ac *models.AuthConfig) *models.BearerAuth {
	if ac == nil {
		return nil
	}
	return ac.Bearer
}

func setIfAbsent(headers map[string]string, name, value string) {
	for existing := range headers {
		if strings.EqualFold(existing, name) {
			return
		}
	}
	headers[name] = value
}

func appendQueryParam(rawURL, name, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(name) + "=" + url.QueryEscape(value)
}

// mapResponse applies the profile's response mapping, if any.
func (e *Executor) mapResponse(def *models.ToolDefinition, value any) any {
	mapping := def.Execution.ResponseMapping
	if len(mapping) == 0 {
		return value
	}
	mapped := make(map[string]any, len(mapping))
	for name, path := range mapping {
		extracted, ok := jsonpathExtract(value, path)
		if !ok {
			extracted = nil
		}
		mapped[name] = extracted
	}
	return mapped
}
