package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/pkg/models"
)

// RFC 8693 constants.
const (
	GrantTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccess    = "urn:ietf:params:oauth:token-type:access_token"
)

// Exchanger trades an agent's subject token for an audience-scoped
// upstream token at the trusted IdP. All calls run inside the shared
// token_exchange circuit.
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	cache        *twoTier
	breaker      *infra.CircuitBreaker
	logger       *slog.Logger
	now          func() time.Time
}

// ExchangerConfig carries the trusted IdP's token endpoint and the
// exchange client's own credentials.
type ExchangerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

func NewExchanger(cfg ExchangerConfig, client *http.Client, shared SharedCache, circuits *infra.CircuitRegistry) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := slog.Default().With("component", "token_exchange")
	return &Exchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		cache:        newTwoTier(shared, models.DefaultTokenBuffer, logger),
		breaker:      circuits.Get("token_exchange", "keycloak"),
		logger:       logger,
		now:          time.Now,
	}
}

// Exchange returns an upstream token for (subjectToken, audience,
// scopes), served from cache while fresh. The subject token never
// appears in the cache key, only its hash prefix.
func (e *Exchanger) Exchange(ctx context.Context, subjectToken, audience string, scopes []string) (*models.Token, error) {
	if strings.TrimSpace(subjectToken) == "" {
		return nil, &models.ToolError{
			Code:    models.ErrCodeTokenExchange,
			Message: "subject token is empty",
		}
	}
	if e.tokenURL == "" {
		return nil, &models.ToolError{
			Code:    models.ErrCodeTokenExchange,
			Message: "token exchange endpoint not configured",
		}
	}

	key := exchangeCacheKey(subjectToken, audience, scopes)
	return e.cache.getOrFetch(ctx, key, func(ctx context.Context) (*models.Token, error) {
		return infra.Do(ctx, e.breaker, func(ctx context.Context) (*models.Token, error) {
			return e.request(ctx, subjectToken, audience, scopes)
		})
	})
}

// ClearCache drops every cached exchange grant.
func (e *Exchanger) ClearCache(ctx context.Context) int {
	return e.cache.clear(ctx, nil)
}

func (e *Exchanger) request(ctx context.Context, subjectToken, audience string, scopes []string) (*models.Token, error) {
	form := url.Values{
		"grant_type":           {GrantTokenExchange},
		"subject_token":        {subjectToken},
		"subject_token_type":   {tokenTypeAccess},
		"requested_token_type": {tokenTypeAccess},
		"client_id":            {e.clientID},
		"client_secret":        {e.clientSecret},
	}
	if audience != "" {
		form.Set("audience", audience)
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	token, err := postTokenForm(ctx, e.client, e.tokenURL, form, models.ErrCodeTokenExchange, e.now)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("exchanged subject token", "audience", audience, "expires_at", token.ExpiresAt)
	return token, nil
}

// exchangeCacheKey is hash(subject)[:16] | audience | sorted scopes.
func exchangeCacheKey(subjectToken, audience string, scopes []string) string {
	sum := sha256.Sum256([]byte(subjectToken))
	return hex.EncodeToString(sum[:])[:16] + "|" + audience + "|" + strings.Join(sortedScopes(scopes), " ")
}

func sortedScopes(scopes []string) []string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return sorted
}

// postTokenForm submits an OAuth2 form grant and normalizes the
// response into a Token. Classification: network failures and 5xx are
// retryable, as are the soft OAuth error codes; everything else is
// terminal.
func postTokenForm(ctx context.Context, client *http.Client, tokenURL string, form url.Values, code models.ErrorCode, now func() time.Time) (*models.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &models.ToolError{Code: code, Message: fmt.Sprintf("build token request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &models.ToolError{
			Code:      code,
			Message:   fmt.Sprintf("token request failed: %v", err),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.ToolError{
			Code:      code,
			Message:   fmt.Sprintf("read token response: %v", err),
			Retryable: true,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyOAuthFailure(code, resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &models.ToolError{Code: code, Message: fmt.Sprintf("invalid token response: %v", err)}
	}
	if payload.AccessToken == "" {
		return nil, &models.ToolError{Code: code, Message: "token response missing access_token"}
	}

	expiresIn := time.Duration(payload.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tokenType := payload.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &models.Token{
		AccessToken: payload.AccessToken,
		TokenType:   tokenType,
		ExpiresAt:   now().Add(expiresIn),
		Scope:       payload.Scope,
	}, nil
}

func classifyOAuthFailure(code models.ErrorCode, status int, body []byte) *models.ToolError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)

	retryable := status >= 500 ||
		payload.Error == "temporarily_unavailable" ||
		payload.Error == "server_error"

	te := &models.ToolError{
		Code:           code,
		Message:        fmt.Sprintf("token endpoint returned status %d", status),
		Retryable:      retryable,
		UpstreamStatus: status,
		Details:        map[string]any{},
	}
	if payload.Error != "" {
		te.Details["oauth_error"] = payload.Error
	}
	if payload.ErrorDescription != "" {
		te.Details["error_description"] = payload.ErrorDescription
	}
	if len(te.Details) == 0 {
		te.Details["body"] = models.TruncateBody(string(body))
	}
	return te
}
