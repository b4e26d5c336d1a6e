package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tesserahq/toolgate/pkg/models"
)

// ClientCredentials issues machine-to-machine tokens: by default with
// the service's own configured triple, or per source with a triple from
// its auth config. Tokens are cached by (token_url, client_id, scopes).
type ClientCredentials struct {
	cfg    ClientCredentialsConfig
	client *http.Client
	cache  *twoTier
	logger *slog.Logger
	now    func() time.Time
}

// ClientCredentialsConfig is the default grant used when a source does
// not bring its own client.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func NewClientCredentials(cfg ClientCredentialsConfig, client *http.Client, shared SharedCache) *ClientCredentials {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := slog.Default().With("component", "client_credentials")
	return &ClientCredentials{
		cfg:    cfg,
		client: client,
		cache:  newTwoTier(shared, models.DefaultTokenBuffer, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Token issues a token with the service's default client.
func (s *ClientCredentials) Token(ctx context.Context) (*models.Token, error) {
	if s.cfg.TokenURL == "" || s.cfg.ClientID == "" {
		return nil, &models.ToolError{
			Code:    models.ErrCodeClientCredentials,
			Message: "client credentials not configured",
		}
	}
	return s.TokenFor(ctx, s.cfg.TokenURL, s.cfg.ClientID, s.cfg.ClientSecret, s.cfg.Scopes)
}

// TokenFor issues a token for an arbitrary client triple.
func (s *ClientCredentials) TokenFor(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) (*models.Token, error) {
	if tokenURL == "" || clientID == "" {
		return nil, &models.ToolError{
			Code:    models.ErrCodeClientCredentials,
			Message: "token_url and client_id are required",
		}
	}

	key := clientCredsCacheKey(tokenURL, clientID, scopes)
	return s.cache.getOrFetch(ctx, key, func(ctx context.Context) (*models.Token, error) {
		return s.request(ctx, tokenURL, clientID, clientSecret, scopes)
	})
}

// ClearCache drops cached grants; an empty clientID clears everything.
func (s *ClientCredentials) ClearCache(ctx context.Context, clientID string) int {
	if clientID == "" {
		return s.cache.clear(ctx, nil)
	}
	return s.cache.clear(ctx, func(key string) bool {
		parts := strings.SplitN(key, "|", 3)
		return len(parts) >= 2 && parts[1] == clientID
	})
}

func (s *ClientCredentials) request(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) (*models.Token, error) {
	grant := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	issued, err := grant.Token(ctx)
	if err != nil {
		return nil, classifyRetrieveError(err)
	}

	expiresAt := issued.Expiry
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(defaultExpiresIn)
	}
	scope, _ := issued.Extra("scope").(string)
	token := &models.Token{
		AccessToken: issued.AccessToken,
		TokenType:   issued.Type(),
		ExpiresAt:   expiresAt,
		Scope:       scope,
	}
	s.logger.Debug("issued client credentials token", "client_id", clientID, "expires_at", token.ExpiresAt)
	return token, nil
}

func clientCredsCacheKey(tokenURL, clientID string, scopes []string) string {
	return tokenURL + "|" + clientID + "|" + strings.Join(sortedScopes(scopes), " ")
}

// classifyRetrieveError maps the oauth2 library's failures onto the
// error taxonomy with the same retryability rules as the exchanger.
func classifyRetrieveError(err error) *models.ToolError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		retryable := status >= 500 ||
			re.ErrorCode == "temporarily_unavailable" ||
			re.ErrorCode == "server_error"

		te := &models.ToolError{
			Code:           models.ErrCodeClientCredentials,
			Message:        fmt.Sprintf("token endpoint returned status %d", status),
			Retryable:      retryable,
			UpstreamStatus: status,
			Details:        map[string]any{},
		}
		if re.ErrorCode != "" {
			te.Details["oauth_error"] = re.ErrorCode
		}
		if re.ErrorDescription != "" {
			te.Details["error_description"] = re.ErrorDescription
		}
		if len(te.Details) == 0 {
			te.Details["body"] = models.TruncateBody(string(re.Body))
		}
		return te
	}
	return &models.ToolError{
		Code:      models.ErrCodeClientCredentials,
		Message:   fmt.Sprintf("client credentials request failed: %v", err),
		Retryable: true,
	}
}
