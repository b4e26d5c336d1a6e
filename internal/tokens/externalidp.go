package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

// ExternalIdP bridges to issuers other than the trusted IdP: the token
// endpoint comes from OIDC discovery and calls bypass the trusted-IdP
// circuit. Client-credentials and exchange grants cache independently.
type ExternalIdP struct {
	oidc    *OIDCCache
	client  *http.Client
	ccCache *twoTier
	exCache *twoTier
	logger  *slog.Logger
	now     func() time.Time
}

func NewExternalIdP(oidc *OIDCCache, client *http.Client, shared SharedCache) *ExternalIdP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := slog.Default().With("component", "external_idp")
	return &ExternalIdP{
		oidc:    oidc,
		client:  client,
		ccCache: newTwoTier(shared, models.DefaultTokenBuffer, logger),
		exCache: newTwoTier(shared, models.DefaultTokenBuffer, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// ClientCredentialsToken issues a client-credentials token at the
// external issuer. Cache key: issuer | client_id | scopes.
func (p *ExternalIdP) ClientCredentialsToken(ctx context.Context, issuer, clientID, clientSecret string, scopes []string) (*models.Token, error) {
	doc, err := p.oidc.Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	p.warnUnadvertised(doc, issuer, "client_credentials")

	key := strings.Join([]string{
		normalizeIssuer(issuer),
		clientID,
		strings.Join(sortedScopes(scopes), " "),
	}, "|")

	return p.ccCache.getOrFetch(ctx, key, func(ctx context.Context) (*models.Token, error) {
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}
		if len(scopes) > 0 {
			form.Set("scope", strings.Join(scopes, " "))
		}
		return postTokenForm(ctx, p.client, doc.TokenEndpoint, form, models.ErrCodeClientCredentials, p.now)
	})
}

// ExchangeToken performs RFC 8693 exchange at the external issuer.
// Cache key: issuer | client_id | hash(subject)[:16] | audience.
func (p *ExternalIdP) ExchangeToken(ctx context.Context, issuer, clientID, clientSecret, subjectToken, audience string, scopes []string) (*models.Token, error) {
	if strings.TrimSpace(subjectToken) == "" {
		return nil, &models.ToolError{
			Code:    models.ErrCodeTokenExchange,
			Message: "subject token is empty",
		}
	}

	doc, err := p.oidc.Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	p.warnUnadvertised(doc, issuer, GrantTokenExchange)

	sum := sha256.Sum256([]byte(subjectToken))
	key := strings.Join([]string{
		normalizeIssuer(issuer),
		clientID,
		hex.EncodeToString(sum[:])[:16],
		audience,
	}, "|")

	return p.exCache.getOrFetch(ctx, key, func(ctx context.Context) (*models.Token, error) {
		form := url.Values{
			"grant_type":           {GrantTokenExchange},
			"subject_token":        {subjectToken},
			"subject_token_type":   {tokenTypeAccess},
			"requested_token_type": {tokenTypeAccess},
			"client_id":            {clientID},
			"client_secret":        {clientSecret},
		}
		if audience != "" {
			form.Set("audience", audience)
		}
		if len(scopes) > 0 {
			form.Set("scope", strings.Join(scopes, " "))
		}
		return postTokenForm(ctx, p.client, doc.TokenEndpoint, form, models.ErrCodeTokenExchange, p.now)
	})
}

// ClearCache drops both grant caches for targeted re-issue after an IdP
// change.
func (p *ExternalIdP) ClearCache(ctx context.Context) int {
	return p.ccCache.clear(ctx, nil) + p.exCache.clear(ctx, nil)
}

// warnUnadvertised logs when the issuer's metadata does not list the
// grant; the request proceeds regardless since many IdPs leave
// grant_types_supported incomplete.
func (p *ExternalIdP) warnUnadvertised(doc *DiscoveryDocument, issuer, grant string) {
	if doc.Advertises(grant) {
		return
	}
	p.logger.Warn("issuer does not advertise grant type",
		"issuer", normalizeIssuer(issuer),
		"grant", grant)
}
