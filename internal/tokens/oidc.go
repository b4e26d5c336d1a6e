package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

// DefaultDiscoveryTTL is how long a discovery document is trusted.
const DefaultDiscoveryTTL = time.Hour

const discoveryPath = "/.well-known/openid-configuration"

// DiscoveryDocument is the subset of the OIDC metadata the gateway
// consumes.
type DiscoveryDocument struct {
	Issuer              string   `json:"issuer"`
	TokenEndpoint       string   `json:"token_endpoint"`
	JWKSURI             string   `json:"jwks_uri"`
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`
}

// Advertises reports whether the issuer lists the grant type. An empty
// list counts as not advertised; callers warn and proceed either way.
func (d *DiscoveryDocument) Advertises(grant string) bool {
	for _, g := range d.GrantTypesSupported {
		if g == grant {
			return true
		}
	}
	return false
}

type oidcEntry struct {
	doc       DiscoveryDocument
	fetchedAt time.Time
}

// OIDCCache fetches and caches discovery documents per issuer. Entries
// expire after ttl and are evicted lazily on access.
type OIDCCache struct {
	mu      sync.Mutex
	entries map[string]oidcEntry
	ttl     time.Duration
	client  *http.Client
	now     func() time.Time
	logger  *slog.Logger
}

func NewOIDCCache(client *http.Client, ttl time.Duration) *OIDCCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &OIDCCache{
		entries: map[string]oidcEntry{},
		ttl:     ttl,
		client:  client,
		now:     time.Now,
		logger:  slog.Default().With("component", "oidc_discovery"),
	}
}

// Discover returns the discovery document for issuer, fetching it when
// the cache has no fresh copy. Concurrent misses may fetch twice; the
// document is idempotent so last write wins.
func (c *OIDCCache) Discover(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	normalized := normalizeIssuer(issuer)
	if normalized == "" {
		return nil, discoveryError(issuer, "issuer is empty", false)
	}

	c.mu.Lock()
	if entry, ok := c.entries[normalized]; ok {
		if c.now().Before(entry.fetchedAt.Add(c.ttl)) {
			doc := entry.doc
			c.mu.Unlock()
			return &doc, nil
		}
		delete(c.entries, normalized)
	}
	c.mu.Unlock()

	doc, err := c.fetch(ctx, normalized)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[normalized] = oidcEntry{doc: *doc, fetchedAt: c.now()}
	c.mu.Unlock()

	c.logger.Debug("discovered issuer", "issuer", normalized, "token_endpoint", doc.TokenEndpoint)
	return doc, nil
}

// TokenEndpoint is a convenience projection over Discover.
func (c *OIDCCache) TokenEndpoint(ctx context.Context, issuer string) (string, error) {
	doc, err := c.Discover(ctx, issuer)
	if err != nil {
		return "", err
	}
	return doc.TokenEndpoint, nil
}

// JWKSURI is a convenience projection over Discover.
func (c *OIDCCache) JWKSURI(ctx context.Context, issuer string) (string, error) {
	doc, err := c.Discover(ctx, issuer)
	if err != nil {
		return "", err
	}
	return doc.JWKSURI, nil
}

// ClearCache drops the entry for issuer, or every entry when issuer is
// empty.
func (c *OIDCCache) ClearCache(issuer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if issuer == "" {
		c.entries = map[string]oidcEntry{}
		return
	}
	delete(c.entries, normalizeIssuer(issuer))
}

func (c *OIDCCache) fetch(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+discoveryPath, nil)
	if err != nil {
		return nil, discoveryError(issuer, fmt.Sprintf("build discovery request: %v", err), false)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, discoveryError(issuer, fmt.Sprintf("discovery request failed: %v", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		return nil, discoveryError(issuer, fmt.Sprintf("discovery endpoint returned status %d", resp.StatusCode), retryable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, discoveryError(issuer, fmt.Sprintf("read discovery response: %v", err), true)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, discoveryError(issuer, fmt.Sprintf("invalid discovery document: %v", err), false)
	}

	var missing []string
	if doc.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if doc.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if doc.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return nil, discoveryError(issuer, "discovery document missing required fields", false).
			WithDetail("missing_fields", missing)
	}
	return &doc, nil
}

func normalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

func discoveryError(issuer, msg string, retryable bool) *models.ToolError {
	return &models.ToolError{
		Code:      models.ErrCodeOIDCDiscovery,
		Message:   msg,
		Retryable: retryable,
		Details:   map[string]any{"issuer": issuer},
	}
}
