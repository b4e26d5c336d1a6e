package config

import "time"

// AuthConfig configures the credential bridge between agent tokens and
// upstream sources.
type AuthConfig struct {
	// Broker is the trusted identity provider used for RFC 8693 token
	// exchange. Unset disables the exchange path; TOKEN_EXCHANGE
	// sources without an audience still pass the agent token through.
	Broker OAuthClientConfig `yaml:"broker"`

	// ClientCredentials is the service's own default client for
	// CLIENT_CREDENTIALS sources without per-source material.
	ClientCredentials OAuthClientConfig `yaml:"client_credentials"`

	// Scopes requested on the default client-credentials grant.
	Scopes []string `yaml:"scopes"`

	// HTTPTimeout bounds token endpoint and OIDC discovery calls.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// OIDCCacheTTL bounds how long a discovery document is reused.
	OIDCCacheTTL time.Duration `yaml:"oidc_cache_ttl"`
}

// OAuthClientConfig is one OAuth2 client registration.
type OAuthClientConfig struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Configured reports whether the client carries enough material to use.
func (c *OAuthClientConfig) Configured() bool {
	return c.TokenURL != "" && c.ClientID != ""
}

func (c *AuthConfig) applyDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.OIDCCacheTTL == 0 {
		c.OIDCCacheTTL = time.Hour
	}
}

func (c *AuthConfig) validate() []string {
	var issues []string
	if c.Broker.TokenURL != "" && c.Broker.ClientID == "" {
		issues = append(issues, "auth.broker.client_id is required when auth.broker.token_url is set")
	}
	if c.ClientCredentials.TokenURL != "" && c.ClientCredentials.ClientID == "" {
		issues = append(issues, "auth.client_credentials.client_id is required when auth.client_credentials.token_url is set")
	}
	return issues
}
