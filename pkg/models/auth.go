package models

// AuthConfigType tags the variant carried by an AuthConfig.
type AuthConfigType string

const (
	AuthConfigBearer    AuthConfigType = "bearer"
	AuthConfigAPIKey    AuthConfigType = "api_key"
	AuthConfigHTTPBasic AuthConfigType = "http_basic"
	AuthConfigOAuth2    AuthConfigType = "oauth2"
)

// APIKeyLocation says where an API key is injected on the request.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
)

// AuthConfig is the credential material for a source. It lives in the
// secrets store keyed by source id; the persisted SourceAggregate only
// records the auth_mode tag. Exactly one variant field is set.
type AuthConfig struct {
	Type   AuthConfigType `json:"type"`
	Bearer *BearerAuth    `json:"bearer,omitempty"`
	APIKey *APIKeyAuth    `json:"api_key,omitempty"`
	Basic  *BasicAuth     `json:"http_basic,omitempty"`
	OAuth2 *OAuth2Auth    `json:"oauth2,omitempty"`
}

// String keeps credential material out of logs and formatted errors.
func (a *AuthConfig) String() string {
	if a == nil {
		return "authconfig(nil)"
	}
	return "authconfig(" + string(a.Type) + ")"
}

// BearerAuth carries a static bearer token.
type BearerAuth struct {
	Token string `json:"token"`
}

// APIKeyAuth injects a named key into a header or query parameter.
type APIKeyAuth struct {
	Name  string         `json:"name"`
	Value string         `json:"value"`
	In    APIKeyLocation `json:"in"`
}

// BasicAuth carries HTTP basic credentials.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuth2Auth carries per-source client material. When Issuer is set
// the source lives behind an external identity provider: the token
// endpoint comes from OIDC discovery instead of TokenURL.
type OAuth2Auth struct {
	Issuer       string   `json:"issuer,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
	Audience     string   `json:"audience,omitempty"`
}
