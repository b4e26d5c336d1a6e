package models

import "time"

// DefaultTokenBuffer is subtracted from token lifetimes everywhere an
// expiry decision is made, so a token is refreshed before it actually
// lapses mid-request.
const DefaultTokenBuffer = 60 * time.Second

// Token is a cached upstream credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scope       string    `json:"scope,omitempty"`
}

// Expired reports whether the token should be treated as unusable:
// now + buffer >= expires_at.
func (t Token) Expired(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(t.ExpiresAt)
}

// String keeps the raw credential out of logs.
func (t Token) String() string {
	return "token(" + t.TokenType + ", expires " + t.ExpiresAt.UTC().Format(time.RFC3339) + ")"
}
