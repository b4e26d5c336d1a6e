package builtin

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserContext scopes builtin side effects (workspace files, memory
// keys) to the requesting user.
type UserContext struct {
	ID          string
	DisplayName string
	Email       string
}

// Anonymous reports whether no user identity is available.
func (u UserContext) Anonymous() bool { return u.ID == "" }

// scope returns the id used for per-user storage buckets. Anonymous
// callers share one bucket rather than failing every file tool.
func (u UserContext) scope() string {
	if u.ID == "" {
		return "anonymous"
	}
	return u.ID
}

// UserFromToken extracts the user identity from an agent JWT without
// verifying the signature. The edge has already verified the token;
// only the identity claims matter here, so a malformed token degrades
// to an anonymous context instead of failing the call.
func UserFromToken(raw string) UserContext {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UserContext{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return UserContext{}
	}
	var uc UserContext
	if sub, ok := claims["sub"].(string); ok {
		uc.ID = sub
	}
	for _, key := range []string{"name", "preferred_username", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			uc.DisplayName = v
			break
		}
	}
	if email, ok := claims["email"].(string); ok {
		uc.Email = email
	}
	return uc
}
