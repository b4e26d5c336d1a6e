package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

func clientCredsServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "m2m-token",
			"token_type":   "Bearer",
			"expires_in":   600,
		})
	}))
}

func TestClientCredentials_DefaultClient(t *testing.T) {
	var hits int32
	server := clientCredsServer(t, &hits)
	defer server.Close()

	svc := NewClientCredentials(ClientCredentialsConfig{
		TokenURL:     server.URL,
		ClientID:     "gateway",
		ClientSecret: "s3cret",
		Scopes:       []string{"read"},
	}, server.Client(), nil)

	token, err := svc.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken != "m2m-token" {
		t.Errorf("AccessToken = %q", token.AccessToken)
	}
	until := time.Until(token.ExpiresAt)
	if until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("expiry %v out, want ~10m", until)
	}

	// Cached on the second call.
	if _, err := svc.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
}

func TestClientCredentials_PerSourceClientsCacheSeparately(t *testing.T) {
	var hits int32
	server := clientCredsServer(t, &hits)
	defer server.Close()

	svc := NewClientCredentials(ClientCredentialsConfig{}, server.Client(), nil)
	ctx := context.Background()

	if _, err := svc.TokenFor(ctx, server.URL, "client-a", "sa", nil); err != nil {
		t.Fatalf("TokenFor(a) error = %v", err)
	}
	if _, err := svc.TokenFor(ctx, server.URL, "client-b", "sb", nil); err != nil {
		t.Fatalf("TokenFor(b) error = %v", err)
	}
	if _, err := svc.TokenFor(ctx, server.URL, "client-a", "sa", nil); err != nil {
		t.Fatalf("TokenFor(a) error = %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("token endpoint hits = %d, want 2 (one per client)", got)
	}
}

func TestClientCredentials_NotConfigured(t *testing.T) {
	svc := NewClientCredentials(ClientCredentialsConfig{}, nil, nil)
	_, err := svc.Token(context.Background())
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeClientCredentials || te.Retryable {
		t.Errorf("Token() error = %v, want non-retryable client_credentials failure", err)
	}
}

func TestClientCredentials_OAuthErrorMapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_client",
			"error_description": "unknown client",
		})
	}))
	defer server.Close()

	svc := NewClientCredentials(ClientCredentialsConfig{
		TokenURL: server.URL,
		ClientID: "nope",
	}, server.Client(), nil)

	_, err := svc.Token(context.Background())
	if err == nil {
		t.Fatal("Token() expected error")
	}
	te, ok := models.AsToolError(err)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if te.Code != models.ErrCodeClientCredentials {
		t.Errorf("Code = %v", te.Code)
	}
	if te.Retryable {
		t.Error("invalid_client must not be retryable")
	}
	if te.UpstreamStatus != http.StatusUnauthorized {
		t.Errorf("UpstreamStatus = %d", te.UpstreamStatus)
	}
	if te.Details["oauth_error"] != "invalid_client" {
		t.Errorf("oauth_error = %v", te.Details["oauth_error"])
	}
}

func TestClientCredentials_ServerErrorRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewClientCredentials(ClientCredentialsConfig{TokenURL: server.URL, ClientID: "c"}, server.Client(), nil)
	_, err := svc.Token(context.Background())
	te, _ := models.AsToolError(err)
	if te == nil || !te.Retryable {
		t.Errorf("5xx should be retryable, got %v", err)
	}
}

func TestClientCredentials_ClearCacheByClientID(t *testing.T) {
	var hits int32
	server := clientCredsServer(t, &hits)
	defer server.Close()

	svc := NewClientCredentials(ClientCredentialsConfig{}, server.Client(), nil)
	ctx := context.Background()

	if _, err := svc.TokenFor(ctx, server.URL, "client-a", "sa", nil); err != nil {
		t.Fatalf("TokenFor(a) error = %v", err)
	}
	if _, err := svc.TokenFor(ctx, server.URL, "client-b", "sb", nil); err != nil {
		t.Fatalf("TokenFor(b) error = %v", err)
	}

	if dropped := svc.ClearCache(ctx, "client-a"); dropped != 1 {
		t.Errorf("ClearCache(client-a) = %d, want 1", dropped)
	}

	// a refetches, b still cached.
	if _, err := svc.TokenFor(ctx, server.URL, "client-a", "sa", nil); err != nil {
		t.Fatalf("TokenFor(a) error = %v", err)
	}
	if _, err := svc.TokenFor(ctx, server.URL, "client-b", "sb", nil); err != nil {
		t.Fatalf("TokenFor(b) error = %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("token endpoint hits = %d, want 3", got)
	}

	if dropped := svc.ClearCache(ctx, ""); dropped != 2 {
		t.Errorf("ClearCache(\"\") = %d, want 2", dropped)
	}
}
