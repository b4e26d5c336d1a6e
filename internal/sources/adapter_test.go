package sources

import (
	"errors"
	"net/http"
	"testing"

	"github.com/tesserahq/toolgate/pkg/models"
)

func TestDecorateRequest(t *testing.T) {
	tests := []struct {
		name  string
		auth  *models.AuthConfig
		check func(t *testing.T, req *http.Request)
	}{
		{
			name: "nil auth leaves request bare",
			auth: nil,
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "" {
					t.Errorf("Authorization = %q, want empty", got)
				}
			},
		},
		{
			name: "bearer",
			auth: &models.AuthConfig{
				Type:   models.AuthConfigBearer,
				Bearer: &models.BearerAuth{Token: "tok-123"},
			},
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "Bearer tok-123" {
					t.Errorf("Authorization = %q", got)
				}
			},
		},
		{
			name: "api key header",
			auth: &models.AuthConfig{
				Type:   models.AuthConfigAPIKey,
				APIKey: &models.APIKeyAuth{Name: "X-Api-Key", Value: "k", In: models.APIKeyInHeader},
			},
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("X-Api-Key"); got != "k" {
					t.Errorf("X-Api-Key = %q", got)
				}
			},
		},
		{
			name: "api key query",
			auth: &models.AuthConfig{
				Type:   models.AuthConfigAPIKey,
				APIKey: &models.APIKeyAuth{Name: "api_key", Value: "k", In: models.APIKeyInQuery},
			},
			check: func(t *testing.T, req *http.Request) {
				if got := req.URL.Query().Get("api_key"); got != "k" {
					t.Errorf("api_key query = %q", got)
				}
			},
		},
		{
			name: "basic",
			auth: &models.AuthConfig{
				Type:  models.AuthConfigHTTPBasic,
				Basic: &models.BasicAuth{Username: "u", Password: "p"},
			},
			check: func(t *testing.T, req *http.Request) {
				user, pass, ok := req.BasicAuth()
				if !ok || user != "u" || pass != "p" {
					t.Errorf("BasicAuth = %q/%q/%v", user, pass, ok)
				}
			},
		},
		{
			name: "oauth2 fetches anonymously",
			auth: &models.AuthConfig{
				Type:   models.AuthConfigOAuth2,
				OAuth2: &models.OAuth2Auth{TokenURL: "https://auth.example.com/token", ClientID: "c"},
			},
			check: func(t *testing.T, req *http.Request) {
				if got := req.Header.Get("Authorization"); got != "" {
					t.Errorf("Authorization = %q, want empty", got)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "https://specs.example.com/openapi.json", nil)
			if err != nil {
				t.Fatal(err)
			}
			decorateRequest(req, tt.auth)
			tt.check(t, req)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	builtin := NewBuiltinAdapter(staticCatalog{})
	reg.Register(models.SourceTypeBuiltin, builtin)

	got, ok := reg.For(models.SourceTypeBuiltin)
	if !ok {
		t.Fatal("For(builtin) not found")
	}
	if got != Adapter(builtin) {
		t.Error("For(builtin) returned a different adapter")
	}
	if _, ok := reg.For(models.SourceTypeOpenAPI); ok {
		t.Error("For(openapi) = ok, want missing")
	}
}

func TestFailed(t *testing.T) {
	result := Failed(errors.New("boom"))
	if result.Success {
		t.Error("Success = true")
	}
	if result.Error != "boom" {
		t.Errorf("Error = %q, want boom", result.Error)
	}
	if result := Failed(nil); result.Error != "" {
		t.Errorf("Error = %q, want empty", result.Error)
	}
}
