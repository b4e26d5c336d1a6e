package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tesserahq/toolgate/internal/workspace"
)

func testWorkspace(t *testing.T) *workspace.Manager {
	t.Helper()
	return workspace.NewManager(workspace.Config{Root: t.TempDir()})
}

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok", "n": 3}`))
	}))
	defer srv.Close()

	tool := newFetchTool(srv.Client(), testWorkspace(t), 0, 0)
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL}, UserContext{})
	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	body, ok := res.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want decoded JSON map", res.Result)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if res.Metadata["status"] != http.StatusOK {
		t.Errorf("metadata status = %v", res.Metadata["status"])
	}
}

func TestFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("plain body"))
	}))
	defer srv.Close()

	tool := newFetchTool(srv.Client(), testWorkspace(t), 0, 0)
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL}, UserContext{})
	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	if res.Result != "plain body" {
		t.Errorf("result = %v", res.Result)
	}
}

func TestFetchBinarySavesDownload(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	ws := testWorkspace(t)
	tool := newFetchTool(srv.Client(), ws, 0, 0)
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/logo.png"}, UserContext{ID: "user-1"})
	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	saved, ok := res.Metadata["saved_as"].(string)
	if !ok || saved == "" {
		t.Fatalf("saved_as missing: %v", res.Metadata)
	}
	if !strings.HasSuffix(saved, ".png") {
		t.Errorf("saved name = %q, want .png suffix", saved)
	}
	dir, err := ws.UserDir("user-1")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, saved))
	if err != nil {
		t.Fatalf("read saved download: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("saved bytes differ from the response body")
	}
}

func TestFetchTruncatesLargeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	tool := newFetchTool(srv.Client(), testWorkspace(t), 10, 0)
	res := tool.Execute(context.Background(), map[string]any{"url": srv.URL}, UserContext{})
	if !res.Success {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	if got := res.Result.(string); len(got) != 10 {
		t.Errorf("body length = %d, want 10", len(got))
	}
	if res.Metadata["truncated"] != true {
		t.Error("truncated flag not set")
	}
}

func TestFetchRejectsBadURL(t *testing.T) {
	tool := newFetchTool(http.DefaultClient, testWorkspace(t), 0, 0)

	for _, raw := range []string{"", "ftp://example.com/file", "not a url at all://"} {
		res := tool.Execute(context.Background(), map[string]any{"url": raw}, UserContext{})
		if res.Success {
			t.Errorf("fetch(%q) succeeded, want failure", raw)
		}
	}
}
