package mcp

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

func poolSource(server *httptest.Server) *models.MCPConfig {
	return &models.MCPConfig{
		ServerURL: server.URL,
		Lifecycle: models.LifecycleSingleton,
	}
}

func TestPoolGetReuses(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()
	ctx := context.Background()

	first, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if first != second {
		t.Error("expected the same pooled client")
	}
	if got := atomic.LoadInt32(&fake.initializes); got != 1 {
		t.Errorf("initialize calls = %d, want 1", got)
	}
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}
}

func TestPoolGetSeparatesSources(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()
	ctx := context.Background()

	a, err := pool.Get(ctx, "src-a", poolSource(server))
	if err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	b, err := pool.Get(ctx, "src-b", poolSource(server))
	if err != nil {
		t.Fatalf("Get(b) error = %v", err)
	}

	if a == b {
		t.Error("expected distinct clients per source")
	}
	if pool.Size() != 2 {
		t.Errorf("Size() = %d, want 2", pool.Size())
	}
}

func TestPoolEvict(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()
	ctx := context.Background()

	client, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	pool.Evict("src-1")

	if client.Connected() {
		t.Error("expected evicted client to be closed")
	}
	if pool.Size() != 0 {
		t.Errorf("Size() = %d, want 0", pool.Size())
	}

	// A fresh Get dials again.
	if _, err := pool.Get(ctx, "src-1", poolSource(server)); err != nil {
		t.Fatalf("Get() after evict error = %v", err)
	}
	if got := atomic.LoadInt32(&fake.initializes); got != 2 {
		t.Errorf("initialize calls = %d, want 2", got)
	}
}

func TestPoolPut(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()
	ctx := context.Background()

	client, err := Dial(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	pool.Put("src-1", client)

	got, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != client {
		t.Error("expected Get to return the parked client")
	}
	if hits := atomic.LoadInt32(&fake.initializes); hits != 1 {
		t.Errorf("initialize calls = %d, want 1", hits)
	}
}

func TestPoolPutKeepsLiveEntry(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()
	ctx := context.Background()

	existing, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	offered, err := Dial(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	pool.Put("src-1", offered)

	if offered.Connected() {
		t.Error("expected the losing client to be closed")
	}
	got, err := pool.Get(ctx, "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != existing {
		t.Error("expected the original client to remain pooled")
	}
}

func TestPoolCloseAll(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	ctx := context.Background()

	a, _ := pool.Get(ctx, "src-a", poolSource(server))
	b, _ := pool.Get(ctx, "src-b", poolSource(server))

	pool.CloseAll()

	if a != nil && a.Connected() {
		t.Error("expected src-a closed")
	}
	if b != nil && b.Connected() {
		t.Error("expected src-b closed")
	}
	if pool.Size() != 0 {
		t.Errorf("Size() = %d, want 0", pool.Size())
	}
}

func TestDialInvalidConfig(t *testing.T) {
	_, err := Dial(context.Background(), "src", &models.MCPConfig{})
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeValidation {
		t.Errorf("Dial() error = %v, want validation failure", err)
	}
}

func TestDialConnectFailure(t *testing.T) {
	// Closed server: the HTTP transport reports ready but the
	// initialize call fails, which Dial maps to a connection error.
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	url := server.URL
	server.Close()

	_, err := Dial(context.Background(), "src", &models.MCPConfig{ServerURL: url})
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeUpstreamConn {
		t.Fatalf("Dial() error = %v, want upstream connection failure", err)
	}
	if !te.Retryable {
		t.Error("connection failures should be retryable")
	}
}

func TestPoolToolsChangedCallback(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	pool := NewPool()
	defer pool.CloseAll()

	changed := make(chan string, 1)
	pool.OnToolsChanged(func(sourceID string) {
		select {
		case changed <- sourceID:
		default:
		}
	})

	client, err := pool.Get(context.Background(), "src-1", poolSource(server))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Inject the notification the way a transport would deliver it.
	events := client.transport.(*HTTPTransport).events
	events <- &JSONRPCNotification{JSONRPC: "2.0", Method: "notifications/tools/list_changed"}

	select {
	case sourceID := <-changed:
		if sourceID != "src-1" {
			t.Errorf("callback source = %q, want src-1", sourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tools-changed callback")
	}
}
