package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tesserahq/toolgate/pkg/models"
)

// ToolsChangedFunc is invoked when a pooled server announces that its
// tool list changed, so the inventory can schedule a refresh.
type ToolsChangedFunc func(sourceID string)

// Pool keeps one live client per singleton-lifecycle MCP source. The
// source adapter parks connections here after ingest and the executor
// reuses them for tool calls. Transient sources never enter the pool.
type Pool struct {
	mu       sync.Mutex
	clients  map[string]*Client
	onChange ToolsChangedFunc
	logger   *slog.Logger
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		logger:  slog.Default().With("component", "mcp_pool"),
	}
}

// OnToolsChanged registers the refresh trigger. Set it before the
// first Get; it applies to connections opened afterwards.
func (p *Pool) OnToolsChanged(fn ToolsChangedFunc) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Get returns the pooled client for a source, dialing a new connection
// when none is live. A stale (disconnected) entry is replaced.
func (p *Pool) Get(ctx context.Context, sourceID string, mc *models.MCPConfig) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[sourceID]; ok {
		if client.Connected() {
			return client, nil
		}
		client.Close()
		delete(p.clients, sourceID)
		p.logger.Info("replacing stale MCP connection", "source_id", sourceID)
	}

	client, err := Dial(ctx, sourceID, mc)
	if err != nil {
		return nil, err
	}

	p.clients[sourceID] = client
	if p.onChange != nil {
		go p.watch(sourceID, client, p.onChange)
	}
	return client, nil
}

// Put parks an already-connected client (from a singleton ingest) so
// later executions reuse it. An existing live entry wins and the
// offered client is closed.
func (p *Pool) Put(sourceID string, client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.clients[sourceID]; ok && existing.Connected() {
		if existing != client {
			client.Close()
		}
		return
	}

	p.clients[sourceID] = client
	if p.onChange != nil {
		go p.watch(sourceID, client, p.onChange)
	}
}

// Evict closes and removes a source's connection. Used when a source
// is deleted or its mcp_config changes.
func (p *Pool) Evict(sourceID string) {
	p.mu.Lock()
	client, ok := p.clients[sourceID]
	if ok {
		delete(p.clients, sourceID)
	}
	p.mu.Unlock()

	if ok {
		if err := client.Close(); err != nil {
			p.logger.Warn("failed to close MCP client", "source_id", sourceID, "error", err)
		}
		p.logger.Info("evicted MCP connection", "source_id", sourceID)
	}
}

// CloseAll tears down every pooled connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for id, client := range clients {
		if err := client.Close(); err != nil {
			p.logger.Warn("failed to close MCP client", "source_id", id, "error", err)
		}
	}
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// watch forwards tools/list_changed notifications until the client's
// event channel closes or the notification stream ends.
func (p *Pool) watch(sourceID string, client *Client, onChange ToolsChangedFunc) {
	for notif := range client.Events() {
		if notif == nil {
			continue
		}
		if notif.Method == "notifications/tools/list_changed" {
			p.logger.Info("MCP server reported tool list change", "source_id", sourceID)
			onChange(sourceID)
		}
	}
}

// Dial resolves a source's mcp_config and connects a client. The
// caller owns the returned connection; transient ingests close it,
// singleton ingests park it in the pool.
func Dial(ctx context.Context, sourceID string, mc *models.MCPConfig) (*Client, error) {
	cfg, err := ServerConfigFromSource(sourceID, mc)
	if err != nil {
		return nil, err
	}

	client := NewClient(cfg, nil)
	if err := client.Connect(ctx); err != nil {
		return nil, models.NewUpstreamConnError(fmt.Sprintf("mcp connect %s: %v", Endpoint(mc), err))
	}
	return client, nil
}
