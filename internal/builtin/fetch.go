package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	defaultFetchMaxBytes = int64(2 << 20)
	defaultFetchTimeout  = 15 * time.Second
)

// fetchTool performs bounded HTTP GETs. Text and JSON bodies come back
// inline; binary bodies are saved to the user workspace and returned
// as a download reference.
type fetchTool struct {
	client   *http.Client
	ws       *workspace.Manager
	maxBytes int64
	timeout  time.Duration
}

func newFetchTool(client *http.Client, ws *workspace.Manager, maxBytes int64, timeout time.Duration) *fetchTool {
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &fetchTool{client: client, ws: ws, maxBytes: maxBytes, timeout: timeout}
}

func (t *fetchTool) Name() string { return "web_fetch" }

func (t *fetchTool) Description() string {
	return "Fetch a URL over HTTP GET. Returns JSON or text inline; binary responses are saved to the workspace and returned as a download reference."
}

func (t *fetchTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"url":     prop("string", "The http(s) URL to fetch."),
		"headers": map[string]any{"type": "object", "description": "Optional request headers."},
	}, "url")
}

func (t *fetchTool) Execute(ctx context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	rawURL, ok := stringArg(args, "url")
	if !ok || strings.TrimSpace(rawURL) == "" {
		return failf("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return failf("url must be http or https")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failf("build request: %v", err)
	}
	req.Header.Set("User-Agent", "toolgate-fetch/1.0")
	if hdrs, ok := args["headers"].(map[string]any); ok {
		for name, value := range hdrs {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failf("fetch timed out after %s", t.timeout)
		}
		return failf("fetch %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return failf("read response: %v", err)
	}
	truncated := false
	if int64(len(body)) > t.maxBytes {
		body = body[:t.maxBytes]
		truncated = true
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}

	meta := map[string]any{
		"status":       resp.StatusCode,
		"content_type": contentType,
		"bytes":        len(body),
	}
	if truncated {
		meta["truncated"] = true
	}

	switch {
	case strings.Contains(mediaType, "json"):
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			return &models.BuiltinToolResult{Success: true, Result: decoded, Metadata: meta}
		}
		return &models.BuiltinToolResult{Success: true, Result: string(body), Metadata: meta}
	case isTextMediaType(mediaType):
		return &models.BuiltinToolResult{Success: true, Result: string(body), Metadata: meta}
	default:
		name, err := t.ws.SaveDownload(user.scope(), path.Base(parsed.Path), body)
		if err != nil {
			return failf("save download: %v", err)
		}
		meta["saved_as"] = name
		return &models.BuiltinToolResult{
			Success:  true,
			Result:   fmt.Sprintf("binary response saved to workspace file %q", name),
			Metadata: meta,
		}
	}
}

func isTextMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/xml", "application/xhtml+xml", "application/javascript",
		"application/x-www-form-urlencoded", "application/yaml":
		return true
	}
	return strings.HasSuffix(mediaType, "+xml") || strings.HasSuffix(mediaType, "+json")
}
