package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/jsonpath"
	"github.com/tesserahq/toolgate/pkg/models"
)

// maxResponseBytes caps upstream bodies read into memory.
const maxResponseBytes = int64(10 << 20)

// upstreamResponse is a parsed upstream reply. clientError marks 4xx:
// the body surfaces to the agent as a result, and the breaker does not
// count it as an upstream failure.
type upstreamResponse struct {
	status      int
	value       any
	clientError bool
}

// dispatch runs the call through the source's circuit breaker and
// classifies the outcome. 5xx, timeouts, and connection failures
// return as retryable errors (and trip the breaker); 2xx and 4xx
// return as responses.
func (e *Executor) dispatch(ctx context.Context, sourceID string, call *upstreamCall) (*upstreamResponse, error) {
	key := sourceID
	if key == "" {
		key = hostOf(call.url)
	}
	breaker := e.circuits.Get(circuitType, key)

	return infra.Do(ctx, breaker, func(ctx context.Context) (*upstreamResponse, error) {
		return e.doHTTP(ctx, call)
	})
}

func (e *Executor) doHTTP(ctx context.Context, call *upstreamCall) (*upstreamResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	var body io.Reader
	if call.body != "" {
		body = strings.NewReader(call.body)
	}
	req, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
	if err != nil {
		return nil, models.NewInternalError(fmt.Sprintf("build request: %v", err))
	}
	for name, value := range call.headers {
		req.Header.Set(name, value)
	}
	if call.body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", call.contentType)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() == context.DeadlineExceeded) {
			return nil, models.NewUpstreamTimeout(fmt.Sprintf("upstream call timed out after %s", call.timeout))
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, models.NewUpstreamConnError(sanitizeTransportError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.NewUpstreamConnError(fmt.Sprintf("read upstream response: %v", err))
	}

	value := parseBody(resp.Header.Get("Content-Type"), raw)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &upstreamResponse{status: resp.StatusCode, value: value}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &upstreamResponse{status: resp.StatusCode, value: value, clientError: true}, nil
	default:
		return nil, models.NewUpstreamError(resp.StatusCode, string(raw))
	}
}

// parseBody decodes JSON bodies and leaves everything else as text.
func parseBody(contentType string, raw []byte) any {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}
	if strings.Contains(mediaType, "json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

// sanitizeTransportError strips the URL query (which may carry an API
// key) from transport errors before they travel.
func sanitizeTransportError(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		safe := ue.URL
		if i := strings.IndexByte(safe, '?'); i >= 0 {
			safe = safe[:i]
		}
		return fmt.Sprintf("%s %s: %v", ue.Op, safe, ue.Err)
	}
	return err.Error()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

func jsonpathExtract(value any, path string) (any, bool) {
	return jsonpath.Extract(value, path)
}
