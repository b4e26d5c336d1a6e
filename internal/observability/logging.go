// Package observability provides the process logger, Prometheus
// metrics, and OpenTelemetry tracing for toolgate. The logger redacts
// credential material before it reaches any handler: this service
// moves agent tokens, exchanged tokens, and per-source secrets, none
// of which may land in a log line.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// Format is "json" or "text".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file:line in records.
	AddSource bool

	// RedactPatterns are additional regexes applied on top of the
	// defaults.
	RedactPatterns []string
}

// defaultRedactPatterns match credential shapes this service handles:
// OAuth access tokens, JWTs, provider API keys, and key=value secret
// assignments that leak through error strings.
var defaultRedactPatterns = []string{
	`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]*`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{40,}`,
	`(?i)(bearer)\s+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(api[_-]?key|client_secret|secret|password|subject_token|access_token)[\s:=]+["']?([^\s"'&]{8,})["']?`,
}

// redactedKeys are attribute names whose values are replaced outright.
var redactedKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"client_secret": true,
	"token":         true,
	"access_token":  true,
	"subject_token": true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"auth":          true,
}

// NewLogger builds the process *slog.Logger: level and format from
// config, every record passed through the redactor.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	redactor := newRedactor(config.RedactPatterns)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return redactor.attr(a)
		},
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(&redactHandler{inner: handler, redactor: redactor})
}

type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor(extra []string) *redactor {
	all := append(append([]string{}, defaultRedactPatterns...), extra...)
	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, pattern := range all {
		if re, err := regexp.Compile(pattern); err == nil {
			compiled = append(compiled, re)
		}
	}
	return &redactor{patterns: compiled}
}

func (r *redactor) text(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (r *redactor) attr(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))
	if redactedKeys[key] {
		return slog.String(a.Key, "[REDACTED]")
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.text(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		replaced := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			replaced = append(replaced, r.attr(ga))
		}
		return slog.Group(a.Key, replaced...)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return slog.String(a.Key, r.text(err.Error()))
		}
		return a
	default:
		return a
	}
}

// redactHandler scrubs the record message; attrs are scrubbed by the
// inner handler's ReplaceAttr.
type redactHandler struct {
	inner    slog.Handler
	redactor *redactor
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	record.Message = h.redactor.text(record.Message)
	return h.inner.Handle(ctx, record)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactHandler{inner: h.inner.WithAttrs(attrs), redactor: h.redactor}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}
