package builtin

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tesserahq/toolgate/internal/jsonpath"
	"github.com/tesserahq/toolgate/pkg/models"
)

// currentTimeTool reports the current time in an optional timezone.
type currentTimeTool struct{}

func (t *currentTimeTool) Name() string { return "current_time" }

func (t *currentTimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone."
}

func (t *currentTimeTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"timezone": prop("string", "IANA timezone name, e.g. \"Europe/Madrid\". Defaults to UTC."),
		"format":   enumProp("Output format.", "rfc3339", "unix", "human"),
	})
}

func (t *currentTimeTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	loc := time.UTC
	if tz, ok := stringArg(args, "timezone"); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return failf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	now := time.Now().In(loc)

	var formatted string
	switch stringArgOr(args, "format", "rfc3339") {
	case "rfc3339":
		formatted = now.Format(time.RFC3339)
	case "unix":
		formatted = strconv.FormatInt(now.Unix(), 10)
	case "human":
		formatted = now.Format("Monday, January 2, 2006 15:04:05 MST")
	default:
		return failf("format must be one of rfc3339, unix, human")
	}

	return models.BuiltinOK(map[string]any{
		"time":     formatted,
		"timezone": loc.String(),
		"unix":     now.Unix(),
	})
}

// uuidTool generates random identifiers.
type uuidTool struct{}

func (t *uuidTool) Name() string { return "generate_uuid" }

func (t *uuidTool) Description() string {
	return "Generate one or more UUIDs (v4 random or v7 time-ordered)."
}

func (t *uuidTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"count":   prop("integer", "How many UUIDs to generate (1-100, default 1)."),
		"version": enumProp("UUID version.", "v4", "v7"),
	})
}

func (t *uuidTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	count := intArg(args, "count", 1)
	if count < 1 || count > 100 {
		return failf("count must be between 1 and 100")
	}
	version := stringArgOr(args, "version", "v4")

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		switch version {
		case "v4":
			ids = append(ids, uuid.NewString())
		case "v7":
			id, err := uuid.NewV7()
			if err != nil {
				return failf("generate uuid v7: %v", err)
			}
			ids = append(ids, id.String())
		default:
			return failf("version must be v4 or v7")
		}
	}
	if count == 1 {
		return models.BuiltinOK(ids[0])
	}
	return models.BuiltinOK(ids)
}

// encodeDecodeTool converts text between common encodings.
type encodeDecodeTool struct{}

func (t *encodeDecodeTool) Name() string { return "encode_decode" }

func (t *encodeDecodeTool) Description() string {
	return "Encode or decode text using base64, base64url, url, html, or hex."
}

func (t *encodeDecodeTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"operation": enumProp("Whether to encode or decode.", "encode", "decode"),
		"format":    enumProp("Encoding format.", "base64", "base64url", "url", "html", "hex"),
		"text":      prop("string", "The input text."),
	}, "operation", "format", "text")
}

func (t *encodeDecodeTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	op, _ := stringArg(args, "operation")
	format, _ := stringArg(args, "format")
	text, ok := stringArg(args, "text")
	if !ok {
		return failf("text is required")
	}
	if op != "encode" && op != "decode" {
		return failf("operation must be encode or decode")
	}

	var out string
	switch format {
	case "base64":
		if op == "encode" {
			out = base64.StdEncoding.EncodeToString([]byte(text))
		} else {
			decoded, err := base64.StdEncoding.DecodeString(text)
			if err != nil {
				return failf("decode base64: %v", err)
			}
			out = string(decoded)
		}
	case "base64url":
		if op == "encode" {
			out = base64.URLEncoding.EncodeToString([]byte(text))
		} else {
			decoded, err := base64.URLEncoding.DecodeString(text)
			if err != nil {
				return failf("decode base64url: %v", err)
			}
			out = string(decoded)
		}
	case "url":
		if op == "encode" {
			out = url.QueryEscape(text)
		} else {
			decoded, err := url.QueryUnescape(text)
			if err != nil {
				return failf("decode url: %v", err)
			}
			out = decoded
		}
	case "html":
		if op == "encode" {
			out = html.EscapeString(text)
		} else {
			out = html.UnescapeString(text)
		}
	case "hex":
		if op == "encode" {
			out = hex.EncodeToString([]byte(text))
		} else {
			decoded, err := hex.DecodeString(text)
			if err != nil {
				return failf("decode hex: %v", err)
			}
			out = string(decoded)
		}
	default:
		return failf("format must be one of base64, base64url, url, html, hex")
	}

	return models.BuiltinOK(map[string]any{
		"operation": op,
		"format":    format,
		"result":    out,
	})
}

// regexMatchTool applies a Go regular expression to text.
type regexMatchTool struct{}

const maxRegexMatches = 100

func (t *regexMatchTool) Name() string { return "regex_match" }

func (t *regexMatchTool) Description() string {
	return "Match a regular expression against text and return the matches with capture groups."
}

func (t *regexMatchTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": prop("string", "The regular expression (RE2 syntax)."),
		"text":    prop("string", "The text to search."),
		"flags":   prop("string", "Optional flags: i (case-insensitive), m (multi-line), s (dot matches newline)."),
	}, "pattern", "text")
}

func (t *regexMatchTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	pattern, ok := stringArg(args, "pattern")
	if !ok || pattern == "" {
		return failf("pattern is required")
	}
	text, ok := stringArg(args, "text")
	if !ok {
		return failf("text is required")
	}
	if flags, ok := stringArg(args, "flags"); ok && flags != "" {
		for _, f := range flags {
			if !strings.ContainsRune("ims", f) {
				return failf("unsupported flag %q", string(f))
			}
		}
		pattern = "(?" + flags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return failf("compile pattern: %v", err)
	}

	raw := re.FindAllStringSubmatch(text, maxRegexMatches)
	matches := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		entry := map[string]any{"match": m[0]}
		if len(m) > 1 {
			entry["groups"] = m[1:]
		}
		matches = append(matches, entry)
	}

	return models.BuiltinOK(map[string]any{
		"matched": len(matches) > 0,
		"count":   len(matches),
		"matches": matches,
	})
}

// jsonQueryTool projects a value out of JSON by dotted path.
type jsonQueryTool struct{}

func (t *jsonQueryTool) Name() string { return "json_query" }

func (t *jsonQueryTool) Description() string {
	return "Extract a value from JSON data using a dotted path like \"items.0.name\"."
}

func (t *jsonQueryTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"data": map[string]any{"description": "The JSON value, or a string containing JSON."},
		"path": prop("string", "Dotted path. Numeric segments index into arrays."),
	}, "data", "path")
}

func (t *jsonQueryTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return failf("path is required")
	}
	data, present := args["data"]
	if !present {
		return failf("data is required")
	}
	if s, ok := data.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return failf("data is not valid JSON: %v", err)
		}
		data = decoded
	}

	value, found := jsonpath.Extract(data, path)
	return models.BuiltinOK(map[string]any{
		"found": found,
		"path":  path,
		"value": value,
	})
}

// textStatsTool computes basic statistics over a text.
type textStatsTool struct{}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)

func (t *textStatsTool) Name() string { return "text_stats" }

func (t *textStatsTool) Description() string {
	return "Count characters, words, lines, sentences, and paragraphs in a text."
}

func (t *textStatsTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"text": prop("string", "The text to analyze."),
	}, "text")
}

func (t *textStatsTool) Execute(_ context.Context, args map[string]any, _ UserContext) *models.BuiltinToolResult {
	text, ok := stringArg(args, "text")
	if !ok {
		return failf("text is required")
	}

	words := strings.Fields(text)
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
	}
	paragraphs := 0
	for _, p := range regexp.MustCompile(`\n\s*\n`).Split(strings.TrimSpace(text), -1) {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	sentences := len(sentenceEnd.FindAllString(text, -1))

	totalWordLen := 0
	for _, w := range words {
		totalWordLen += utf8.RuneCountInString(w)
	}
	avgWordLen := 0.0
	if len(words) > 0 {
		avgWordLen = float64(totalWordLen) / float64(len(words))
	}

	return models.BuiltinOK(map[string]any{
		"characters":            utf8.RuneCountInString(text),
		"characters_no_spaces":  utf8.RuneCountInString(strings.ReplaceAll(strings.ReplaceAll(text, " ", ""), "\n", "")),
		"words":                 len(words),
		"lines":                 lines,
		"sentences":             sentences,
		"paragraphs":            paragraphs,
		"average_word_length":   avgWordLen,
	})
}
