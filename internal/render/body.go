package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

// BodyTemplate builds the conditional body template for a set of schema
// properties. Each property renders only when the caller supplied it, so
// the output stays a valid JSON object no matter which optional fields
// arrive. Property order is normalized for stable inventory hashes.
func BodyTemplate(properties []string) string {
	props := append([]string(nil), properties...)
	sort.Strings(props)
	var sb strings.Builder
	for _, prop := range props {
		fmt.Fprintf(&sb, "{%% if %s is defined %%}%q: {{ %s | json }}{%% endif %%}", prop, prop, prop)
	}
	return sb.String()
}

// RenderBody renders a request body template and guarantees the result
// parses as JSON. Templates produced by BodyTemplate (leading `{%`) are
// rendered fragment by fragment: empty fragments are dropped and the
// rest joined with commas inside braces. Any other template renders
// plainly and is then parse-checked.
func RenderBody(template string, args map[string]any) (string, error) {
	trimmed := strings.TrimSpace(template)
	if trimmed == "" {
		return "{}", nil
	}

	var rendered string
	if strings.HasPrefix(trimmed, "{%") {
		out, err := renderFragments(trimmed, args)
		if err != nil {
			return "", err
		}
		rendered = out
	} else {
		out, err := Render(template, args)
		if err != nil {
			return "", err
		}
		rendered = out
	}

	var probe any
	if err := json.Unmarshal([]byte(rendered), &probe); err != nil {
		return "", models.NewTemplateError(
			"rendered body is not valid JSON",
			map[string]any{
				"parse_error": err.Error(),
				"template":    models.TruncateBody(template),
				"rendered":    models.TruncateBody(rendered),
			},
		)
	}
	return rendered, nil
}

// renderFragments renders each top-level node independently and joins
// the non-empty results into one JSON object.
func renderFragments(template string, args map[string]any) (string, error) {
	nodes, err := parse(template)
	if err != nil {
		return "", syntaxError(template, err)
	}

	var fragments []string
	for _, n := range nodes {
		var sb strings.Builder
		if err := renderNodes([]node{n}, args, &sb); err != nil {
			return "", renderError(template, args, err)
		}
		fragment := strings.TrimSpace(sb.String())
		if fragment == "" {
			continue
		}
		fragments = append(fragments, fragment)
	}
	return "{" + strings.Join(fragments, ", ") + "}", nil
}
