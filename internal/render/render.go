// Package render evaluates the restricted template dialect used by tool
// execution profiles: `{{ name }}` substitution, `{% if name is defined %}`
// blocks, and a `json` filter. There is no file access and no expression
// evaluation; an undefined variable is an error, never empty output.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeCond
)

type node struct {
	kind   nodeKind
	text   string // nodeText
	name   string // nodeVar, nodeCond
	filter string // nodeVar: "" or "json"
	body   []node // nodeCond
}

// Render substitutes args into template. A variable referenced outside a
// defined-guard that is absent from args yields a template error carrying
// the supplied argument names.
func Render(template string, args map[string]any) (string, error) {
	nodes, err := parse(template)
	if err != nil {
		return "", syntaxError(template, err)
	}
	var sb strings.Builder
	if err := renderNodes(nodes, args, &sb); err != nil {
		return "", renderError(template, args, err)
	}
	return sb.String(), nil
}

// RenderURL renders a URL template and repairs the query anchor: when a
// template holds only optional query parameters the generated fragments
// all start with '&', so the first one is rewritten to '?' unless the
// rendered URL already has one.
func RenderURL(template string, args map[string]any) (string, error) {
	rendered, err := Render(template, args)
	if err != nil {
		return "", err
	}
	if strings.Contains(rendered, "?") {
		return rendered, nil
	}
	if i := strings.Index(rendered, "&"); i >= 0 {
		return rendered[:i] + "?" + rendered[i+1:], nil
	}
	return rendered, nil
}

// RenderHeaders renders every header value template. Header names are
// literal. A failing header is reported with its name in the details.
func RenderHeaders(headers map[string]string, args map[string]any) (map[string]string, error) {
	if len(headers) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(headers))
	for name, tmpl := range headers {
		rendered, err := Render(tmpl, args)
		if err != nil {
			if te, ok := models.AsToolError(err); ok {
				return nil, te.WithDetail("header", name)
			}
			return nil, err
		}
		out[name] = rendered
	}
	return out, nil
}

func parse(src string) ([]node, error) {
	p := &parser{src: src}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		// parseNodes only stops early on an endif tag.
		return nil, fmt.Errorf("endif without matching if at offset %d", p.tagStart)
	}
	return nodes, nil
}

type parser struct {
	src      string
	pos      int
	tagStart int
}

// parseNodes consumes nodes until end of input, or until an endif tag
// when insideCond is set. The endif itself is consumed.
func (p *parser) parseNodes(insideCond bool) ([]node, error) {
	var nodes []node
	for p.pos < len(p.src) {
		rest := p.src[p.pos:]
		varIdx := strings.Index(rest, "{{")
		tagIdx := strings.Index(rest, "{%")

		next, isTag := varIdx, false
		if next < 0 || (tagIdx >= 0 && tagIdx < next) {
			next, isTag = tagIdx, true
		}
		if next < 0 {
			nodes = append(nodes, node{kind: nodeText, text: rest})
			p.pos = len(p.src)
			break
		}
		if next > 0 {
			nodes = append(nodes, node{kind: nodeText, text: rest[:next]})
		}
		p.tagStart = p.pos + next
		p.pos += next

		if !isTag {
			n, err := p.parseVar()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
			continue
		}

		tag, err := p.parseTag()
		if err != nil {
			return nil, err
		}
		switch {
		case tag == "endif":
			if !insideCond {
				// Let the caller report the stray endif with position.
				p.pos = p.tagStart
				return nodes, nil
			}
			return nodes, nil
		case strings.HasPrefix(tag, "if "):
			name, err := parseIfCondition(tag)
			if err != nil {
				return nil, err
			}
			body, err := p.parseNodes(true)
			if err != nil {
				return nil, fmt.Errorf("in conditional for %q: %w", name, err)
			}
			nodes = append(nodes, node{kind: nodeCond, name: name, body: body})
		default:
			return nil, fmt.Errorf("unsupported tag %q", tag)
		}
	}
	if insideCond && p.pos >= len(p.src) {
		return nil, fmt.Errorf("unclosed conditional")
	}
	return nodes, nil
}

// parseVar consumes a `{{ name }}` or `{{ name | json }}` expression
// starting at p.pos.
func (p *parser) parseVar() (node, error) {
	end := strings.Index(p.src[p.pos:], "}}")
	if end < 0 {
		return node{}, fmt.Errorf("unclosed variable expression at offset %d", p.pos)
	}
	expr := strings.TrimSpace(p.src[p.pos+2 : p.pos+end])
	p.pos += end + 2

	name, filter := expr, ""
	if i := strings.Index(expr, "|"); i >= 0 {
		name = strings.TrimSpace(expr[:i])
		filter = strings.TrimSpace(expr[i+1:])
	}
	if name == "" || strings.ContainsAny(name, " \t{}%") {
		return node{}, fmt.Errorf("invalid variable name %q", name)
	}
	if filter != "" && filter != "json" {
		return node{}, fmt.Errorf("unknown filter %q", filter)
	}
	return node{kind: nodeVar, name: name, filter: filter}, nil
}

// parseTag consumes a `{% … %}` tag starting at p.pos and returns its
// trimmed content.
func (p *parser) parseTag() (string, error) {
	end := strings.Index(p.src[p.pos:], "%}")
	if end < 0 {
		return "", fmt.Errorf("unclosed tag at offset %d", p.pos)
	}
	tag := strings.TrimSpace(p.src[p.pos+2 : p.pos+end])
	p.pos += end + 2
	return tag, nil
}

// parseIfCondition validates `if <name> is defined` and returns the name.
func parseIfCondition(tag string) (string, error) {
	fields := strings.Fields(tag)
	if len(fields) != 4 || fields[0] != "if" || fields[2] != "is" || fields[3] != "defined" {
		return "", fmt.Errorf("unsupported condition %q, want \"if <name> is defined\"", tag)
	}
	return fields[1], nil
}

type undefinedVarError struct{ name string }

func (e *undefinedVarError) Error() string {
	return fmt.Sprintf("undefined variable %q", e.name)
}

func renderNodes(nodes []node, args map[string]any, sb *strings.Builder) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			sb.WriteString(n.text)
		case nodeVar:
			value, ok := args[n.name]
			if !ok {
				return &undefinedVarError{name: n.name}
			}
			if n.filter == "json" {
				b, err := json.Marshal(value)
				if err != nil {
					return fmt.Errorf("encode %q: %w", n.name, err)
				}
				sb.Write(b)
				continue
			}
			sb.WriteString(stringify(value))
		case nodeCond:
			if _, ok := args[n.name]; !ok {
				continue
			}
			if err := renderNodes(n.body, args, sb); err != nil {
				return err
			}
		}
	}
	return nil
}

// stringify renders a value for plain substitution. Numbers decoded from
// JSON arrive as float64 and must not pick up an exponent or trailing
// zeros on the way into a URL.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func syntaxError(template string, err error) error {
	return models.NewTemplateError(
		"template syntax error",
		map[string]any{
			"syntax_error": err.Error(),
			"template":     models.TruncateBody(template),
		},
	)
}

func renderError(template string, args map[string]any, err error) error {
	details := map[string]any{
		"template":      models.TruncateBody(template),
		"supplied_args": argNames(args),
	}
	var undef *undefinedVarError
	if errors.As(err, &undef) {
		details["variable"] = undef.name
	}
	return models.NewTemplateError(err.Error(), details)
}

func argNames(args map[string]any) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
