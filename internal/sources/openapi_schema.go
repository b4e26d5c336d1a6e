package sources

import (
	"fmt"
	"strings"
)

// typeAliases maps loose type spellings seen in the wild onto JSON
// Schema types. Anything else falls back to string.
var typeAliases = map[string]string{
	"string":  "string",
	"str":     "string",
	"integer": "integer",
	"int":     "integer",
	"boolean": "boolean",
	"bool":    "boolean",
	"number":  "number",
	"float":   "number",
	"object":  "object",
	"dict":    "object",
	"array":   "array",
	"list":    "array",
}

// schemaConverter normalizes OpenAPI schema fragments into the
// Draft-7 subset tool input schemas use. It resolves local $refs
// against the document root and accumulates warnings for anything it
// must leave behind.
type schemaConverter struct {
	doc      map[string]any
	warnings *[]string
	resolving map[string]bool
}

func newSchemaConverter(doc map[string]any, warnings *[]string) *schemaConverter {
	return &schemaConverter{doc: doc, warnings: warnings, resolving: map[string]bool{}}
}

func (c *schemaConverter) warn(format string, args ...any) {
	*c.warnings = append(*c.warnings, fmt.Sprintf(format, args...))
}

// convert returns the normalized copy of a schema fragment. The input
// is never mutated.
func (c *schemaConverter) convert(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}

	if ref, ok := raw["$ref"].(string); ok {
		return c.convertRef(ref)
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "type", "items", "properties", "required":
			// normalized below
		default:
			out[k] = v
		}
	}

	typ := normalizeType(raw)
	if typ != "" {
		out["type"] = typ
	}

	switch typ {
	case "array":
		items, _ := raw["items"].(map[string]any)
		if items == nil {
			// Downstream LLM tool calling requires items.
			out["items"] = map[string]any{"type": "string"}
		} else {
			out["items"] = c.convert(items)
		}
	case "object":
		props, _ := raw["properties"].(map[string]any)
		converted := make(map[string]any, len(props))
		for name, p := range props {
			sub, _ := p.(map[string]any)
			converted[name] = c.convert(sub)
		}
		out["properties"] = converted
		if req := dedupeRequired(raw["required"]); len(req) > 0 {
			out["required"] = req
		}
	}

	return out
}

// convertRef resolves a local $ref; external refs and cycles are left
// as permissive objects with a warning.
func (c *schemaConverter) convertRef(ref string) map[string]any {
	if !strings.HasPrefix(ref, "#/") {
		c.warn("external $ref left unresolved: %s", ref)
		return map[string]any{"type": "object"}
	}
	if c.resolving[ref] {
		c.warn("cyclic $ref: %s", ref)
		return map[string]any{"type": "object"}
	}

	target := resolvePointer(c.doc, ref)
	if target == nil {
		c.warn("unresolvable $ref: %s", ref)
		return map[string]any{"type": "object"}
	}

	c.resolving[ref] = true
	defer delete(c.resolving, ref)
	return c.convert(target)
}

// normalizeType lowercases and aliases a schema's type. A missing type
// is inferred from shape when possible.
func normalizeType(raw map[string]any) string {
	if t, ok := raw["type"].(string); ok && t != "" {
		if mapped, ok := typeAliases[strings.ToLower(t)]; ok {
			return mapped
		}
		return "string"
	}
	if _, ok := raw["properties"]; ok {
		return "object"
	}
	if _, ok := raw["items"]; ok {
		return "array"
	}
	return ""
}

// dedupeRequired flattens a required list keeping first occurrence
// order.
func dedupeRequired(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(list))
	var out []string
	for _, item := range list {
		name, ok := item.(string)
		if !ok || name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// resolvePointer walks a "#/a/b/c" JSON pointer through nested maps.
func resolvePointer(doc map[string]any, ref string) map[string]any {
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	current := any(doc)
	for _, part := range parts {
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	result, _ := current.(map[string]any)
	return result
}
