// Package schema validates tool arguments against the Draft-7 input
// schemas carried by tool definitions.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Validator compiles and caches input schemas. Validation can be turned
// off globally and overridden per call; an execution request's explicit
// choice always wins over the global switch.
type Validator struct {
	enabled atomic.Bool
	cache   sync.Map // schema JSON -> *jsonschema.Schema
}

func NewValidator(enabled bool) *Validator {
	v := &Validator{}
	v.enabled.Store(enabled)
	return v
}

func (v *Validator) Enabled() bool { return v.enabled.Load() }

func (v *Validator) SetEnabled(on bool) { v.enabled.Store(on) }

// ShouldValidate resolves the per-call override against the global
// switch.
func (v *Validator) ShouldValidate(override *bool) bool {
	if override != nil {
		return *override
	}
	return v.enabled.Load()
}

// Validate checks args against inputSchema. A nil or empty schema skips
// validation. Failures carry up to five path-qualified messages.
func (v *Validator) Validate(inputSchema map[string]any, args map[string]any, override *bool) error {
	if !v.ShouldValidate(override) {
		return nil
	}
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.compile(inputSchema)
	if err != nil {
		return models.NewInternalError(fmt.Sprintf("tool input schema does not compile: %v", err))
	}

	// Round-trip so callers may pass values that did not come through
	// a JSON decoder (ints, typed structs).
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return models.NewInternalError(fmt.Sprintf("encode arguments: %v", err))
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return models.NewInternalError(fmt.Sprintf("decode arguments: %v", err))
	}

	if err := compiled.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return models.NewValidationError(collectMessages(ve))
		}
		return models.NewValidationError([]string{err.Error()})
	}
	return nil
}

func (v *Validator) compile(inputSchema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := v.cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("tool.schema.json", strings.NewReader(key)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("tool.schema.json")
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, compiled)
	return compiled, nil
}

// collectMessages flattens a validation error tree into path-qualified
// leaf messages, expanding multi-property `required` failures into one
// message per missing property.
func collectMessages(ve *jsonschema.ValidationError) []string {
	var out []string
	seen := map[string]bool{}
	add := func(msg string) {
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}

	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			for _, msg := range formatLeaf(e) {
				add(msg)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func formatLeaf(e *jsonschema.ValidationError) []string {
	path := pointerToDots(e.InstanceLocation)

	if names, ok := missingProperties(e.Message); ok {
		msgs := make([]string, 0, len(names))
		for _, name := range names {
			qualified := name
			if path != "" {
				qualified = path + "." + name
			}
			msgs = append(msgs, qualified+": is a required property")
		}
		return msgs
	}

	if path == "" {
		return []string{e.Message}
	}
	return []string{path + ": " + e.Message}
}

// missingProperties parses the library's `missing properties: 'a', 'b'`
// message into property names.
func missingProperties(msg string) ([]string, bool) {
	const prefix = "missing properties: "
	if !strings.HasPrefix(msg, prefix) {
		return nil, false
	}
	parts := strings.Split(msg[len(prefix):], ", ")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		names = append(names, strings.Trim(part, "'"))
	}
	return names, true
}

// pointerToDots turns a JSON pointer like /filters/email into
// filters.email.
func pointerToDots(pointer string) string {
	if pointer == "" || pointer == "/" {
		return ""
	}
	tokens := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, token := range tokens {
		token = strings.ReplaceAll(token, "~1", "/")
		tokens[i] = strings.ReplaceAll(token, "~0", "~")
	}
	return strings.Join(tokens, ".")
}
