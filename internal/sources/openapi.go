package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tesserahq/toolgate/internal/render"
	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	maxSpecBytes     = 10 << 20
	specFetchTimeout = 30 * time.Second
)

// bodyMethods are the HTTP methods whose operations may carry a
// request body template.
var bodyMethods = map[string]bool{"post": true, "put": true, "patch": true}

// operationMethods is the fixed iteration order for path items.
var operationMethods = []string{"get", "post", "put", "patch", "delete"}

// OpenAPIAdapter ingests OpenAPI 3.x documents and normalizes every
// operation into a ToolDefinition with a SYNC_HTTP execution profile.
type OpenAPIAdapter struct {
	client *http.Client
	logger *slog.Logger
}

func NewOpenAPIAdapter(client *http.Client) *OpenAPIAdapter {
	if client == nil {
		client = &http.Client{Timeout: specFetchTimeout}
	}
	return &OpenAPIAdapter{
		client: client,
		logger: slog.Default().With("component", "openapi_adapter"),
	}
}

func (a *OpenAPIAdapter) FetchAndNormalize(ctx context.Context, src *models.SourceAggregate, auth *models.AuthConfig) (*IngestionResult, error) {
	specURL := src.SpecLocation()
	doc, err := a.fetchDocument(ctx, specURL, auth)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var warnings []string
	base := baseURL(doc, specURL, &warnings)
	audience := extractAudience(doc, src.DefaultAudience)

	paths, _ := doc["paths"].(map[string]any)
	names := make(map[string]int)
	var tools []models.ToolDefinition
	for _, path := range sortedKeys(paths) {
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}
		shared := parameterList(item["parameters"], doc, &warnings)
		for _, method := range operationMethods {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			tool := a.buildTool(doc, specURL, base, path, method, op, shared, audience, src.RequiredScopes, names, &warnings)
			tools = append(tools, tool)
		}
	}

	hash, err := InventoryHash(tools)
	if err != nil {
		return nil, models.NewInternalError(fmt.Sprintf("hash inventory: %v", err))
	}

	result := &IngestionResult{
		Tools:         tools,
		InventoryHash: hash,
		Success:       true,
		SourceVersion: infoVersion(doc),
		Warnings:      warnings,
	}
	a.logger.Info("openapi spec normalized",
		"source_id", src.ID,
		"url", specURL,
		"tools", len(tools),
		"warnings", len(warnings))
	return result, nil
}

// ValidateURL reports whether the spec URL answers a decorated GET
// with a non-error status.
func (a *OpenAPIAdapter) ValidateURL(ctx context.Context, rawURL string, auth *models.AuthConfig) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	decorateRequest(req, auth)
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxSpecBytes))
	return resp.StatusCode < 400
}

func (a *OpenAPIAdapter) fetchDocument(ctx context.Context, specURL string, auth *models.AuthConfig) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		return nil, validationErr(fmt.Sprintf("invalid spec url %q: %v", specURL, err), nil)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml")
	decorateRequest(req, auth)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, models.NewUpstreamConnError(fmt.Sprintf("fetch spec %s: %v", specURL, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecBytes))
	if err != nil {
		return nil, models.NewUpstreamConnError(fmt.Sprintf("read spec %s: %v", specURL, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &models.ToolError{
			Code:           models.ErrCodeUpstream,
			Message:        fmt.Sprintf("spec fetch returned %d", resp.StatusCode),
			Retryable:      resp.StatusCode >= 500,
			UpstreamStatus: resp.StatusCode,
			Details:        map[string]any{"body": models.TruncateBody(string(body))},
		}
	}

	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// parseDocument tries JSON first and falls back to YAML, which also
// covers JSON documents with comments served as YAML.
func parseDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		return doc, nil
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, validationErr(
			"spec document is neither valid JSON nor valid YAML",
			map[string]any{"parse_error": err.Error()},
		)
	}
	return normalizeYAML(doc).(map[string]any), nil
}

// normalizeYAML rewrites yaml.v3 output so every nested map is
// map[string]any; yaml.v3 produces map[string]any for string keys but
// non-string keys (rare, e.g. quoted numerics) surface as map[any]any.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeYAML(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalizeYAML(item)
		}
		return v
	default:
		return value
	}
}

func validateDocument(doc map[string]any) error {
	if swagger, ok := doc["swagger"].(string); ok && strings.HasPrefix(swagger, "2.") {
		return validationErr(
			"Swagger 2.0 specs are not supported; convert to OpenAPI 3.x",
			map[string]any{"swagger": swagger},
		)
	}
	version, _ := doc["openapi"].(string)
	if !strings.HasPrefix(version, "3.") {
		return validationErr(fmt.Sprintf("unsupported openapi version %q: need 3.x", version), nil)
	}
	if _, ok := doc["info"].(map[string]any); !ok {
		return validationErr("spec is missing required field: info", nil)
	}
	if _, ok := doc["paths"].(map[string]any); !ok {
		return validationErr("spec is missing required field: paths", nil)
	}
	return nil
}

func infoVersion(doc map[string]any) string {
	info, _ := doc["info"].(map[string]any)
	version, _ := info["version"].(string)
	return version
}

// baseURL resolves servers[0].url against the spec URL, falling back
// to the spec URL's scheme and host.
func baseURL(doc map[string]any, specURL string, warnings *[]string) string {
	specParsed, specErr := url.Parse(specURL)

	if servers, ok := doc["servers"].([]any); ok && len(servers) > 0 {
		if first, ok := servers[0].(map[string]any); ok {
			if raw, ok := first["url"].(string); ok && raw != "" {
				parsed, err := url.Parse(raw)
				if err != nil {
					*warnings = append(*warnings, fmt.Sprintf("invalid servers[0].url %q, using spec host", raw))
				} else {
					if parsed.IsAbs() || specErr != nil {
						return strings.TrimSuffix(raw, "/")
					}
					return strings.TrimSuffix(specParsed.ResolveReference(parsed).String(), "/")
				}
			}
		}
	}

	if specErr != nil || specParsed.Host == "" {
		return strings.TrimSuffix(specURL, "/")
	}
	return specParsed.Scheme + "://" + specParsed.Host
}

// extractAudience honours an x-audience extension on any OAuth2
// security flow, falling back to the source default.
func extractAudience(doc map[string]any, defaultAudience string) string {
	components, _ := doc["components"].(map[string]any)
	schemes, _ := components["securitySchemes"].(map[string]any)
	for _, name := range sortedKeys(schemes) {
		scheme, ok := schemes[name].(map[string]any)
		if !ok {
			continue
		}
		if typ, _ := scheme["type"].(string); !strings.EqualFold(typ, "oauth2") {
			continue
		}
		flows, _ := scheme["flows"].(map[string]any)
		for _, flowName := range sortedKeys(flows) {
			flow, ok := flows[flowName].(map[string]any)
			if !ok {
				continue
			}
			if audience, ok := flow["x-audience"].(string); ok && audience != "" {
				return audience
			}
		}
	}
	return defaultAudience
}

// operationParameter is a parameter after $ref resolution and type
// normalization.
type operationParameter struct {
	Name     string
	In       string
	Required bool
	Schema   map[string]any
}

// parameterList resolves a raw OpenAPI parameter array.
func parameterList(raw any, doc map[string]any, warnings *[]string) []operationParameter {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	conv := newSchemaConverter(doc, warnings)
	var out []operationParameter
	for _, item := range list {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := p["$ref"].(string); ok {
			resolved := resolvePointer(doc, ref)
			if resolved == nil {
				*warnings = append(*warnings, fmt.Sprintf("unresolvable parameter $ref: %s", ref))
				continue
			}
			p = resolved
		}
		name, _ := p["name"].(string)
		if name == "" {
			continue
		}
		in, _ := p["in"].(string)
		required, _ := p["required"].(bool)
		rawSchema, _ := p["schema"].(map[string]any)
		schema := conv.convert(rawSchema)
		if _, ok := schema["type"]; !ok {
			schema["type"] = "string"
		}
		if desc, ok := p["description"].(string); ok && schema["description"] == nil {
			schema["description"] = desc
		}
		out = append(out, operationParameter{
			Name:     name,
			In:       strings.ToLower(in),
			Required: required || strings.EqualFold(in, "path"),
			Schema:   schema,
		})
	}
	return out
}

// mergeParameters overlays operation parameters on path-item
// parameters; an operation parameter with the same (name, in) wins.
func mergeParameters(shared, own []operationParameter) []operationParameter {
	merged := append([]operationParameter(nil), shared...)
	for _, p := range own {
		replaced := false
		for i, existing := range merged {
			if existing.Name == p.Name && existing.In == p.In {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	return merged
}

func (a *OpenAPIAdapter) buildTool(
	doc map[string]any,
	specURL, base, path, method string,
	op map[string]any,
	shared []operationParameter,
	audience string,
	scopes []string,
	names map[string]int,
	warnings *[]string,
) models.ToolDefinition {
	params := mergeParameters(shared, parameterList(op["parameters"], doc, warnings))

	properties := map[string]any{}
	var required []string
	var pathParams, queryParams []operationParameter
	for _, p := range params {
		switch p.In {
		case "header":
			continue
		case "path":
			pathParams = append(pathParams, p)
		case "query":
			queryParams = append(queryParams, p)
		}
		properties[p.Name] = p.Schema
		if p.Required {
			required = append(required, p.Name)
		}
	}

	var bodyProps []string
	bodyTemplate := ""
	if bodyMethods[method] {
		bodyProps, required = mergeBodySchema(doc, op, properties, required, path, method, warnings)
		if len(bodyProps) > 0 {
			bodyTemplate = render.BodyTemplate(bodyProps)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if deduped := dedupeRequired(toAnySlice(required)); len(deduped) > 0 {
		schema["required"] = deduped
	}

	name := toolName(op, method, path, names, warnings)
	description, _ := op["summary"].(string)
	if description == "" {
		description, _ = op["description"].(string)
	}
	deprecated, _ := op["deprecated"].(bool)

	profile := models.ExecutionProfile{
		Mode:             models.ModeSyncHTTP,
		Method:           strings.ToUpper(method),
		URLTemplate:      urlTemplate(base, path, pathParams, queryParams),
		BodyTemplate:     bodyTemplate,
		RequiredAudience: audience,
		RequiredScopes:   append([]string(nil), scopes...),
	}
	if bodyTemplate != "" {
		profile.ContentType = "application/json"
	}

	return models.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: schema,
		SourcePath:  fmt.Sprintf("%s#%s %s", specURL, profile.Method, path),
		Tags:        stringSlice(op["tags"]),
		Deprecated:  deprecated,
		Execution:   profile,
	}
}

// mergeBodySchema folds the application/json request body properties
// into the tool schema, returning the body property names and the
// updated required list.
func mergeBodySchema(
	doc map[string]any,
	op map[string]any,
	properties map[string]any,
	required []string,
	path, method string,
	warnings *[]string,
) (bodyProps []string, outRequired []string) {
	outRequired = required

	rawBody, ok := op["requestBody"].(map[string]any)
	if !ok {
		return nil, outRequired
	}
	if ref, ok := rawBody["$ref"].(string); ok {
		rawBody = resolvePointer(doc, ref)
		if rawBody == nil {
			*warnings = append(*warnings, fmt.Sprintf("unresolvable requestBody $ref %s for %s %s", ref, strings.ToUpper(method), path))
			return nil, outRequired
		}
	}
	content, _ := rawBody["content"].(map[string]any)
	media, ok := content["application/json"].(map[string]any)
	if !ok {
		if len(content) > 0 {
			*warnings = append(*warnings, fmt.Sprintf("no application/json body for %s %s, body skipped", strings.ToUpper(method), path))
		}
		return nil, outRequired
	}
	rawSchema, _ := media["schema"].(map[string]any)

	conv := newSchemaConverter(doc, warnings)
	bodySchema := conv.convert(rawSchema)
	props, _ := bodySchema["properties"].(map[string]any)
	if t, _ := bodySchema["type"].(string); t != "object" || props == nil {
		*warnings = append(*warnings, fmt.Sprintf("non-object request body for %s %s, body skipped", strings.ToUpper(method), path))
		return nil, outRequired
	}

	bodyRequired := map[string]bool{}
	if reqList, ok := bodySchema["required"].([]string); ok {
		for _, name := range reqList {
			bodyRequired[name] = true
		}
	}
	for name, sub := range props {
		// Parameters win name collisions with body fields.
		if _, exists := properties[name]; exists {
			*warnings = append(*warnings, fmt.Sprintf("body property %q collides with a parameter on %s %s", name, strings.ToUpper(method), path))
			continue
		}
		properties[name] = sub
		bodyProps = append(bodyProps, name)
		if bodyRequired[name] {
			outRequired = append(outRequired, name)
		}
	}
	sort.Strings(bodyProps)
	return bodyProps, outRequired
}

// toolName prefers operationId; otherwise it derives
// {method}_{path segments} with parameter segments stripped.
// Duplicate names get a numeric suffix.
func toolName(op map[string]any, method, path string, used map[string]int, warnings *[]string) string {
	name, _ := op["operationId"].(string)
	if name == "" {
		var segments []string
		for _, seg := range strings.Split(path, "/") {
			if seg == "" || strings.HasPrefix(seg, "{") {
				continue
			}
			segments = append(segments, sanitizeSegment(seg))
		}
		if len(segments) == 0 {
			name = method
		} else {
			name = method + "_" + strings.Join(segments, "_")
		}
	}

	used[name]++
	if n := used[name]; n > 1 {
		deduped := fmt.Sprintf("%s_%d", name, n)
		*warnings = append(*warnings, fmt.Sprintf("duplicate tool name %q renamed to %q", name, deduped))
		used[deduped]++
		return deduped
	}
	return name
}

func sanitizeSegment(seg string) string {
	var sb strings.Builder
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// urlTemplate turns path parameters into {{ name }} substitutions and
// appends the query string. Required query parameters anchor the '?';
// optional ones render conditionally with '&'. When every query
// parameter is optional the fragments all use '&' and the renderer
// promotes the first one to '?' at call time.
func urlTemplate(base, path string, pathParams, queryParams []operationParameter) string {
	rendered := path
	for _, p := range pathParams {
		rendered = strings.ReplaceAll(rendered, "{"+p.Name+"}", "{{ "+p.Name+" }}")
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSuffix(base, "/"))
	sb.WriteString(rendered)

	var requiredQuery, optionalQuery []operationParameter
	for _, p := range queryParams {
		if p.Required {
			requiredQuery = append(requiredQuery, p)
		} else {
			optionalQuery = append(optionalQuery, p)
		}
	}
	for i, p := range requiredQuery {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		fmt.Fprintf(&sb, "%s%s={{ %s }}", sep, p.Name, p.Name)
	}
	for _, p := range optionalQuery {
		fmt.Fprintf(&sb, "{%% if %s is defined %%}&%s={{ %s }}{%% endif %%}", p.Name, p.Name, p.Name)
	}
	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringSlice(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
