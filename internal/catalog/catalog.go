// Package catalog parses an OpenAPI description into an immutable
// in-memory registry of services and operations, and answers the
// discovery queries behind the server's tool surface.
//
// The catalog is built once at startup and never mutated afterwards;
// reloading means building a new Catalog and swapping the reference.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/unblu/unblu-mcp/internal/apierr"
)

// maxRefDepth bounds $ref expansion when rendering operation schemas,
// keeping deeply self-referential models from exploding the output.
const maxRefDepth = 3

// maxServiceDescription caps tag descriptions, which in the Unblu spec
// run to multiple paragraphs of prose.
const maxServiceDescription = 200

var httpMethods = []string{"get", "post", "put", "delete", "patch"}

// Parameter is one declared operation parameter.
type Parameter struct {
	Name     string
	In       string // path, query, header or body
	Required bool
	Type     string
}

// Operation is a single API operation keyed by its operation id.
type Operation struct {
	ID          string
	Service     string
	Method      string
	Path        string
	Summary     string
	Description string
	Parameters  []Parameter

	// rawParameters, requestBody and responses hold the untyped spec
	// fragments used to render the full schema on demand.
	rawParameters []any
	requestBody   any
	responses     map[string]any

	order int // declaration order across the whole document
}

// Service groups operations under one API tag.
type Service struct {
	Name         string
	Description  string
	OperationIDs []string
}

// ServiceInfo is the list_services row.
type ServiceInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	OperationCount int    `json:"operation_count"`
}

// OperationInfo is the brief operation summary returned by listing and
// search queries.
type OperationInfo struct {
	OperationID string `json:"operation_id"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Summary     string `json:"summary"`
}

// OperationSchema is the full descriptor returned by OperationSchema.
type OperationSchema struct {
	OperationID string         `json:"operation_id"`
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary"`
	Description string         `json:"description,omitempty"`
	Parameters  []any          `json:"parameters"`
	RequestBody any            `json:"request_body,omitempty"`
	Responses   map[string]any `json:"responses"`
}

// Catalog is the immutable operation registry.
type Catalog struct {
	services   []*Service
	byService  map[string]*Service // key: lowercased name
	operations map[string]*Operation
	opOrder    []string // operation ids in declaration order
	index      *searchIndex
	doc        map[string]any // full document, for $ref resolution

	schemaCache sync.Map // operation id → *OperationSchema
}

// Load parses an OpenAPI JSON document into a Catalog. A document
// without a paths section cannot serve any request and yields a
// SpecParse error.
func Load(data []byte) (*Catalog, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apierr.SpecParse("invalid JSON in API description: %v", err)
	}
	rawPaths, ok := doc["paths"].(map[string]any)
	if !ok {
		return nil, apierr.SpecParse(`API description has no top-level "paths" section`)
	}

	c := &Catalog{
		byService:  make(map[string]*Service),
		operations: make(map[string]*Operation),
		doc:        doc,
	}

	// Services come from the tags array, in declaration order. Tags
	// named "Schemas" or starting with "For " describe webhook payload
	// schemas, not callable services.
	if tags, ok := doc["tags"].([]any); ok {
		for _, t := range tags {
			tag, ok := t.(map[string]any)
			if !ok {
				continue
			}
			name, _ := tag["name"].(string)
			if name == "" || skipTag(name) {
				continue
			}
			desc, _ := tag["description"].(string)
			if len(desc) > maxServiceDescription {
				desc = desc[:maxServiceDescription]
			}
			svc := &Service{Name: name, Description: desc}
			c.services = append(c.services, svc)
			c.byService[strings.ToLower(name)] = svc
		}
	}

	// encoding/json maps lose object order, so the path walk follows
	// the byte-level declaration order of the paths object.
	order := pathOrder(data)
	if len(order) == 0 {
		for p := range rawPaths {
			order = append(order, p)
		}
	}

	for _, path := range order {
		item, ok := rawPaths[path].(map[string]any)
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			raw, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			op, err := parseOperation(path, method, raw)
			if err != nil {
				return nil, err
			}
			if op == nil {
				continue // webhook/event operation
			}
			if _, dup := c.operations[op.ID]; dup {
				return nil, apierr.SpecParse("duplicate operation id %q at %s %s", op.ID, strings.ToUpper(method), path)
			}
			op.order = len(c.opOrder)
			c.operations[op.ID] = op
			c.opOrder = append(c.opOrder, op.ID)
			if svc, ok := c.byService[strings.ToLower(op.Service)]; ok {
				svc.OperationIDs = append(svc.OperationIDs, op.ID)
			}
		}
	}

	c.index = buildSearchIndex(c)
	return c, nil
}

func skipTag(name string) bool {
	return name == "Schemas" || strings.HasPrefix(name, "For ")
}

func parseOperation(path, method string, raw map[string]any) (*Operation, error) {
	opID, _ := raw["operationId"].(string)
	if opID == "" {
		opID = fmt.Sprintf("%s_%s", method, path)
	}

	primaryTag := "Other"
	if tags, ok := raw["tags"].([]any); ok && len(tags) > 0 {
		if t, ok := tags[0].(string); ok && t != "" {
			primaryTag = t
		}
	}
	if skipTag(primaryTag) {
		return nil, nil
	}

	op := &Operation{
		ID:      opID,
		Service: primaryTag,
		Method:  strings.ToUpper(method),
		Path:    path,
	}
	op.Summary, _ = raw["summary"].(string)
	op.Description, _ = raw["description"].(string)
	op.responses, _ = raw["responses"].(map[string]any)
	op.requestBody = raw["requestBody"]

	if params, ok := raw["parameters"].([]any); ok {
		op.rawParameters = params
		for _, p := range params {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			param := Parameter{}
			param.Name, _ = pm["name"].(string)
			param.In, _ = pm["in"].(string)
			param.Required, _ = pm["required"].(bool)
			param.Type, _ = pm["type"].(string)
			if param.Type == "" {
				if schema, ok := pm["schema"].(map[string]any); ok {
					param.Type, _ = schema["type"].(string)
				}
			}
			op.Parameters = append(op.Parameters, param)
		}
	}
	return op, nil
}

// ListServices returns all services in declaration order.
func (c *Catalog) ListServices() []ServiceInfo {
	out := make([]ServiceInfo, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, ServiceInfo{
			Name:           svc.Name,
			Description:    svc.Description,
			OperationCount: len(svc.OperationIDs),
		})
	}
	return out
}

// ListOperations returns the operations of one service in declaration
// order. The service name is matched case-insensitively; an unknown
// name yields a NotFound error suggesting close matches.
func (c *Catalog) ListOperations(service string) ([]OperationInfo, error) {
	svc, ok := c.byService[strings.ToLower(service)]
	if !ok {
		names := make([]string, 0, len(c.services))
		for _, s := range c.services {
			names = append(names, s.Name)
		}
		return nil, apierr.NotFound("service", service, suggestHint(service, names))
	}
	out := make([]OperationInfo, 0, len(svc.OperationIDs))
	for _, id := range svc.OperationIDs {
		out = append(out, c.operations[id].info())
	}
	return out, nil
}

// Operation returns the operation for id, or a NotFound error listing
// the nearest operation ids.
func (c *Catalog) Operation(id string) (*Operation, error) {
	op, ok := c.operations[id]
	if !ok {
		return nil, apierr.NotFound("operation", id, suggestHint(id, c.opOrder))
	}
	return op, nil
}

// OperationSchema renders the full descriptor for id with $ref
// references resolved to bounded depth. Resolved schemas are cached;
// the catalog itself stays read-only.
func (c *Catalog) OperationSchema(id string) (*OperationSchema, error) {
	if cached, ok := c.schemaCache.Load(id); ok {
		return cached.(*OperationSchema), nil
	}
	op, err := c.Operation(id)
	if err != nil {
		return nil, err
	}

	params := make([]any, 0, len(op.rawParameters))
	for _, p := range op.rawParameters {
		params = append(params, c.resolveRefs(p, 0))
	}
	var body any
	if op.requestBody != nil {
		body = c.resolveRefs(op.requestBody, 0)
	}
	responses := make(map[string]any, len(op.responses))
	for code, r := range op.responses {
		responses[code] = c.resolveRefs(r, 0)
	}

	schema := &OperationSchema{
		OperationID: op.ID,
		Method:      op.Method,
		Path:        op.Path,
		Summary:     op.Summary,
		Description: op.Description,
		Parameters:  params,
		RequestBody: body,
		Responses:   responses,
	}
	c.schemaCache.Store(id, schema)
	return schema, nil
}

// resolveRefs expands local $ref pointers up to maxRefDepth.
func (c *Catalog) resolveRefs(obj any, depth int) any {
	if depth > maxRefDepth {
		return map[string]any{"$ref": "...truncated for brevity..."}
	}
	switch v := obj.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if resolved := c.lookupRef(ref); resolved != nil {
				return c.resolveRefs(resolved, depth+1)
			}
			return v
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = c.resolveRefs(val, depth)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.resolveRefs(item, depth)
		}
		return out
	default:
		return obj
	}
}

// lookupRef walks a local "#/a/b/c" pointer through the document.
func (c *Catalog) lookupRef(ref string) any {
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	var cur any = c.doc
	for _, part := range strings.Split(ref[2:], "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// RequestBodyDeclared reports whether the operation declares an
// OpenAPI 3 requestBody. Swagger 2 body parameters carry their own
// "body" location in Parameters instead.
func (op *Operation) RequestBodyDeclared() bool { return op.requestBody != nil }

func (op *Operation) info() OperationInfo {
	return OperationInfo{
		OperationID: op.ID,
		Method:      op.Method,
		Path:        op.Path,
		Summary:     op.Summary,
	}
}

// pathOrder extracts the keys of the top-level "paths" object in the
// order they appear in the document. Returns nil if the document does
// not parse cleanly; the caller falls back to map order.
func pathOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	t, err := dec.Token()
	if err != nil || t != json.Delim('{') {
		return nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := keyTok.(string)
		if key != "paths" {
			if err := skipValue(dec); err != nil {
				return nil
			}
			continue
		}
		t, err := dec.Token()
		if err != nil || t != json.Delim('{') {
			return nil
		}
		var keys []string
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil
			}
			k, _ := kt.(string)
			keys = append(keys, k)
			if err := skipValue(dec); err != nil {
				return nil
			}
		}
		return keys
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	t, err := dec.Token()
	if err != nil {
		return err
	}
	if t == json.Delim('{') || t == json.Delim('[') {
		for dec.More() {
			if err := skipValue(dec); err != nil {
				return err
			}
		}
		_, err = dec.Token() // closing delimiter
		return err
	}
	return nil
}
