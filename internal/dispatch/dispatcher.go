// Package dispatch validates execute-requests against the catalog,
// builds the corresponding HTTP call and issues it over the connection
// supplied per request.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unblu/unblu-mcp/internal/apierr"
	"github.com/unblu/unblu-mcp/internal/catalog"
	"github.com/unblu/unblu-mcp/internal/connection"
)

// rawPreview bounds how much of a non-JSON body is kept.
const rawPreview = 200

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Request is one opaque "execute operation X with parameters Y" call.
type Request struct {
	OperationID string
	PathParams  map[string]string
	QueryParams map[string]any
	Body        any
	Headers     map[string]string
}

// RawResponse is a successful (2xx) upstream response. Data holds the
// decoded JSON body, or a {"raw": ...} preview when the body is not
// JSON, or nil for 204 No Content.
type RawResponse struct {
	StatusCode int
	Data       any
}

// Dispatcher routes requests to HTTP calls. It applies no retry policy
// of its own: recovery belongs to the connection provider.
type Dispatcher struct {
	catalog *catalog.Catalog
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Dispatcher. rps > 0 enables client-side rate limiting
// of outbound calls; zero disables it.
func New(cat *catalog.Catalog, logger *zap.Logger, rps float64) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		catalog: cat,
		client:  &http.Client{},
		logger:  logger,
	}
	if rps > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return d
}

// Execute resolves, validates and issues one API operation.
func (d *Dispatcher) Execute(ctx context.Context, req Request, cfg connection.Config) (*RawResponse, error) {
	op, err := d.catalog.Operation(req.OperationID)
	if err != nil {
		return nil, err
	}
	if err := validateParams(op, req); err != nil {
		return nil, err
	}

	path, err := substitutePath(op.Path, req.PathParams)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + path
	if q := encodeQuery(req.QueryParams); q != "" {
		endpoint += "?" + q
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apierr.Validation("request body is not serializable: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = connection.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, apierr.Transport(err, "rate limit wait interrupted")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, op.Method, endpoint, body)
	if err != nil {
		return nil, apierr.Validation("build request for %s %s: %v", op.Method, endpoint, err)
	}

	// Header precedence: connection headers, then caller headers, then
	// authentication last so a caller cannot override it.
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cfg.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.Bearer)
	} else if cfg.Basic != nil {
		httpReq.SetBasicAuth(cfg.Basic.Username, cfg.Basic.Password)
	}

	d.logger.Debug("dispatching api call",
		zap.String("operation_id", op.ID),
		zap.String("method", op.Method),
		zap.String("url", endpoint),
	)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, apierr.Transport(err, "%s %s failed", op.Method, endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Transport(err, "read response of %s %s", op.Method, endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.API(resp.StatusCode, string(raw))
	}
	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return &RawResponse{StatusCode: resp.StatusCode}, nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		preview := string(raw)
		if len(preview) > rawPreview {
			preview = preview[:rawPreview]
		}
		data = map[string]any{"raw": preview}
	}
	return &RawResponse{StatusCode: resp.StatusCode, Data: data}, nil
}

// validateParams fails fast on missing required parameters and on
// names the operation never declared; unknown data is rejected, not
// silently dropped or forwarded.
func validateParams(op *catalog.Operation, req Request) error {
	declared := map[string]map[string]catalog.Parameter{
		"path":  {},
		"query": {},
	}
	hasBodyParam := op.RequestBodyDeclared()
	for _, p := range op.Parameters {
		switch p.In {
		case "path", "query":
			declared[p.In][p.Name] = p
		case "body":
			hasBodyParam = true
		}
	}

	var unknown []string
	for name := range req.PathParams {
		if _, ok := declared["path"][name]; !ok {
			unknown = append(unknown, "path:"+name)
		}
	}
	for name := range req.QueryParams {
		if _, ok := declared["query"][name]; !ok {
			unknown = append(unknown, "query:"+name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apierr.Validation("unknown parameter(s) for %s: %s; use get_operation_schema to see the declared parameters",
			op.ID, strings.Join(unknown, ", "))
	}

	var missing []string
	for _, p := range op.Parameters {
		if !p.Required {
			continue
		}
		switch p.In {
		case "path":
			if _, ok := req.PathParams[p.Name]; !ok {
				missing = append(missing, "path:"+p.Name)
			}
		case "query":
			if _, ok := req.QueryParams[p.Name]; !ok {
				missing = append(missing, "query:"+p.Name)
			}
		case "body":
			if req.Body == nil {
				missing = append(missing, "body")
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apierr.Validation("missing required parameter(s) for %s: %s",
			op.ID, strings.Join(missing, ", "))
	}

	if req.Body != nil && !hasBodyParam {
		return apierr.Validation("operation %s does not accept a request body", op.ID)
	}
	return nil
}

// substitutePath replaces every {placeholder} with its URL-escaped
// value. A placeholder without a supplied value is an error, never an
// empty substitution.
func substitutePath(template string, params map[string]string) (string, error) {
	path := template
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	if matches := placeholderPattern.FindAllStringSubmatch(path, 3); len(matches) > 0 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m[1]
		}
		return "", apierr.Validation("missing required path parameter(s): %s; use get_operation_schema to see required parameters",
			strings.Join(names, ", "))
	}
	return path, nil
}

// encodeQuery renders query parameters, repeating the key for list
// values.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for name, v := range params {
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				values.Add(name, queryString(item))
			}
		default:
			values.Add(name, queryString(v))
		}
	}
	return values.Encode()
}

func queryString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%v", vv)
	default:
		return fmt.Sprintf("%v", v)
	}
}
