package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/unblu/unblu-mcp/internal/catalog"
	"github.com/unblu/unblu-mcp/internal/connection"
	"github.com/unblu/unblu-mcp/internal/policy"
)

const bridgeSpec = `{
  "tags": [
    {"name": "Conversations", "description": "Conversation management."},
    {"name": "Users", "description": "User accounts."}
  ],
  "paths": {
    "/conversations/{conversationId}": {
      "get": {
        "operationId": "conversationsGetById",
        "tags": ["Conversations"],
        "summary": "Get a conversation by id",
        "parameters": [
          {"name": "conversationId", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/users/{userId}": {
      "delete": {
        "operationId": "usersDeleteById",
        "tags": ["Users"],
        "summary": "Delete a user",
        "parameters": [
          {"name": "userId", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"204": {"description": "deleted"}}
      }
    }
  }
}`

// stubProvider serves a fixed endpoint and counts connection checks.
type stubProvider struct {
	baseURL string
	ensures int
}

func (p *stubProvider) Setup(context.Context) error { return nil }
func (p *stubProvider) EnsureConnection(context.Context) error {
	p.ensures++
	return nil
}
func (p *stubProvider) Config() connection.Config {
	return connection.Config{BaseURL: p.baseURL, Headers: map[string]string{}}
}
func (p *stubProvider) HealthCheck(context.Context) bool { return true }
func (p *stubProvider) Teardown(context.Context) error   { return nil }

func testServer(t *testing.T, upstream string, gate policy.Gate) (*Server, *stubProvider) {
	t.Helper()
	cat, err := catalog.Load([]byte(bridgeSpec))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	provider := &stubProvider{baseURL: upstream}
	return New(Options{Catalog: cat, Provider: provider, Gate: gate}), provider
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", res.Content[0])
		return ""
	}
}

// TestListServicesTool verifies the discovery listing and its cache.
func TestListServicesTool(t *testing.T) {
	s, _ := testServer(t, "", nil)
	res, err := s.handleListServices(context.Background(), callReq("list_services", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	text := resultText(t, res)
	for _, want := range []string{"Conversations", "Users", "operation_count"} {
		if !strings.Contains(text, want) {
			t.Fatalf("result %q missing %q", text, want)
		}
	}

	again, err := s.handleListServices(context.Background(), callReq("list_services", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if resultText(t, again) != text {
		t.Fatal("cached result differs from the first")
	}
}

// TestListOperationsToolUnknownService verifies the not_found path
// reaches the caller with a usable suggestion.
func TestListOperationsToolUnknownService(t *testing.T) {
	s, _ := testServer(t, "", nil)
	res, err := s.handleListOperations(context.Background(), callReq("list_operations",
		map[string]any{"service": "Conversation"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
	text := resultText(t, res)
	if !strings.Contains(text, "not_found") || !strings.Contains(text, "Conversations") {
		t.Fatalf("error text %q lacks kind or suggestion", text)
	}
}

// TestGetOperationSchemaTool verifies schema retrieval end to end.
func TestGetOperationSchemaTool(t *testing.T) {
	s, _ := testServer(t, "", nil)
	res, err := s.handleGetOperationSchema(context.Background(), callReq("get_operation_schema",
		map[string]any{"operation_id": "conversationsGetById"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"conversationId"`) || !strings.Contains(text, `"GET"`) {
		t.Fatalf("schema text %q", text)
	}
}

// TestSearchOperationsTool verifies keyword search through the tool
// surface.
func TestSearchOperationsTool(t *testing.T) {
	s, _ := testServer(t, "", nil)
	res, err := s.handleSearchOperations(context.Background(), callReq("search_operations",
		map[string]any{"query": "delete user"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "usersDeleteById") {
		t.Fatalf("search result %q", text)
	}
}

// TestCallAPIProjectsFields verifies the full call path: connection,
// dispatch, then field projection on the response.
func TestCallAPIProjectsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "abc", "topic": "support", "state": "OPEN", "internal": "x"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	s, provider := testServer(t, srv.URL, nil)
	res, err := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{
		"operation_id": "conversationsGetById",
		"path_params":  map[string]any{"conversationId": "abc"},
		"fields":       []any{"id", "topic"},
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if provider.ensures != 1 {
		t.Fatalf("EnsureConnection called %d times, want 1", provider.ensures)
	}

	var payload struct {
		Status     string         `json:"status"`
		StatusCode int            `json:"status_code"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &payload); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if payload.Status != "success" || payload.StatusCode != http.StatusOK {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.Data) != 2 || payload.Data["id"] != "abc" || payload.Data["topic"] != "support" {
		t.Fatalf("projected data = %v", payload.Data)
	}
}

// TestCallAPITruncatesLargeResponse verifies the size cap produces the
// truncation envelope.
func TestCallAPITruncatesLargeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"blob": "` + strings.Repeat("x", 5000) + `"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	s, _ := testServer(t, srv.URL, nil)
	res, err := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{
		"operation_id":      "conversationsGetById",
		"path_params":       map[string]any{"conversationId": "abc"},
		"max_response_size": float64(200),
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"_truncated": true`) || !strings.Contains(text, `"_limit": 200`) {
		t.Fatalf("result %q lacks the truncation envelope", text)
	}
}

// TestCallAPIUpstreamErrorSurfacesBody verifies a non-2xx upstream
// response reaches the caller with the body intact, so the agent can
// read the upstream detail instead of just a status line.
func TestCallAPIUpstreamErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "conversation is locked by agent X"}`, http.StatusConflict)
	}))
	defer srv.Close()

	s, _ := testServer(t, srv.URL, nil)
	res, err := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{
		"operation_id": "conversationsGetById",
		"path_params":  map[string]any{"conversationId": "abc"},
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
	text := resultText(t, res)
	if !strings.Contains(text, "api_error") || !strings.Contains(text, "409") {
		t.Fatalf("error text %q", text)
	}
	if !strings.Contains(text, "conversation is locked by agent X") {
		t.Fatalf("upstream body dropped from tool error: %q", text)
	}
}

// TestCallAPIUpstreamErrorBodyBounded verifies a huge upstream error
// body is previewed, not echoed wholesale.
func TestCallAPIUpstreamErrorBodyBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 10000), http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := testServer(t, srv.URL, nil)
	res, err := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{
		"operation_id": "conversationsGetById",
		"path_params":  map[string]any{"conversationId": "abc"},
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "xxx") {
		t.Fatalf("error text %q carries no body preview", text)
	}
	if len(text) > 400 {
		t.Fatalf("error text length = %d, want a bounded preview", len(text))
	}
}

// TestCallAPIDeniedByPolicy verifies the gate short-circuits before
// any connection work happens.
func TestCallAPIDeniedByPolicy(t *testing.T) {
	gate, err := policy.Parse([]byte(`{
		"version": "1.0", "name": "lockdown", "default_effect": "deny", "rules": []
	}`))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}

	s, provider := testServer(t, "http://localhost:1", gate)
	res, herr := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{
		"operation_id": "usersDeleteById",
		"path_params":  map[string]any{"userId": "u1"},
	}))
	if herr != nil {
		t.Fatalf("handler: %v", herr)
	}
	if !res.IsError {
		t.Fatal("expected a policy denial")
	}
	if !strings.Contains(resultText(t, res), "denied by policy") {
		t.Fatalf("error text %q", resultText(t, res))
	}
	if provider.ensures != 0 {
		t.Fatal("denied call still touched the connection provider")
	}
}

// TestCallAPIMissingOperationID verifies the required-argument check.
func TestCallAPIMissingOperationID(t *testing.T) {
	s, _ := testServer(t, "", nil)
	res, err := s.handleCallAPI(context.Background(), callReq("call_api", map[string]any{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
}
