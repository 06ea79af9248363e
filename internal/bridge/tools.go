package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/unblu/unblu-mcp/internal/apierr"
	"github.com/unblu/unblu-mcp/internal/audit"
	"github.com/unblu/unblu-mcp/internal/catalog"
	"github.com/unblu/unblu-mcp/internal/dispatch"
	"github.com/unblu/unblu-mcp/internal/shape"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_services",
		mcp.WithDescription("List all available Unblu API service categories with their descriptions and operation counts. Use this to discover what API capabilities are available."),
	), s.handleListServices)

	s.mcp.AddTool(mcp.NewTool("list_operations",
		mcp.WithDescription("List all operations available in a specific service. Use list_services() to see available services."),
		mcp.WithString("service",
			mcp.Required(),
			mcp.Description(`Service name (e.g., "Conversations", "Users", "Bots")`),
		),
	), s.handleListOperations)

	s.mcp.AddTool(mcp.NewTool("search_operations",
		mcp.WithDescription("Search for API operations by keyword. Searches operation IDs, summaries and service names."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(`Search term (e.g., "conversation", "create user", "bot")`),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default 20)"),
		),
	), s.handleSearchOperations)

	s.mcp.AddTool(mcp.NewTool("get_operation_schema",
		mcp.WithDescription("Get the full schema for a specific API operation. Use this to understand the required parameters and request body before calling an operation."),
		mcp.WithString("operation_id",
			mcp.Required(),
			mcp.Description(`The operation ID (e.g., "conversationsGetById"). Use list_operations() or search_operations() to find IDs.`),
		),
	), s.handleGetOperationSchema)

	s.mcp.AddTool(mcp.NewTool("call_api",
		mcp.WithDescription("Execute an Unblu API operation."),
		mcp.WithString("operation_id",
			mcp.Required(),
			mcp.Description("The operation ID to execute."),
		),
		mcp.WithObject("path_params",
			mcp.Description(`Path parameters (e.g., {"conversationId": "abc123"}).`),
		),
		mcp.WithObject("query_params",
			mcp.Description("Query string parameters."),
		),
		mcp.WithObject("body",
			mcp.Description("Request body for POST/PUT/PATCH operations."),
		),
		mcp.WithObject("headers",
			mcp.Description("Additional headers to include."),
		),
		mcp.WithArray("fields",
			mcp.Description(`Optional list of field paths to include in the response (e.g., ["id", "name", "items.id"]).`),
		),
		mcp.WithNumber("max_response_size",
			mcp.Description("Maximum response size in bytes (approximate). Larger responses are truncated and marked as truncated."),
		),
	), s.handleCallAPI)
}

func (s *Server) handleListServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	text, err := s.cached("list_services", func() (string, error) {
		return jsonText(s.catalog.ListServices())
	})
	s.complete("list_services", "", start, err)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleListOperations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	service, err := req.RequireString("service")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'service': %v", err)), nil
	}
	text, err := s.cached("list_operations\x00"+service, func() (string, error) {
		ops, err := s.catalog.ListOperations(service)
		if err != nil {
			return "", err
		}
		return jsonText(ops)
	})
	s.complete("list_operations", "", start, err)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSearchOperations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'query': %v", err)), nil
	}
	limit := getInt(req, "limit", 0)
	text, err := s.cached("search_operations\x00"+query+"\x00"+strconv.Itoa(limit), func() (string, error) {
		results := s.catalog.SearchOperations(query, limit)
		if results == nil {
			results = []catalog.OperationInfo{}
		}
		return jsonText(results)
	})
	s.complete("search_operations", "", start, err)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleGetOperationSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	operationID, err := req.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'operation_id': %v", err)), nil
	}
	text, err := s.cached("get_operation_schema\x00"+operationID, func() (string, error) {
		schema, err := s.catalog.OperationSchema(operationID)
		if err != nil {
			return "", err
		}
		return jsonText(schema)
	})
	s.complete("get_operation_schema", operationID, start, err)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleCallAPI(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	operationID, err := req.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("missing required parameter 'operation_id': %v", err)), nil
	}
	args := argsMap(req)

	record := audit.Record{
		RequestID:   requestID,
		Tool:        "call_api",
		OperationID: operationID,
	}
	fail := func(err error) (*mcp.CallToolResult, error) {
		record.Duration = time.Since(start)
		record.Outcome = string(apierr.KindOf(err))
		if record.Outcome == "" {
			record.Outcome = "error"
		}
		record.Detail = err.Error()
		s.audit.RequestCompleted(record)
		return toolError(err), nil
	}

	// Authorization short-circuits before any network activity.
	if decision := s.gate.Authorize("call_api", operationID); !decision.Allowed {
		record.Duration = time.Since(start)
		record.Outcome = "denied"
		record.Detail = decision.String()
		s.audit.RequestCompleted(record)
		return mcp.NewToolResultError(fmt.Sprintf(
			"operation %q denied by policy (rule: %s)", operationID, decision.Rule)), nil
	}

	if err := s.provider.EnsureConnection(ctx); err != nil {
		return fail(err)
	}
	cfg := s.provider.Config()

	raw, err := s.dispatcher.Execute(ctx, dispatch.Request{
		OperationID: operationID,
		PathParams:  stringMapArg(args, "path_params"),
		QueryParams: anyMapArg(args, "query_params"),
		Body:        args["body"],
		Headers:     stringMapArg(args, "headers"),
	}, cfg)
	if err != nil {
		return fail(err)
	}

	result := map[string]any{
		"status":      "success",
		"status_code": raw.StatusCode,
	}
	if raw.Data != nil {
		result["data"] = shape.Shape(raw.Data, stringSliceArg(args, "fields"), getInt(req, "max_response_size", 0))
	}
	text, err := jsonText(result)
	if err != nil {
		return fail(fmt.Errorf("serialize response: %w", err))
	}

	record.Duration = time.Since(start)
	record.Outcome = "success"
	s.audit.RequestCompleted(record)
	s.logger.Debug("call_api completed",
		zap.String("request_id", requestID),
		zap.String("operation_id", operationID),
		zap.Int("status_code", raw.StatusCode),
	)
	return mcp.NewToolResultText(text), nil
}

// cached serves discovery results from the in-process cache. Errors
// are never cached so a corrected retry recomputes.
func (s *Server) cached(key string, compute func() (string, error)) (string, error) {
	if text, ok := s.cache.get(key); ok {
		return text, nil
	}
	text, err := compute()
	if err != nil {
		return "", err
	}
	s.cache.put(key, text)
	return text, nil
}

// complete feeds the audit hook for discovery tools.
func (s *Server) complete(tool, operationID string, start time.Time, err error) {
	rec := audit.Record{
		Tool:        tool,
		OperationID: operationID,
		Duration:    time.Since(start),
		Outcome:     "success",
	}
	if err != nil {
		rec.Outcome = string(apierr.KindOf(err))
		if rec.Outcome == "" {
			rec.Outcome = "error"
		}
		rec.Detail = err.Error()
	}
	s.audit.RequestCompleted(rec)
}

// apiErrorBodyPreview bounds how much of an upstream error body is
// carried into the tool error text.
const apiErrorBodyPreview = 300

// toolError renders an error for the calling agent. Upstream API
// errors keep their response body: the status line alone rarely says
// what went wrong.
func toolError(err error) *mcp.CallToolResult {
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Kind == apierr.KindAPI && ae.Body != "" {
		body := ae.Body
		if len(body) > apiErrorBodyPreview {
			body = body[:apiErrorBodyPreview]
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", ae.Error(), body))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonText(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// getInt reads a numeric argument with a default. MCP clients send
// JSON numbers, which arrive as float64.
func getInt(req mcp.CallToolRequest, name string, def int) int {
	return int(req.GetFloat(name, float64(def)))
}

func argsMap(req mcp.CallToolRequest) map[string]any {
	if m, ok := req.Params.Arguments.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func anyMapArg(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return nil
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
