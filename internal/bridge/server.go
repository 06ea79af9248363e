// Package bridge wires the catalog, dispatcher, response shaper and a
// connection provider behind the five MCP tools exposed to the calling
// agent. It speaks MCP over stdio; all logging goes to stderr and the
// audit file, never stdout.
package bridge

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/unblu/unblu-mcp/internal/audit"
	"github.com/unblu/unblu-mcp/internal/catalog"
	"github.com/unblu/unblu-mcp/internal/connection"
	"github.com/unblu/unblu-mcp/internal/dispatch"
	"github.com/unblu/unblu-mcp/internal/policy"
)

const serverName = "unblu-mcp"

const instructions = `Unblu MCP Server - Token-Efficient API Access

This server provides access to 300+ Unblu API endpoints using
progressive disclosure to minimize token usage. Instead of loading all
tool definitions upfront, use these discovery tools to find and execute
the operations you need:

1. list_services() - See available API service categories
2. list_operations(service) - See operations in a specific service
3. search_operations(query) - Find operations by keyword
4. get_operation_schema(operation_id) - Get full details for an operation
5. call_api(operation_id, ...) - Execute any API operation

Example workflow:
1. list_services() to see categories like "Conversations", "Users", "Bots"
2. list_operations("Conversations") to see available conversation operations
3. get_operation_schema("conversationsGetById") to see required parameters
4. call_api("conversationsGetById", path_params={"conversationId": "abc123"})`

// Options configures a Server. Catalog and Provider are required; a
// nil Gate allows everything and a nil Audit logger is silent.
type Options struct {
	Catalog      *catalog.Catalog
	Provider     connection.Provider
	Gate         policy.Gate
	Audit        *audit.Logger
	Logger       *zap.Logger
	Version      string
	RateLimitRPS float64
}

// Server is the MCP facade over the core.
type Server struct {
	mcp        *server.MCPServer
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	provider   connection.Provider
	gate       policy.Gate
	audit      *audit.Logger
	logger     *zap.Logger
	cache      *discoveryCache
}

// New assembles the facade and registers the five tools.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := opts.Gate
	if gate == nil {
		gate = policy.AllowAll{}
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		catalog:    opts.Catalog,
		dispatcher: dispatch.New(opts.Catalog, logger, opts.RateLimitRPS),
		provider:   opts.Provider,
		gate:       gate,
		audit:      opts.Audit,
		logger:     logger,
		cache:      newDiscoveryCache(),
	}
	s.mcp = server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	return s
}

// ServeStdio runs the provider lifecycle around the stdio transport:
// provider setup before the first request, teardown on exit.
func (s *Server) ServeStdio(ctx context.Context) error {
	if err := s.provider.Setup(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.provider.Teardown(context.Background()); err != nil {
			s.logger.Warn("provider teardown failed", zap.Error(err))
		}
	}()

	s.logger.Info("serving MCP over stdio",
		zap.String("server", serverName),
		zap.Int("services", len(s.catalog.ListServices())),
	)
	return server.ServeStdio(s.mcp)
}
