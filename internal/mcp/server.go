// Package mcp exposes the planner as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the planner service directly. Tools: plan_generate,
// plan_validate, plan_revise, plan_get, plan_lineage and plan_list.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/services"
)

// Server is an MCP server over the planner service.
type Server struct {
	mcp     *mcp.Server
	svc     services.Service
	metrics *Metrics
	logger  *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "planner")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "planner",
		Version: "dev",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server with the planner tools registered.
func NewServer(cfg *Config, svc services.Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if svc == nil {
		return nil, fmt.Errorf("planner service is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:     svc,
		metrics: NewMetrics(cfg.Logger.Underlying()),
		logger:  cfg.Logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
