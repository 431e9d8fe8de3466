// Package mcp implements a Model Context Protocol server over the task
// tools.
//
// The server exposes the same five todo capabilities the conversational
// agent uses, so MCP clients (Claude Desktop, Cursor, the Genkit CLI)
// can work on a user's list without going through the chat endpoint.
// Execution runs through the shared tool dispatcher, so timeout and
// retry behavior is identical on both paths.
//
// MCP clients are local processes with no bearer token, so every tool
// takes an explicit owner_id parameter instead of reading an
// authenticated identity from the request.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/taskmind/taskmind/internal/tooling"
)

// Server wraps the MCP SDK server and the tool dispatcher.
type Server struct {
	mcpServer  *mcp.Server
	dispatcher *tooling.Dispatcher
	logger     *slog.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name       string
	Version    string
	Logger     *slog.Logger
	Dispatcher *tooling.Dispatcher
}

// NewServer creates an MCP server with all task tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}

	if err := s.registerTaskTools(); err != nil {
		return nil, fmt.Errorf("registering task tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport. Blocks until the
// transport closes or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	//nolint:wrapcheck // SDK error is the caller's signal as-is
	return s.mcpServer.Run(ctx, transport)
}
