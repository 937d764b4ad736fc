package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/scope"
)

// Backend is the guard the tools query, in process or over gRPC.
// *client.Client implements it; Local adapts an in-process Guard.
type Backend interface {
	Decide(ctx context.Context, scope, path string) (model.ExecDecision, error)
	Check(ctx context.Context, proc guard.Process, path string) (model.Verdict, error)
	Entries(ctx context.Context) ([]model.EntryInfo, int, error)
	Scopes(ctx context.Context, name string) ([]scope.Info, error)
}

// Local adapts an in-process Guard to Backend.
type Local struct {
	Guard *guard.Guard
}

func (l Local) Decide(_ context.Context, scopeName, path string) (model.ExecDecision, error) {
	return l.Guard.Decide(scopeName, path), nil
}

func (l Local) Check(_ context.Context, proc guard.Process, path string) (model.Verdict, error) {
	return l.Guard.CheckBeforeExec(proc, path), nil
}

func (l Local) Entries(context.Context) ([]model.EntryInfo, int, error) {
	store := l.Guard.Store()
	return store.Snapshot(), store.Shards(), nil
}

func (l Local) Scopes(_ context.Context, name string) ([]scope.Info, error) {
	all := l.Guard.Registry().List()
	if name == "" {
		return all, nil
	}
	for _, info := range all {
		if info.Name == name {
			return []scope.Info{info}, nil
		}
	}
	return nil, scope.ErrUnknownScope
}

// Config holds MCP server configuration.
type Config struct {
	Backend Backend
	Version string
}

// Server exposes read-only segvguard tools over MCP.
type Server struct {
	mcpServer *mcpsdk.Server
	backend   Backend
}

// New creates an MCP server with the segvguard tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("mcp: backend is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{backend: cfg.Backend}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "segvguard",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "segvguard_status",
		Description: "Show the crash-tracking configuration of every scope and the size of the crash table.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "segvguard_check",
		Description: "Check whether a user may start a program: computes the activation decision and runs the pre-exec check. Denials are logged.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "segvguard_entries",
		Description: "List live crash entries with their crash count, state and deadline.",
	}, s.handleEntries)
}
