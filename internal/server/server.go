package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/segvguard/internal/audit"
	"github.com/ppiankov/segvguard/internal/clock"
	"github.com/ppiankov/segvguard/internal/config"
	"github.com/ppiankov/segvguard/internal/crashtable"
	"github.com/ppiankov/segvguard/internal/execattr"
	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/scope"
	"github.com/ppiankov/segvguard/internal/wire"
)

// Config holds gRPC server configuration.
type Config struct {
	ConfigPath string
	Listen     string // overrides the listen address from the config file
	Logger     *slog.Logger
	Clock      clock.Clock
	Resolver   execattr.Resolver
}

// Server implements the segvguard.v1.Guard gRPC service.
type Server struct {
	mu         sync.RWMutex
	settings   *config.Config
	configHash string

	guard    *guard.Guard
	auditLog *audit.Log
	logger   *slog.Logger
	cfg      Config

	grpcServer *grpc.Server
}

// New loads the configuration, builds the scope tree and crash table, and
// opens the audit log.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	settings, hash, err := config.LoadWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Listen != "" {
		settings.Listen = cfg.Listen
	}

	registry, err := settings.BuildRegistry(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build scopes: %w", err)
	}

	var auditLog *audit.Log
	var sink guard.AuditSink
	if settings.AuditLog != "" {
		auditLog, err = audit.OpenWithClock(settings.AuditLog, cfg.Clock)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sink = auditLog
	}

	g, err := guard.New(guard.Options{
		Registry:   registry,
		Resolver:   cfg.Resolver,
		Audit:      sink,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
		Shards:     settings.Shards,
		MaxEntries: settings.MaxEntries,
	})
	if err != nil {
		if auditLog != nil {
			auditLog.Close()
		}
		return nil, err
	}

	s := &Server{
		settings:   settings,
		configHash: hash,
		guard:      g,
		auditLog:   auditLog,
		logger:     cfg.Logger,
		cfg:        cfg,
		grpcServer: grpc.NewServer(grpc.Creds(peerCredentials{})),
	}
	wire.RegisterGuardServer(s.grpcServer, s)

	root := registry.Root()
	s.logger.Info("segvguard configured",
		"status", root.Mode.String(),
		"expiry_timeout", root.Expiry,
		"suspend_timeout", root.Suspension,
		"max_crashes", root.MaxCrashes,
		"shards", g.Store().Shards(),
		"max_entries", settings.MaxEntries,
		"scopes", len(registry.List()),
		"config_hash", hash)
	return s, nil
}

// Guard returns the guard served by this server.
func (s *Server) Guard() *guard.Guard { return s.guard }

// ConfigHash returns the hash of the configuration currently applied.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

// Reaper returns a sweeper for the crash table at the configured interval.
func (s *Server) Reaper() *crashtable.Reaper {
	s.mu.RLock()
	interval := s.settings.SweepInterval
	s.mu.RUnlock()
	return crashtable.NewReaper(s.guard.Store(), interval)
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	s.mu.RLock()
	addr := s.settings.Listen
	s.mu.RUnlock()

	lis, err := listen(addr)
	if err != nil {
		return err
	}
	if lis.Addr().Network() == "tcp" {
		s.logger.Warn("listening on TCP, peer uids are not verified", "addr", lis.Addr().String())
	}
	s.logger.Info("segvguard listening", "network", lis.Addr().Network(), "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// listen opens the configured socket. A unix socket replaces any stale
// file and is world-connectable; callers are told apart by their uid.
func listen(addr string) (net.Listener, error) {
	network, address := config.SplitListen(addr)
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		if fi, err := os.Lstat(address); err == nil {
			if fi.Mode()&os.ModeSocket == 0 {
				return nil, fmt.Errorf("%s exists and is not a socket", address)
			}
			if err := os.Remove(address); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket: %w", err)
			}
		}
	}
	lis, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if network == "unix" {
		if err := os.Chmod(address, 0o666); err != nil {
			lis.Close()
			return nil, fmt.Errorf("failed to open socket permissions: %w", err)
		}
	}
	return lis, nil
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Close cleans up resources.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// ReloadConfig re-reads the config file and applies the root scope
// tunables. Existing child scopes keep their snapshots; table geometry
// and the listen address only change on restart.
func (s *Server) ReloadConfig() error {
	settings, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	if err := s.guard.Registry().Replace(scope.RootName, settings.Root); err != nil {
		return fmt.Errorf("failed to apply root scope: %w", err)
	}

	s.mu.Lock()
	if settings.Shards != s.settings.Shards || settings.MaxEntries != s.settings.MaxEntries {
		s.logger.Warn("table geometry changed in config, restart to apply",
			"shards", settings.Shards, "max_entries", settings.MaxEntries)
	}
	s.settings.Root = settings.Root
	s.configHash = hash
	s.mu.Unlock()

	s.logger.Info("config reloaded", "config_hash", hash)
	return nil
}

// Decide implements the Decide RPC.
func (s *Server) Decide(ctx context.Context, req *wire.DecideRequest) (*wire.DecideResponse, error) {
	if req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	d := s.guard.Decide(req.Scope, req.Path)
	return &wire.DecideResponse{Decision: d.String()}, nil
}

// Check implements the Check RPC.
func (s *Server) Check(ctx context.Context, req *wire.CheckRequest) (*wire.CheckResponse, error) {
	if req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	if err := authorizeUID(ctx, req.Process.UID); err != nil {
		return nil, err
	}
	return &wire.CheckResponse{Verdict: s.guard.CheckBeforeExec(req.Process, req.Path)}, nil
}

// Crash implements the Crash RPC.
func (s *Server) Crash(ctx context.Context, req *wire.CrashRequest) (*wire.CrashResponse, error) {
	if req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	if err := authorizeUID(ctx, req.Process.UID); err != nil {
		s.logger.Warn("rejected crash report for another uid", "uid", req.Process.UID, "error", err)
		return nil, err
	}
	return &wire.CrashResponse{Result: s.guard.OnCrash(req.Process, req.Path)}, nil
}

// Entries implements the Entries RPC.
func (s *Server) Entries(ctx context.Context, req *wire.EntriesRequest) (*wire.EntriesResponse, error) {
	store := s.guard.Store()
	return &wire.EntriesResponse{Shards: store.Shards(), Entries: store.Snapshot()}, nil
}

// CreateScope implements the CreateScope RPC.
func (s *Server) CreateScope(ctx context.Context, req *wire.CreateScopeRequest) (*wire.ScopeResponse, error) {
	if err := authorizeAdmin(ctx); err != nil {
		return nil, err
	}
	if _, err := s.guard.Registry().Create(req.Name, req.Parent); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("scope created", "scope", req.Name, "parent", req.Parent)
	return s.scopeResponse(req.Name)
}

// DestroyScope implements the DestroyScope RPC.
func (s *Server) DestroyScope(ctx context.Context, req *wire.DestroyScopeRequest) (*wire.DestroyScopeResponse, error) {
	if err := authorizeAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.guard.Registry().Destroy(req.Name); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("scope destroyed", "scope", req.Name)
	return &wire.DestroyScopeResponse{}, nil
}

// SetTunable implements the SetTunable RPC.
func (s *Server) SetTunable(ctx context.Context, req *wire.SetTunableRequest) (*wire.ScopeResponse, error) {
	if err := authorizeAdmin(ctx); err != nil {
		return nil, err
	}
	if _, err := s.guard.Registry().Set(req.Scope, req.Tunable, req.Value); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("tunable written", "scope", req.Scope, "tunable", req.Tunable, "value", req.Value)
	return s.scopeResponse(req.Scope)
}

// GetScope implements the GetScope RPC.
func (s *Server) GetScope(ctx context.Context, req *wire.GetScopeRequest) (*wire.ScopeResponse, error) {
	if req.Name == "" {
		return &wire.ScopeResponse{Scopes: s.guard.Registry().List()}, nil
	}
	return s.scopeResponse(req.Name)
}

func (s *Server) scopeResponse(name string) (*wire.ScopeResponse, error) {
	if name == "" {
		name = scope.RootName
	}
	for _, info := range s.guard.Registry().List() {
		if info.Name == name {
			return &wire.ScopeResponse{Scopes: []scope.Info{info}}, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "unknown scope %q", name)
}

// toStatus maps registry errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, scope.ErrUnknownScope):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, scope.ErrScopeExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, scope.ErrScopeBusy):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, scope.ErrInvalidValue), errors.Is(err, scope.ErrUnknownTunable):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
