package cli

import (
	"fmt"
	"io"

	"github.com/ppiankov/segvguard/internal/audit"
	"github.com/ppiankov/segvguard/internal/client"
	"github.com/ppiankov/segvguard/internal/config"
	"github.com/ppiankov/segvguard/internal/guard"
)

// localGuard builds an in-process guard from the config file. The
// returned closer releases the audit log.
func localGuard() (*guard.Guard, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	registry, err := cfg.BuildRegistry(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build scopes: %w", err)
	}

	opts := guard.Options{
		Registry:   registry,
		Logger:     logger,
		Shards:     cfg.Shards,
		MaxEntries: cfg.MaxEntries,
	}
	var closer io.Closer = nopCloser{}
	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		opts.Audit = log
		closer = log
	}

	g, err := guard.New(opts)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return g, closer, nil
}

// dial connects to the daemon at addr, or at the config's listen address
// when addr is empty.
func dial(addr string) (*client.Client, error) {
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Listen
	}
	return client.New(addr)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
