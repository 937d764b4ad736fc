// Package config loads the segvguard YAML configuration file.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/segvguard/internal/crashtable"
	"github.com/ppiankov/segvguard/internal/scope"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/segvguard/segvguard.yaml"

// Defaults for the non-policy settings.
const (
	DefaultListen     = "unix:/run/segvguard/segvguard.sock"
	DefaultMaxEntries = 65536
)

// ScopeSpec declares a scope created at startup. Unset tunables keep the
// values copied from the parent.
type ScopeSpec struct {
	Name           string      `yaml:"name"`
	Parent         string      `yaml:"parent"`
	Status         *scope.Mode `yaml:"status"`
	ExpiryTimeout  *int        `yaml:"expiry_timeout"`
	SuspendTimeout *int        `yaml:"suspend_timeout"`
	MaxCrashes     *int        `yaml:"max_crashes"`
}

// Apply overlays the declared tunables on a parent snapshot.
func (s ScopeSpec) Apply(cfg scope.Config) scope.Config {
	if s.Status != nil {
		cfg.Mode = *s.Status
	}
	if s.ExpiryTimeout != nil {
		cfg.Expiry = *s.ExpiryTimeout
	}
	if s.SuspendTimeout != nil {
		cfg.Suspension = *s.SuspendTimeout
	}
	if s.MaxCrashes != nil {
		cfg.MaxCrashes = *s.MaxCrashes
	}
	return cfg
}

// file mirrors the YAML document. Pointers distinguish unset keys.
type file struct {
	Status         *scope.Mode   `yaml:"status"`
	ExpiryTimeout  *int          `yaml:"expiry_timeout"`
	SuspendTimeout *int          `yaml:"suspend_timeout"`
	MaxCrashes     *int          `yaml:"max_crashes"`
	Hardening      bool          `yaml:"hardening"`
	Shards         int           `yaml:"shards"`
	MaxEntries     *int          `yaml:"max_entries"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	AuditLog       string        `yaml:"audit_log"`
	Listen         string        `yaml:"listen"`
	Scopes         []ScopeSpec   `yaml:"scopes"`
}

// Config is the effective configuration after defaults are applied.
type Config struct {
	Root          scope.Config
	Hardening     bool
	Shards        int
	MaxEntries    int
	SweepInterval time.Duration
	AuditLog      string
	Listen        string
	Scopes        []ScopeSpec
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Root:          scope.Defaults(false),
		Shards:        crashtable.DefaultShards,
		MaxEntries:    DefaultMaxEntries,
		SweepInterval: crashtable.DefaultSweepInterval,
		Listen:        DefaultListen,
	}
}

// Load reads the configuration at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads the configuration and returns the SHA-256 of the raw
// bytes on disk. When no file exists the hash is that of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

// Parse decodes a YAML document and applies defaults. An unrecognized
// status is kept so the registry can coerce it with a warning; numeric
// tunables that are not positive are an error.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	cfg.Hardening = f.Hardening
	cfg.Root = scope.Defaults(f.Hardening)
	cfg.Root = ScopeSpec{
		Status:         f.Status,
		ExpiryTimeout:  f.ExpiryTimeout,
		SuspendTimeout: f.SuspendTimeout,
		MaxCrashes:     f.MaxCrashes,
	}.Apply(cfg.Root)

	if err := cfg.Root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid root scope: %w", err)
	}

	if f.Shards < 0 {
		return nil, fmt.Errorf("shards must not be negative, got %d", f.Shards)
	}
	if f.Shards > 0 {
		cfg.Shards = f.Shards
	}
	if f.MaxEntries != nil {
		if *f.MaxEntries < 0 {
			return nil, fmt.Errorf("max_entries must not be negative, got %d", *f.MaxEntries)
		}
		cfg.MaxEntries = *f.MaxEntries
	}
	if f.SweepInterval > 0 {
		cfg.SweepInterval = f.SweepInterval
	}
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	cfg.AuditLog = f.AuditLog

	seen := map[string]bool{scope.RootName: true}
	for i, s := range f.Scopes {
		if s.Name == "" {
			return nil, fmt.Errorf("scopes[%d]: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("scopes[%d]: duplicate scope %q", i, s.Name)
		}
		parent := s.Parent
		if parent == "" {
			parent = scope.RootName
		}
		if !seen[parent] {
			return nil, fmt.Errorf("scopes[%d]: parent %q must be declared before %q", i, parent, s.Name)
		}
		seen[s.Name] = true
	}
	cfg.Scopes = f.Scopes

	return cfg, nil
}

// BuildRegistry creates the scope registry described by cfg. Declared
// scopes are created in order, each from a snapshot of its parent.
func (c *Config) BuildRegistry(logger *slog.Logger) (*scope.Registry, error) {
	reg, err := scope.NewRegistry(c.Root, logger)
	if err != nil {
		return nil, err
	}
	for _, s := range c.Scopes {
		parentCfg, err := reg.Create(s.Name, s.Parent)
		if err != nil {
			return nil, fmt.Errorf("failed to create scope %q: %w", s.Name, err)
		}
		if err := reg.Replace(s.Name, s.Apply(parentCfg)); err != nil {
			return nil, fmt.Errorf("failed to configure scope %q: %w", s.Name, err)
		}
	}
	return reg, nil
}

// SplitListen returns the network and address for a listen setting.
// "unix:/path", "unix:///path" and bare absolute paths name a unix
// socket; anything else is a TCP host:port.
func SplitListen(addr string) (network, address string) {
	if rest, ok := strings.CutPrefix(addr, "unix:"); ok {
		return "unix", "/" + strings.TrimLeft(rest, "/")
	}
	if strings.HasPrefix(addr, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

// DialTarget converts a listen setting into a gRPC client target.
func DialTarget(addr string) string {
	network, address := SplitListen(addr)
	if network == "unix" {
		return "unix://" + address
	}
	return address
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
