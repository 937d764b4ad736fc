package scope

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RootName is the name of the scope with no parent.
const RootName = "root"

// Info describes one scope for listing.
type Info struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Config Config `json:"config"`
}

type node struct {
	parent   string
	children int
	cfg      Config
}

// Registry holds the scope tree. A child copies its parent's values when
// it is created; afterwards the two are independent. Lookups never walk
// the tree.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]*node
	logger *slog.Logger
}

// NewRegistry creates a registry whose root scope starts with rootCfg.
// An invalid root mode is coerced to ForceEnabled.
func NewRegistry(rootCfg Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := rootCfg.Validate(); err != nil {
		return nil, fmt.Errorf("root scope: %w", err)
	}
	rootCfg = Sanitize(rootCfg, logger)
	return &Registry{
		scopes: map[string]*node{RootName: {cfg: rootCfg}},
		logger: logger,
	}, nil
}

// Root returns the root scope's current configuration.
func (r *Registry) Root() Config {
	cfg, _ := r.Get(RootName)
	return cfg
}

// Get returns the configuration of a scope. An empty name means root.
func (r *Registry) Get(name string) (Config, error) {
	if name == "" {
		name = RootName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.scopes[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
	return n.cfg, nil
}

// Create adds a scope whose configuration is a snapshot of parent's.
func (r *Registry) Create(name, parent string) (Config, error) {
	if name == "" {
		return Config{}, fmt.Errorf("%w: empty scope name", ErrInvalidValue)
	}
	if parent == "" {
		parent = RootName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scopes[name]; exists {
		return Config{}, fmt.Errorf("%w: %q", ErrScopeExists, name)
	}
	p, ok := r.scopes[parent]
	if !ok {
		return Config{}, fmt.Errorf("%w: parent %q", ErrUnknownScope, parent)
	}
	p.children++
	r.scopes[name] = &node{parent: parent, cfg: p.cfg}
	return p.cfg, nil
}

// Destroy removes a scope. The root scope and scopes with live children
// cannot be destroyed.
func (r *Registry) Destroy(name string) error {
	if name == RootName || name == "" {
		return fmt.Errorf("%w: cannot destroy root scope", ErrInvalidValue)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.scopes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
	if n.children > 0 {
		return fmt.Errorf("%w: %q has %d", ErrScopeBusy, name, n.children)
	}
	if p, ok := r.scopes[n.parent]; ok {
		p.children--
	}
	delete(r.scopes, name)
	return nil
}

// Replace swaps a scope's whole configuration, as done on hot reload of
// the root scope. Children are unaffected.
func (r *Registry) Replace(name string, cfg Config) error {
	if name == "" {
		name = RootName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = Sanitize(cfg, r.logger.With("scope", name))

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.scopes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
	n.cfg = cfg
	return nil
}

// Set writes one tunable of a scope and returns the resulting
// configuration. An unknown status is coerced to force_enabled with a
// warning; non-positive numbers are rejected.
func (r *Registry) Set(name, tunable, value string) (Config, error) {
	if name == "" {
		name = RootName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.scopes[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}

	cfg := n.cfg
	switch tunable {
	case "status":
		mode, err := ParseMode(value)
		if err != nil {
			r.logger.Warn("invalid status written, forcing protection on",
				"scope", name, "value", value)
			mode = ForceEnabled
		}
		cfg.Mode = mode
	case "expiry_timeout", "suspend_timeout", "max_crashes":
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalidValue, tunable, value)
		}
		switch tunable {
		case "expiry_timeout":
			cfg.Expiry = v
		case "suspend_timeout":
			cfg.Suspension = v
		default:
			cfg.MaxCrashes = v
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownTunable, tunable)
	}

	n.cfg = cfg
	return cfg, nil
}

// List returns all scopes sorted by name, root first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.scopes))
	for name, n := range r.scopes {
		out = append(out, Info{Name: name, Parent: n.parent, Config: n.cfg})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == RootName {
			return true
		}
		if out[j].Name == RootName {
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out
}
