package scope

import (
	"fmt"
	"log/slog"
	"time"
)

// Built-in defaults for a root scope.
const (
	DefaultExpiry     = 2 * 60
	DefaultSuspension = 10 * 60
	DefaultMaxCrashes = 5
)

// Config holds the policy parameters of one scope. Windows are in seconds,
// matching the expiry_timeout and suspend_timeout tunables.
type Config struct {
	Mode       Mode `yaml:"status" json:"status"`
	Expiry     int  `yaml:"expiry_timeout" json:"expiry_timeout"`
	Suspension int  `yaml:"suspend_timeout" json:"suspend_timeout"`
	MaxCrashes int  `yaml:"max_crashes" json:"max_crashes"`
}

// Defaults returns the built-in root configuration. Hardened systems
// default to OptOut; everything else defaults to OptIn.
func Defaults(hardening bool) Config {
	mode := OptIn
	if hardening {
		mode = OptOut
	}
	return Config{
		Mode:       mode,
		Expiry:     DefaultExpiry,
		Suspension: DefaultSuspension,
		MaxCrashes: DefaultMaxCrashes,
	}
}

// ExpiryWindow is the lifetime of an untouched tracking entry.
func (c Config) ExpiryWindow() time.Duration {
	return time.Duration(c.Expiry) * time.Second
}

// SuspensionWindow is how long an execution ban lasts.
func (c Config) SuspensionWindow() time.Duration {
	return time.Duration(c.Suspension) * time.Second
}

// Validate checks the numeric tunables. The mode is not checked here;
// use Sanitize to coerce it.
func (c Config) Validate() error {
	if c.Expiry <= 0 {
		return fmt.Errorf("%w: expiry_timeout must be positive, got %d", ErrInvalidValue, c.Expiry)
	}
	if c.Suspension <= 0 {
		return fmt.Errorf("%w: suspend_timeout must be positive, got %d", ErrInvalidValue, c.Suspension)
	}
	if c.MaxCrashes <= 0 {
		return fmt.Errorf("%w: max_crashes must be positive, got %d", ErrInvalidValue, c.MaxCrashes)
	}
	return nil
}

// Sanitize coerces an unrecognized mode to ForceEnabled and logs a
// warning. Other fields are returned unchanged.
func Sanitize(c Config, logger *slog.Logger) Config {
	if c.Mode.Valid() {
		return c
	}
	if logger != nil {
		logger.Warn("invalid segvguard status, forcing protection on",
			"status", int(c.Mode),
			"coerced_to", ForceEnabled.String())
	}
	c.Mode = ForceEnabled
	return c
}
