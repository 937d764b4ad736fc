package config

import (
	"fmt"

	"github.com/ppiankov/segvguard/internal/crashtable"
	"github.com/ppiankov/segvguard/internal/scope"
)

// DefaultYAML returns a commented configuration file carrying the
// built-in defaults. With hardening the root status is optout.
func DefaultYAML(hardening bool) string {
	root := scope.Defaults(hardening)
	return fmt.Sprintf(`# segvguard configuration
# Generated by: segvguard init

# Root scope policy.
#   status: disabled | optin | optout | force_enabled (or 0-3)
#     optin:  track only programs whose image requests it
#     optout: track everything except programs that opt out
hardening: %t
status: %s

# Seconds an untouched crash entry is kept.
expiry_timeout: %d

# Seconds a program stays suspended once it reaches max_crashes.
suspend_timeout: %d

# Crashes within expiry_timeout that trigger a suspension.
max_crashes: %d

# Crash table geometry. shards is fixed for the life of the daemon.
# max_entries bounds tracked programs (0 = unlimited).
shards: %d
max_entries: %d

# How often expired entries are swept from the table.
sweep_interval: %s

# Hash-chained JSONL log of crash, suspend, deny and expire events.
# Leave empty to disable.
audit_log: ""

# gRPC listen address for segvguard serve. A unix socket lets the daemon
# check that launchers only report crashes for their own uid; a TCP
# host:port does not.
listen: %s

# Scopes created at startup, in order. Each starts as a copy of its parent.
# scopes:
#   - name: web
#     parent: root
#     max_crashes: 3
`,
		hardening,
		root.Mode,
		root.Expiry,
		root.Suspension,
		root.MaxCrashes,
		crashtable.DefaultShards,
		DefaultMaxEntries,
		crashtable.DefaultSweepInterval,
		DefaultListen,
	)
}
