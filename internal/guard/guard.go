// Package guard ties the crash table, the scope registry and the
// activation policy together. OnCrash records a crash for an active
// process; CheckBeforeExec refuses to start a program that has crashed too
// often for the same user.
package guard

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/ppiankov/segvguard/internal/audit"
	"github.com/ppiankov/segvguard/internal/clock"
	"github.com/ppiankov/segvguard/internal/crashtable"
	"github.com/ppiankov/segvguard/internal/execattr"
	"github.com/ppiankov/segvguard/internal/model"
	"github.com/ppiankov/segvguard/internal/policy"
	"github.com/ppiankov/segvguard/internal/scope"
)

// ErrExecDenied is surfaced to launchers when a suspended program is
// started. It matches fs.ErrPermission.
var ErrExecDenied = fmt.Errorf("execution suspended after repeated crashes: %w", fs.ErrPermission)

// AuditSink receives security events. *audit.Log implements it.
type AuditSink interface {
	Record(entry audit.AuditEntry) error
}

// Process is what the guard knows about one program load. Decision is
// computed once by Decide and must be passed unchanged to every later
// call for the same process.
type Process struct {
	PID      int                `json:"pid"`
	Name     string             `json:"name"`
	UID      uint32             `json:"uid"`
	Scope    string             `json:"scope,omitempty"`
	Decision model.ExecDecision `json:"decision"`
}

// CrashResult reports what OnCrash did with a crash.
type CrashResult struct {
	Tracked   bool `json:"tracked"`
	Crashes   int  `json:"crashes"`
	Suspended bool `json:"suspended"`
}

// Options configure a Guard. Registry is required; other zero values
// select defaults.
type Options struct {
	Registry   *scope.Registry
	Resolver   execattr.Resolver
	Audit      AuditSink
	Clock      clock.Clock
	Logger     *slog.Logger
	Shards     int
	MaxEntries int
}

// Guard is safe for concurrent use.
type Guard struct {
	registry *scope.Registry
	store    *crashtable.Store
	resolver execattr.Resolver
	audit    AuditSink
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a Guard and its crash table.
func New(opts Options) (*Guard, error) {
	if opts.Registry == nil {
		return nil, errors.New("guard: scope registry is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = execattr.Inspector{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := &Guard{
		registry: opts.Registry,
		resolver: opts.Resolver,
		audit:    opts.Audit,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	g.store = crashtable.New(crashtable.Options{
		Shards:     opts.Shards,
		MaxEntries: opts.MaxEntries,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		OnExpire:   g.recordExpire,
	})
	return g, nil
}

// Store exposes the crash table for sweeping and inspection.
func (g *Guard) Store() *crashtable.Store { return g.store }

// Registry returns the scope registry the guard reads policy from.
func (g *Guard) Registry() *scope.Registry { return g.registry }

// Decide computes the activation decision for loading the program at path
// in the named scope.
func (g *Guard) Decide(scopeName, path string) model.ExecDecision {
	cfg := g.scopeConfig(scopeName)

	attrs, err := g.resolver.Resolve(path)
	in := policy.ExecInput{AttrErr: err}
	if err != nil {
		g.logger.Warn("failed to read executable attributes", "path", path, "error", err)
	} else {
		in.SetID = attrs.SetID
		in.Opt = attrs.Opt
	}
	return policy.ComputeExecDecision(cfg, in, g.logger)
}

// OnCrash records a crash of proc running the program at exe. Bookkeeping
// failures are logged and the crash goes untracked.
func (g *Guard) OnCrash(proc Process, exe string) CrashResult {
	if proc.Decision == model.Inactive {
		return CrashResult{}
	}

	id, err := g.resolver.Identify(exe)
	if err != nil {
		g.logger.Warn("failed to identify crashed executable, crash not tracked",
			"path", exe, "pid", proc.PID, "error", err)
		return CrashResult{}
	}

	cfg := g.scopeConfig(proc.Scope)
	key := model.NewCrashKey(proc.UID, id)
	now := g.clock.Now()

	var res CrashResult
	err = g.store.Upsert(key, func(e *crashtable.Entry, created bool) {
		e.Crashes++
		e.Name = proc.Name
		switch {
		case e.Crashes >= cfg.MaxCrashes:
			e.State = model.Suspended
			e.Arm(now.Add(cfg.SuspensionWindow()))
			res.Suspended = true
		case created || e.State == model.Suspended:
			// A suspended entry below the threshold was left behind by a
			// raised max_crashes.
			e.State = model.Tracking
			e.Arm(now.Add(cfg.ExpiryWindow()))
		}
		res.Tracked = true
		res.Crashes = e.Crashes
	})
	if err != nil {
		g.logger.Warn("failed to record crash, crash not tracked",
			"name", proc.Name, "pid", proc.PID, "key", key.String(), "error", err)
		return CrashResult{}
	}

	g.record(audit.EventCrash, proc, key, res.Crashes, "")
	if res.Suspended {
		g.suspend(proc, key, res.Crashes, cfg)
	}
	return res
}

// CheckBeforeExec decides whether proc may start the program at exe.
// Failure to identify the program allows execution.
func (g *Guard) CheckBeforeExec(proc Process, exe string) model.Verdict {
	if proc.Decision == model.Inactive {
		return model.Verdict{Decision: model.Allow, Reason: "tracking inactive"}
	}

	id, err := g.resolver.Identify(exe)
	if err != nil {
		g.logger.Warn("failed to identify executable, allowing execution",
			"path", exe, "pid", proc.PID, "error", err)
		return model.Verdict{Decision: model.Allow, Reason: "executable identity unavailable"}
	}

	cfg := g.scopeConfig(proc.Scope)
	key := model.NewCrashKey(proc.UID, id)
	now := g.clock.Now()

	// The scope's max_crashes may have changed since the last crash, so
	// the entry's state is brought in line with it here.
	var crashes int
	var escalated bool
	g.store.Update(key, func(e *crashtable.Entry) {
		crashes = e.Crashes
		switch {
		case e.Crashes >= cfg.MaxCrashes && e.State != model.Suspended:
			e.State = model.Suspended
			e.Arm(now.Add(cfg.SuspensionWindow()))
			escalated = true
		case e.Crashes < cfg.MaxCrashes && e.State == model.Suspended:
			e.State = model.Tracking
			if limit := now.Add(cfg.ExpiryWindow()); e.Deadline.After(limit) {
				e.Arm(limit)
			}
		}
	})
	if escalated {
		g.suspend(proc, key, crashes, cfg)
	}
	if crashes < cfg.MaxCrashes {
		return model.Verdict{Decision: model.Allow, Crashes: crashes}
	}

	reason := fmt.Sprintf("%d crashes, limit %d", crashes, cfg.MaxCrashes)
	g.logger.Warn("Preventing execution due to repeated crashes",
		"name", proc.Name,
		"pid", proc.PID,
		"uid", proc.UID,
		"crashes", crashes)
	g.record(audit.EventDeny, proc, key, crashes, reason)
	return model.Verdict{Decision: model.Deny, Reason: reason, Crashes: crashes}
}

// VerdictErr converts a verdict into the error a launcher returns.
func VerdictErr(v model.Verdict) error {
	if v.Allowed() {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrExecDenied, v.Reason)
}

func (g *Guard) suspend(proc Process, key model.CrashKey, crashes int, cfg scope.Config) {
	g.logger.Warn("Suspending execution",
		"name", proc.Name,
		"pid", proc.PID,
		"uid", key.UID,
		"seconds", cfg.Suspension,
		"crashes", crashes)
	g.record(audit.EventSuspend, proc, key, crashes,
		fmt.Sprintf("suspended for %ds", cfg.Suspension))
}

func (g *Guard) scopeConfig(name string) scope.Config {
	cfg, err := g.registry.Get(name)
	if err != nil {
		g.logger.Warn("unknown scope, using root", "scope", name)
		return g.registry.Root()
	}
	return cfg
}

func (g *Guard) record(event string, proc Process, key model.CrashKey, crashes int, reason string) {
	if g.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		Event:   event,
		Scope:   proc.Scope,
		PID:     proc.PID,
		Name:    proc.Name,
		UID:     key.UID,
		Inode:   key.Inode,
		MountID: key.MountID,
		Crashes: crashes,
		Reason:  reason,
	}
	if err := g.audit.Record(entry); err != nil {
		g.logger.Error("failed to write audit entry", "event", event, "error", err)
	}
}

func (g *Guard) recordExpire(info model.EntryInfo) {
	if g.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		Event:   audit.EventExpire,
		Name:    info.Name,
		UID:     info.Key.UID,
		Inode:   info.Key.Inode,
		MountID: info.Key.MountID,
		Crashes: info.Crashes,
		Reason:  string(info.State),
	}
	if err := g.audit.Record(entry); err != nil {
		g.logger.Error("failed to write audit entry", "event", audit.EventExpire, "error", err)
	}
}
