// Package launch runs a program under crash tracking: it computes the
// activation decision once, gates the start with CheckBeforeExec and
// reports the process to OnCrash when it dies from a fault signal.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/model"
)

// Backend is the guard a launcher talks to, in process or over gRPC.
type Backend interface {
	Decide(ctx context.Context, scope, path string) (model.ExecDecision, error)
	Check(ctx context.Context, proc guard.Process, path string) (model.Verdict, error)
	Crash(ctx context.Context, proc guard.Process, path string) (guard.CrashResult, error)
}

// Local adapts an in-process Guard to Backend.
type Local struct {
	Guard *guard.Guard
}

func (l Local) Decide(_ context.Context, scope, path string) (model.ExecDecision, error) {
	return l.Guard.Decide(scope, path), nil
}

func (l Local) Check(_ context.Context, proc guard.Process, path string) (model.Verdict, error) {
	return l.Guard.CheckBeforeExec(proc, path), nil
}

func (l Local) Crash(_ context.Context, proc guard.Process, path string) (guard.CrashResult, error) {
	return l.Guard.OnCrash(proc, path), nil
}

// Options configure one launch.
type Options struct {
	Scope  string
	UID    *uint32 // invoking user; nil means the real uid of this process
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Result captures how the program ended.
type Result struct {
	Path     string             `json:"path"`
	Decision model.ExecDecision `json:"decision"`
	ExitCode int                `json:"exit_code"`
	Signal   syscall.Signal     `json:"signal,omitempty"`
	Crashed  bool               `json:"crashed"`
	Crash    guard.CrashResult  `json:"crash"`
}

// IsFaultSignal reports whether sig is a crash the guard tracks.
func IsFaultSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL:
		return true
	}
	return false
}

// Run starts name with args under the guard. It returns an error wrapping
// guard.ErrExecDenied when the program is suspended. Failures to reach
// the backend are logged and the program runs untracked.
func Run(ctx context.Context, b Backend, name string, args []string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find %q: %w", name, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	uid := uint32(os.Getuid())
	if opts.UID != nil {
		uid = *opts.UID
	}

	decision, err := b.Decide(ctx, opts.Scope, path)
	if err != nil {
		logger.Warn("failed to compute activation decision, running untracked", "path", path, "error", err)
		decision = model.Inactive
	}

	proc := guard.Process{
		PID:      os.Getpid(),
		Name:     filepath.Base(path),
		UID:      uid,
		Scope:    opts.Scope,
		Decision: decision,
	}
	result := &Result{Path: path, Decision: decision}

	verdict, err := b.Check(ctx, proc, path)
	if err != nil {
		logger.Warn("pre-exec check failed, allowing execution", "path", path, "error", err)
	} else if err := guard.VerdictErr(verdict); err != nil {
		return result, err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("failed to start %s: %w", path, err)
	}
	proc.PID = cmd.Process.Pid

	err = cmd.Wait()
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return result, fmt.Errorf("failed to wait for %s: %w", path, err)
	}
	result.ExitCode = exitErr.ExitCode()

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return result, nil
	}
	result.Signal = status.Signal()
	if !IsFaultSignal(result.Signal) {
		return result, nil
	}

	result.Crashed = true
	crash, err := b.Crash(context.WithoutCancel(ctx), proc, path)
	if err != nil {
		logger.Warn("failed to report crash", "path", path, "pid", proc.PID, "error", err)
		return result, nil
	}
	result.Crash = crash
	logger.Debug("crash reported", "path", path, "pid", proc.PID, "signal", result.Signal.String(),
		"crashes", crash.Crashes, "suspended", crash.Suspended)
	return result, nil
}
