package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/segvguard/internal/guard"
	"github.com/ppiankov/segvguard/internal/launch"
)

// exitDenied is the exit code for a suspended program.
const exitDenied = 77

var (
	runScope  string
	runServer string
	runLocal  bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runScope, "scope", "", "Scope the program runs in (default root)")
	runCmd.Flags().StringVar(&runServer, "server", "", "Daemon address (default: listen address from config)")
	runCmd.Flags().BoolVar(&runLocal, "local", false, "Use an in-process crash table instead of the daemon")
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <program> [args...]",
	Short: "Run a program under crash tracking",
	Long:  "Computes the activation decision, refuses to start a suspended program\nand reports SIGSEGV, SIGBUS and SIGILL deaths. Exit code 77 indicates\nthe program is suspended; otherwise the program's own exit status is returned.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	var backend launch.Backend
	if runLocal {
		g, closer, err := localGuard()
		if err != nil {
			return err
		}
		defer closer.Close()
		backend = launch.Local{Guard: g}
	} else {
		c, err := dial(runServer)
		if err != nil {
			return err
		}
		defer c.Close()
		backend = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	res, err := launch.Run(ctx, backend, args[0], args[1:], launch.Options{
		Scope:  runScope,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	})
	if err != nil {
		if errors.Is(err, guard.ErrExecDenied) {
			resp := map[string]any{
				"blocked": true,
				"program": args[0],
				"reason":  err.Error(),
			}
			out, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Fprintln(os.Stderr, string(out))
			os.Exit(exitDenied)
		}
		return err
	}

	if code := exitCode(res); code != 0 {
		os.Exit(code)
	}
	return nil
}

// exitCode maps a program result to this process's exit status, using
// the shell convention of 128+signal for signal deaths.
func exitCode(res *launch.Result) int {
	if res.Signal != 0 {
		return 128 + int(res.Signal)
	}
	return res.ExitCode
}
