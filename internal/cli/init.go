package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/segvguard/internal/config"
	"github.com/ppiankov/segvguard/internal/systemd"
)

var (
	initMode           string
	initHardening      bool
	initInstallSystemd bool
	initForce          bool
)

const systemdUnitDir = "/etc/systemd/system"

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.segvguard) or system (/etc/segvguard)")
	initCmd.Flags().BoolVar(&initHardening, "hardening", false, "Default to optout tracking instead of optin")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install segvguard.service and segvguard-guarded@.service (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap segvguard configuration and optional systemd integration",
	Long: `Writes a default segvguard.yaml.

User mode (default):  writes to ~/.segvguard/
System mode:          writes to /etc/segvguard/ (requires root)

With --install-systemd: installs the segvguard daemon unit and a
segvguard-guarded@.service template so a service runs under crash
suspension via:
  systemctl enable --now segvguard-guarded@<program>`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	cfgPath := filepath.Join(configDir, "segvguard.yaml")
	if wrote, err := writeIfMissing(cfgPath, config.DefaultYAML(initHardening)); err != nil {
		return err
	} else if wrote {
		created = append(created, cfgPath)
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}

		units := []struct{ name, content string }{
			{"segvguard.service", systemd.DaemonTemplate()},
			{"segvguard-guarded@.service", systemd.GuardedTemplate()},
		}
		for _, u := range units {
			unitPath := filepath.Join(systemdUnitDir, u.name)
			if err := os.WriteFile(unitPath, []byte(u.content), 0o644); err != nil {
				return fmt.Errorf("write systemd unit: %w", err)
			}
			created = append(created, unitPath)
		}

		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			logger.Warn("systemctl daemon-reload failed", "error", err)
		}
	}

	fmt.Println("segvguard init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Run a program under crash suspension:")
	fmt.Printf("  segvguard run --local --config %s -- <command>\n", cfgPath)

	if initInstallSystemd {
		fmt.Println()
		fmt.Println("Start the daemon and guard a service:")
		fmt.Println("  sudo systemctl enable --now segvguard")
		fmt.Println("  sudo systemctl enable --now segvguard-guarded@<program>")
	}

	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return filepath.Dir(config.DefaultPath), nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".segvguard"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
