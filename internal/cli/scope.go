package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/segvguard/internal/scope"
)

var (
	scopeServer string
	scopeParent string
)

func init() {
	rootCmd.AddCommand(scopeCmd)
	scopeCmd.PersistentFlags().StringVar(&scopeServer, "server", "", "Daemon address (default: listen address from config)")
	scopeCmd.AddCommand(scopeCreateCmd, scopeDestroyCmd, scopeSetCmd, scopeGetCmd)
	scopeCreateCmd.Flags().StringVar(&scopeParent, "parent", scope.RootName, "Scope to copy tunables from")
}

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Manage isolation scopes",
	Long:  "A scope carries its own status, expiry_timeout, suspend_timeout and\nmax_crashes. A new scope copies its parent's values once; later changes\nto either do not propagate.",
}

var scopeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a scope from a snapshot of its parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(scopeServer)
		if err != nil {
			return err
		}
		defer c.Close()
		info, err := c.CreateScope(context.Background(), args[0], scopeParent)
		if err != nil {
			return fmt.Errorf("failed to create scope: %w", err)
		}
		printScopes(cmd.OutOrStdout(), []scope.Info{info})
		return nil
	},
}

var scopeDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a scope without children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(scopeServer)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.DestroyScope(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to destroy scope: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scope %s destroyed\n", args[0])
		return nil
	},
}

var scopeSetCmd = &cobra.Command{
	Use:   "set <scope> <tunable> <value>",
	Short: "Write status, expiry_timeout, suspend_timeout or max_crashes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(scopeServer)
		if err != nil {
			return err
		}
		defer c.Close()
		info, err := c.SetTunable(context.Background(), args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", args[1], err)
		}
		printScopes(cmd.OutOrStdout(), []scope.Info{info})
		return nil
	},
}

var scopeGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Show one scope or all scopes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(scopeServer)
		if err != nil {
			return err
		}
		defer c.Close()
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		scopes, err := c.Scopes(context.Background(), name)
		if err != nil {
			return fmt.Errorf("failed to get scopes: %w", err)
		}
		printScopes(cmd.OutOrStdout(), scopes)
		return nil
	},
}

func printScopes(w io.Writer, scopes []scope.Info) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARENT\tSTATUS\tEXPIRY\tSUSPEND\tMAX CRASHES")
	for _, s := range scopes {
		parent := s.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%ds\t%d\n",
			s.Name, parent, s.Config.Mode, s.Config.Expiry, s.Config.Suspension, s.Config.MaxCrashes)
	}
	tw.Flush()
}
