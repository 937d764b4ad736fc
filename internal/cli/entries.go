package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/segvguard/internal/model"
)

var (
	entriesServer string
	entriesJSON   bool
)

func init() {
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.Flags().StringVar(&entriesServer, "server", "", "Daemon address (default: listen address from config)")
	entriesCmd.Flags().BoolVar(&entriesJSON, "json", false, "Print entries as JSON")
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List live crash entries",
	RunE:  runEntries,
}

func runEntries(cmd *cobra.Command, args []string) error {
	c, err := dial(entriesServer)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, shards, err := c.Entries(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	if entriesJSON {
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	printEntries(cmd.OutOrStdout(), entries, shards, time.Now())
	return nil
}

func printEntries(w io.Writer, entries []model.EntryInfo, shards int, now time.Time) {
	fmt.Fprintf(w, "%d entries in %d shards\n", len(entries), shards)
	if len(entries) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tINODE\tMOUNT\tCRASHES\tSTATE\tEXPIRES IN\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			e.Key.UID, e.Key.Inode, e.Key.MountID, e.Crashes, e.State,
			e.Deadline.Sub(now).Round(time.Second), e.Name)
	}
	tw.Flush()
}
