package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/segvguard/internal/mcp"
)

var (
	mcpServer string
	mcpLocal  bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpServer, "server", "", "Daemon address (default: listen address from config)")
	mcpCmd.Flags().BoolVar(&mcpLocal, "local", false, "Use an in-process crash table instead of the daemon")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs segvguard as an MCP (Model Context Protocol) server over stdio.\nExposes read-only tools: segvguard_status, segvguard_check, segvguard_entries.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	var backend guardmcp.Backend
	if mcpLocal {
		g, closer, err := localGuard()
		if err != nil {
			return err
		}
		defer closer.Close()
		backend = guardmcp.Local{Guard: g}
	} else {
		c, err := dial(mcpServer)
		if err != nil {
			return err
		}
		defer c.Close()
		backend = c
	}

	srv, err := guardmcp.New(guardmcp.Config{Backend: backend, Version: version})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down MCP server")
		cancel()
	}()

	logger.Info("segvguard MCP server running on stdio")
	return srv.Run(ctx)
}
