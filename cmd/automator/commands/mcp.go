package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaosslabs/personal-automator/pkg/automator/mcp"
)

// newMCPCmd creates the `automator mcp` command group.
func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
		Long:  `Run automator as an MCP (Model Context Protocol) tool server for IDE/agent integration.`,
	}

	cmd.AddCommand(newMCPServeCmd())
	return cmd
}

// newMCPServeCmd creates the `automator mcp serve` command.
func newMCPServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP tool server over stdio",
		Long: `Start automator's MCP server using stdio transport (JSON-RPC 2.0 over
stdin/stdout), exposing templates, tasks, executions, credentials, and
system status as tools.

Add to your IDE/agent configuration:

  {
    "mcpServers": {
      "automator": {
        "command": "automator",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		RunE: runMCPServe,
	}
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	d, cleanup, err := buildDaemon(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// MCP tool calls can trigger on-demand execution (tasks.execute), so the
	// scheduler must be running for scheduled tasks to keep firing alongside it.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.service.StartScheduler(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer d.service.StopScheduler()

	server := mcp.New(d.service, d.logger)
	d.logger.Info("starting MCP server on stdio")
	if err := server.ServeStdio(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
