package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tally/internal/logger"
	"github.com/nvandessel/tally/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run tally as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes tally over stdio.

Tools:

  • tally_review_fields  - Start or resume a duplicate review
  • tally_review_select  - Keep a value for the current review field
  • tally_review_merge   - Apply a finished review
  • tally_task_show      - Show a task's editable description
  • tally_task_describe  - Replace a task's description

Example client config:

  {
    "mcpServers": {
      "tally": {
        "command": "tally",
        "args": ["mcp-server"],
        "cwd": "${workspaceFolder}"
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:             "tally",
				Version:          version,
				Root:             root,
				DescriptionLimit: cfg.Tasks.DescriptionLimit,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			// Blocks until the client disconnects or the context is cancelled.
			if err := server.Run(cmd.Context()); err != nil {
				logger.FromContext(cmd.Context()).Error("mcp server stopped", "err", err)
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
	return cmd
}
