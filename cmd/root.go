package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "folder-mcp-daemon",
	Short:   "folder-mcp-daemon - watch folders, keep them embedded, serve search over a local control channel",
	Version: "v0.1.0",
	Long:    "folder-mcp-daemon watches one or more folders, keeps a semantic index of their contents up to date, and exposes that index over a local WebSocket control channel and an MCP tool surface.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
