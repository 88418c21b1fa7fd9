package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/folder-mcp-daemon/internal/controlclient"
)

var folderAddModel string

// FolderCmd groups the monitored-folder management subcommands. Each one is
// a thin control-channel client; the daemon process itself owns all state.
var FolderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Add, remove, and list the daemon's monitored folders",
}

var FolderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Start monitoring a folder",
	Example: `  # Monitor a folder with the default embedding model
  folder-mcp-daemon folder add ~/Documents

  # Monitor a folder with a specific model
  folder-mcp-daemon folder add ~/Documents --model text-embedding-3-small`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlclient.Dial()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Call("folder.add", map[string]any{"path": args[0], "model": folderAddModel})
		if err != nil {
			return err
		}
		if ok, _ := resp["ok"].(bool); ok {
			fmt.Printf("now monitoring %s\n", args[0])
		}
		return nil
	},
}

var FolderRemoveCmd = &cobra.Command{
	Use:     "remove <path>",
	Aliases: []string{"rm"},
	Short:   "Stop monitoring a folder",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlclient.Dial()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Call("folder.remove", map[string]any{"path": args[0]})
		if err != nil {
			return err
		}
		if ok, _ := resp["ok"].(bool); ok {
			fmt.Printf("stopped monitoring %s\n", args[0])
		}
		return nil
	},
}

var FolderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every monitored folder and its status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlclient.Dial()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Call("getFoldersConfig", map[string]any{})
		if err != nil {
			return err
		}
		body, err := json.MarshalIndent(resp["folders"], "", "  ")
		if err != nil {
			return fmt.Errorf("format folders response: %w", err)
		}
		fmt.Println(string(body))
		return nil
	},
}

func init() {
	FolderAddCmd.Flags().StringVar(&folderAddModel, "model", "", "embedding model id to use for this folder")
	FolderCmd.AddCommand(FolderAddCmd, FolderRemoveCmd, FolderListCmd)
	rootCmd.AddCommand(FolderCmd)
}
