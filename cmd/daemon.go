package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/folder-mcp/folder-mcp-daemon/internal/chatadapter"
	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/control"
	"github.com/folder-mcp/folder-mcp-daemon/internal/controlclient"
	"github.com/folder-mcp/folder-mcp-daemon/internal/daemonproc"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/orchestrator"
	"github.com/folder-mcp/folder-mcp-daemon/internal/store"
)

var daemonRestart bool

// DaemonCmd groups the daemon process lifecycle subcommands.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or inspect the folder-mcp daemon process",
}

// DaemonRunCmd starts the daemon in the foreground, implementing §4.10's
// startup/restart protocol.
var DaemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := config.LoadRuntime()
		if err != nil {
			return err
		}
		configureLogging(rt)

		handle, err := daemonproc.Acquire(daemonRestart, os.Getpid())
		if err != nil {
			return err
		}

		startedAt := time.Now()
		fm := fmdm.New(os.Getpid(), func() int64 { return int64(time.Since(startedAt).Seconds()) })
		orch := orchestrator.New(fm, newEmbedderFactory(), rt.MaxConcurrentFiles, rt.MaxTaskAttempts, rt.MaxConsecutiveErrors)

		if err := recoverPersistedFolders(orch); err != nil {
			logrus.WithError(err).Warn("daemon: could not recover persisted folders")
		}

		server := control.New(fm, orch, os.Getpid(), startedAt)
		addr := fmt.Sprintf(":%d", rt.ControlChannelPort)
		httpSrv := &http.Server{Addr: addr, Handler: server}

		adapter := chatadapter.New(fm, orch)
		mcpCtx, stopMCP := context.WithCancel(context.Background())

		go func() {
			logrus.WithField("addr", addr).Info("daemon: control channel listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("daemon: control channel stopped")
			}
		}()
		go func() {
			mcpAddr := fmt.Sprintf(":%d", rt.ControlChannelPort+1)
			logrus.WithField("addr", mcpAddr).Info("daemon: chat tool surface listening")
			if err := adapter.Start(mcpCtx, mcpAddr); err != nil {
				logrus.WithError(err).Error("daemon: chat tool surface stopped")
			}
		}()

		daemonproc.WaitForShutdownSignal()
		logrus.Info("daemon: shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), rt.DrainTimeout)
		defer cancel()
		stopMCP()
		_ = httpSrv.Shutdown(ctx)
		orch.Shutdown(ctx)

		return handle.Release()
	},
}

// DaemonStatusCmd reports whether a daemon is currently running by sending
// it a get_server_info request over the control channel.
var DaemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := controlclient.Dial()
		if err != nil {
			fmt.Println("daemon is not running")
			return nil
		}
		defer client.Close()

		resp, err := client.Call("get_server_info", map[string]any{})
		if err != nil {
			return err
		}
		fmt.Printf("daemon running: pid=%v uptime=%vs version=%v\n", resp["daemonPid"], resp["daemonUptimeSec"], resp["version"])
		return nil
	},
}

func init() {
	DaemonRunCmd.Flags().BoolVar(&daemonRestart, "restart", false, "take over from a currently running daemon instance")
	DaemonCmd.AddCommand(DaemonRunCmd, DaemonStatusCmd)
	rootCmd.AddCommand(DaemonCmd)
}

func configureLogging(rt config.Runtime) {
	level, err := logrus.ParseLevel(rt.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if rt.DevelopmentEnabled {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

// recoverPersistedFolders re-adds every previously persisted, enabled
// folder (§4.10's crash-recovery contract): unchanged files take the skip
// path during rescanning since the sidecar's fingerprint index survives.
func recoverPersistedFolders(orch *orchestrator.Orchestrator) error {
	cfg, err := config.LoadFolders()
	if err != nil {
		return err
	}
	for _, f := range cfg.Folders {
		if !f.Enabled {
			continue
		}
		if err := orch.AddFolder(f.Path, f.Model); err != nil {
			logrus.WithError(err).WithField("folder", f.Path).Warn("daemon: could not recover folder")
		}
	}
	return nil
}

// newEmbedderFactory builds embedders using the process environment for
// provider configuration (API keys, endpoints). Real credentials are never
// hardcoded; each folder's model string selects the provider.
func newEmbedderFactory() orchestrator.EmbedderFactory {
	return func(model string) (store.Embedder, error) {
		return store.NewEmbedder(store.EmbedderConfig{
			Provider: embedderProviderFor(model),
			Model:    model,
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Endpoint: os.Getenv("FOLDER_MCP_OLLAMA_ENDPOINT"),
		})
	}
}

func embedderProviderFor(model string) string {
	if os.Getenv("FOLDER_MCP_OLLAMA_ENDPOINT") != "" {
		return "ollama"
	}
	return "openai"
}
