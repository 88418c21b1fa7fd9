package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime holds the daemon-wide knobs read from (in precedence order)
// FOLDER_MCP_* environment variables, the optional YAML file, and defaults.
// This mirrors the teacher's Cobra+flags layering, generalized with Viper
// (kiosk404-echoryn's stack) since the daemon has no interactive flags for
// most of these — they are operational knobs, not CLI arguments.
type Runtime struct {
	ControlChannelPort    int
	WatcherDebounce       time.Duration
	MaxConcurrentFiles    int
	MaxTaskAttempts       int
	MaxConsecutiveErrors  int
	RequestTimeout        time.Duration
	DrainTimeout          time.Duration
	LogLevel              string
	DevelopmentEnabled    bool
}

// DefaultRuntime returns the spec-mandated defaults. Tests pin
// MaxConcurrentFiles; changing the default here is a breaking change.
func DefaultRuntime() Runtime {
	return Runtime{
		ControlChannelPort:   31850,
		WatcherDebounce:      1000 * time.Millisecond,
		MaxConcurrentFiles:   4,
		MaxTaskAttempts:      3,
		MaxConsecutiveErrors: 5,
		RequestTimeout:       5 * time.Second,
		DrainTimeout:         10 * time.Second,
		LogLevel:             "info",
	}
}

// LoadRuntime layers the optional YAML config and environment over defaults.
func LoadRuntime() (Runtime, error) {
	rt := DefaultRuntime()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FOLDER_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("control_channel_port", rt.ControlChannelPort)
	v.SetDefault("onnx.max_concurrent_files", rt.MaxConcurrentFiles)
	v.SetDefault("max_task_attempts", rt.MaxTaskAttempts)
	v.SetDefault("max_consecutive_errors", rt.MaxConsecutiveErrors)
	v.SetDefault("log_level", rt.LogLevel)

	if path, err := DaemonConfigFilePath(); err == nil {
		v.SetConfigFile(path)
		// A missing or absent config file is not fatal: defaults and env
		// vars are sufficient to run the daemon.
		_ = v.ReadInConfig()
	}

	rt.ControlChannelPort = v.GetInt("control_channel_port")
	rt.MaxConcurrentFiles = v.GetInt("onnx.max_concurrent_files")
	rt.MaxTaskAttempts = v.GetInt("max_task_attempts")
	rt.MaxConsecutiveErrors = v.GetInt("max_consecutive_errors")
	rt.LogLevel = v.GetString("log_level")

	if ms := envDurationMs(EnvDebounceMs); ms > 0 {
		rt.WatcherDebounce = ms
	}
	if ms := envDurationMs(EnvDrainTimeoutMs); ms > 0 {
		rt.DrainTimeout = ms
	}
	if level := getenv(EnvLogLevel); level != "" {
		rt.LogLevel = level
	}
	rt.DevelopmentEnabled = getenv(EnvDevelopmentEnabled) != ""

	return rt, nil
}
