package config

import (
	"os"
	"strconv"
	"time"
)

func getenv(key string) string {
	return os.Getenv(key)
}

func envDurationMs(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
