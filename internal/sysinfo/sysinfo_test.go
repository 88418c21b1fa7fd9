package sysinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/folder-mcp/folder-mcp-daemon/internal/sysinfo"
)

func TestCollectReturnsAtLeastOneCore(t *testing.T) {
	hw := sysinfo.Collect()
	assert.GreaterOrEqual(t, hw.CPUCores, 1)
}
