package fmdm_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
)

func TestVersionIncrementsByOneOnEachMutation(t *testing.T) {
	svc := fmdm.New(1234, func() int64 { return 0 })
	require.Equal(t, uint64(0), svc.Get().Version)

	svc.UpdateFolders([]fmdm.FolderDescriptor{{Path: "/a", Name: "a"}})
	assert.Equal(t, uint64(1), svc.Get().Version)

	svc.SetAvailableModels([]fmdm.ModelDescriptor{{ID: "m1"}})
	assert.Equal(t, uint64(2), svc.Get().Version)

	svc.AddClient("c1")
	assert.Equal(t, uint64(3), svc.Get().Version)

	svc.UpdateFolderStatus("/a", "active", "")
	assert.Equal(t, uint64(4), svc.Get().Version)
}

func TestSubscribersReceiveStrictlyIncreasingVersions(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })

	var mu sync.Mutex
	var seen []uint64
	dispose := svc.Subscribe(func(s fmdm.Snapshot) {
		mu.Lock()
		seen = append(seen, s.Version)
		mu.Unlock()
	})
	defer dispose()

	svc.UpdateFolders([]fmdm.FolderDescriptor{{Path: "/a"}})
	svc.UpdateFolderProgress("/a", 50)
	svc.UpdateFolderStatus("/a", "active", "")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestDisposedSubscriberReceivesNoFurtherSnapshots(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })

	var mu sync.Mutex
	count := 0
	dispose := svc.Subscribe(func(fmdm.Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	svc.AddClient("c1")
	dispose()
	svc.AddClient("c2")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestGetReturnsIndependentCopyOfFolders(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })
	svc.UpdateFolders([]fmdm.FolderDescriptor{{Path: "/a", Status: "pending"}})

	snap := svc.Get()
	snap.Folders[0].Status = "mutated-locally"

	fresh := svc.Get()
	assert.Equal(t, "pending", fresh.Folders[0].Status, "mutating a returned snapshot must not affect internal state")
}

func TestSubscriberSnapshotIsIndependentOfLaterMutations(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })

	var mu sync.Mutex
	var captured fmdm.Snapshot
	dispose := svc.Subscribe(func(s fmdm.Snapshot) {
		mu.Lock()
		captured = s
		mu.Unlock()
	})
	defer dispose()

	svc.UpdateFolders([]fmdm.FolderDescriptor{{Path: "/a", Status: "pending"}})

	mu.Lock()
	snap := captured
	mu.Unlock()

	svc.UpdateFolderStatus("/a", "active", "")

	assert.Equal(t, "pending", snap.Folders[0].Status, "a delivered snapshot must not reflect subsequent mutations")
}

func TestUpdateFolderStatusOnUnknownPathIsNoop(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })
	svc.UpdateFolders([]fmdm.FolderDescriptor{{Path: "/a"}})
	before := svc.Get().Version

	svc.UpdateFolderStatus("/does-not-exist", "active", "")

	after := svc.Get()
	assert.Equal(t, before+1, after.Version, "mutation still counts even if it was a no-op on the folder list")
	assert.Equal(t, "", after.Folders[0].Status)
}

func TestConnectionsCountTracksAddAndRemoveClient(t *testing.T) {
	svc := fmdm.New(1, func() int64 { return 0 })
	svc.AddClient("c1")
	svc.AddClient("c2")
	assert.Equal(t, 2, svc.Get().Connections.Count)

	svc.RemoveClient("c1")
	assert.Equal(t, 1, svc.Get().Connections.Count)
}

func TestDaemonUptimeIsRefreshedFromSeam(t *testing.T) {
	uptime := int64(0)
	svc := fmdm.New(42, func() int64 { return uptime })

	svc.AddClient("c1")
	assert.Equal(t, int64(0), svc.Get().Daemon.UptimeSec)

	uptime = 99
	svc.AddClient("c2")
	assert.Equal(t, int64(99), svc.Get().Daemon.UptimeSec)
	assert.Equal(t, 42, svc.Get().Daemon.PID)
}
