// Package orchestrator implements the Monitored-Folders Orchestrator
// (§4.7): it owns the folderPath → lifecycle service map, wires each
// folder's watcher into targeted (non-rescan) enqueues, publishes the
// folder list to the FMDM, and enforces the global cross-folder concurrency cap.
// Grounded on the teacher's Vault-juggling in cmd/root.go generalized
// from "one vault at a time" to "many folders, independently owned".
package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folder-mcp/folder-mcp-daemon/internal/config"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fingerprint"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fmdm"
	"github.com/folder-mcp/folder-mcp-daemon/internal/lifecycle"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
	"github.com/folder-mcp/folder-mcp-daemon/internal/queue"
	"github.com/folder-mcp/folder-mcp-daemon/internal/store"
	"github.com/folder-mcp/folder-mcp-daemon/internal/watcher"
)

// EmbedderFactory builds the embedder bound to one folder's chosen model.
// Folders can request different models, so the orchestrator cannot share a
// single embedder instance across them.
type EmbedderFactory func(model string) (store.Embedder, error)

type folderEntry struct {
	service    *lifecycle.Service
	watcher    *watcher.Watcher
	model      string
	fpStore    *fingerprint.Store
	lastScanAt time.Time
}

// Orchestrator owns every monitored folder's lifecycle service and watcher.
type Orchestrator struct {
	mu      sync.Mutex
	folders map[string]*folderEntry

	fm                   *fmdm.Service
	globalSem            chan struct{}
	maxConcurrentFiles   int
	maxAttempts          int
	maxConsecutiveErrors int
	newEmbedder          EmbedderFactory
}

// New constructs an Orchestrator. maxConcurrentFiles bounds the total
// number of in-flight embedding tasks across every folder (§4.7, §5).
func New(fm *fmdm.Service, newEmbedder EmbedderFactory, maxConcurrentFiles, maxTaskAttempts, maxConsecutiveErrors int) *Orchestrator {
	if maxConcurrentFiles <= 0 {
		maxConcurrentFiles = 4
	}
	return &Orchestrator{
		folders:              make(map[string]*folderEntry),
		fm:                   fm,
		globalSem:            make(chan struct{}, maxConcurrentFiles),
		maxConcurrentFiles:   maxConcurrentFiles,
		maxAttempts:          maxTaskAttempts,
		maxConsecutiveErrors: maxConsecutiveErrors,
		newEmbedder:          newEmbedder,
	}
}

// AddFolder implements folder.add (§4.7, §4.9): it creates the sidecar
// directory if absent, instantiates a lifecycle service and watcher, starts
// scanning, and records the folder in the FMDM. It returns once the folder
// has been accepted — not once indexing finishes.
func (o *Orchestrator) AddFolder(path, model string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return outcome.Validation("resolve folder path %q: %s", path, err)
	}

	o.mu.Lock()
	if _, exists := o.folders[abs]; exists {
		o.mu.Unlock()
		return outcome.Validation("folder %q is already monitored", abs)
	}
	o.mu.Unlock()

	embedder, err := o.newEmbedder(model)
	if err != nil {
		return outcome.Fatal(err, "construct embedder for model %q", model)
	}

	sidecar := config.SidecarPath(abs)
	fpStore, fpRecovered, err := fingerprint.Open(filepath.Join(sidecar, "fingerprints.db"))
	if err != nil {
		return outcome.Fatal(err, "open fingerprint index for %s", abs)
	}
	vecStore, vecRecovered, err := store.OpenVectorStore(filepath.Join(sidecar, "vectors.db"), embedder.Dimensions())
	if err != nil {
		_ = fpStore.Close()
		return outcome.Fatal(err, "open vector store for %s", abs)
	}
	// The fingerprint index and vector store must agree on what's indexed
	// (§3's consistency invariant). If the vector store had to be rebuilt
	// from a clean state but the fingerprint index survived, the surviving
	// fingerprints would make every file's decision "skip" and the folder
	// would reach `active` with an empty store. Clear the fingerprint index
	// too so the next scan re-embeds everything (§7 Scenario E). The
	// reverse case needs no extra handling: a recovered, empty fingerprint
	// index already makes every file "process" on its own.
	if vecRecovered && !fpRecovered {
		if clearErr := fpStore.Clear(); clearErr != nil {
			logrus.WithError(clearErr).WithField("folder", abs).
				Warn("orchestrator: could not clear fingerprint index after vector store recovery")
		}
	}

	q := queue.New(o.maxConcurrentFiles, o.maxAttempts)
	svc := lifecycle.NewService(abs, model, lifecycle.Deps{
		Fingerprints:         fpStore,
		Vectors:              vecStore,
		Chunker:              store.DefaultChunker{},
		Embedder:             embedder,
		Queue:                q,
		MaxConsecutiveErrors: o.maxConsecutiveErrors,
		GlobalSem:            o.globalSem,
	}, lifecycle.Listener{
		OnStatus: func(status lifecycle.Status, errMessage string) {
			o.fm.UpdateFolderStatus(abs, string(status), errMessage)
			if status == lifecycle.StatusReady {
				o.mu.Lock()
				if entry, ok := o.folders[abs]; ok {
					entry.lastScanAt = time.Now()
				}
				o.mu.Unlock()
				go svc2IndexOnReady(o, abs)
				o.publishFolders()
			}
			if status == lifecycle.StatusActive {
				// Indexing has updated the fingerprint index; refresh the
				// descriptor's fileCount/totalBytes.
				o.publishFolders()
			}
		},
		OnProgress: func(p lifecycle.Progress) {
			o.fm.UpdateFolderProgress(abs, p.Percentage)
		},
	})

	entry := &folderEntry{service: svc, model: model, fpStore: fpStore}

	o.mu.Lock()
	o.folders[abs] = entry
	o.mu.Unlock()

	o.publishFolders()

	rt, _ := config.LoadRuntime()
	w, err := watcher.Start(abs, watcher.Options{
		Debounce: rt.WatcherDebounce,
		OnEvent:  func(e watcher.Event) { o.handleWatcherEvent(abs, e) },
		OnLost:   func(werr *outcome.Error) {
			logrus.WithError(werr).WithField("folder", abs).Warn("orchestrator: watcher lost")
			svc.ReportFatalError("watcher lost: " + werr.Error())
		},
	})
	if err != nil {
		logrus.WithError(err).WithField("folder", abs).Warn("orchestrator: could not start watcher")
	} else {
		o.mu.Lock()
		entry.watcher = w
		o.mu.Unlock()
	}

	go svc.StartScanning()
	return nil
}

// svc2IndexOnReady starts indexing once a folder's scan produces tasks.
// Named distinctly from the method receiver to avoid shadowing confusion
// inside the OnStatus closure above.
func svc2IndexOnReady(o *Orchestrator, path string) {
	o.mu.Lock()
	entry, ok := o.folders[path]
	o.mu.Unlock()
	if !ok {
		return
	}
	entry.service.StartIndexing()
}

// RemoveFolder implements folder.remove (§4.7): stops the lifecycle
// service and its watcher, but never deletes the sidecar directory so a
// later re-add rejoins the existing fingerprint index and vector store.
func (o *Orchestrator) RemoveFolder(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return outcome.Validation("resolve folder path %q: %s", path, err)
	}

	o.mu.Lock()
	entry, ok := o.folders[abs]
	if ok {
		delete(o.folders, abs)
	}
	o.mu.Unlock()

	if !ok {
		return outcome.Validation("folder %q is not monitored", abs)
	}

	if entry.watcher != nil {
		entry.watcher.Stop()
	}
	entry.service.Stop()

	o.publishFolders()
	return nil
}

// Get returns the lifecycle service for a monitored folder, or false if
// the folder is not currently monitored.
func (o *Orchestrator) Get(path string) (*lifecycle.Service, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.folders[abs]
	if !ok {
		return nil, false
	}
	return entry.service, true
}

// Shutdown stops every monitored folder's lifecycle service and watcher.
func (o *Orchestrator) Shutdown(_ context.Context) {
	o.mu.Lock()
	entries := make([]*folderEntry, 0, len(o.folders))
	for _, e := range o.folders {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.watcher != nil {
				e.watcher.Stop()
			}
			e.service.Stop()
		}()
	}
	wg.Wait()
}

// handleWatcherEvent forwards a single watcher notification as a targeted
// enqueue on the owning folder's lifecycle service, rather than triggering
// a full rescan (§4.7).
func (o *Orchestrator) handleWatcherEvent(folder string, e watcher.Event) {
	o.mu.Lock()
	entry, ok := o.folders[folder]
	o.mu.Unlock()
	if !ok {
		return
	}

	var action queue.Action
	switch e.Kind {
	case watcher.KindCreated, watcher.KindModified:
		action = queue.ActionUpdateEmbeddings
	case watcher.KindDeleted:
		action = queue.ActionRemoveEmbeddings
	default:
		return
	}
	entry.service.HandleWatcherEvent(e.Path, action)
}

// publishFolders recomputes the FMDM folder list from the live map, with
// each folder's model as requested at AddFolder; every monitored folder is
// reported as enabled.
func (o *Orchestrator) publishFolders() {
	o.mu.Lock()
	descriptors := make([]fmdm.FolderDescriptor, 0, len(o.folders))
	for path, entry := range o.folders {
		st := entry.service.Status()
		fileCount, totalBytes := folderAggregates(entry.fpStore)
		var lastScanAt string
		if !entry.lastScanAt.IsZero() {
			lastScanAt = entry.lastScanAt.Format(time.RFC3339)
		}
		descriptors = append(descriptors, fmdm.FolderDescriptor{
			Path:              path,
			Name:              filepath.Base(path),
			Model:             entry.model,
			Enabled:           true,
			Status:            string(st.Status),
			Percentage:        st.Progress.Percentage,
			LastError:         st.ErrorMessage,
			ConsecutiveErrors: st.ConsecutiveErrors,
			FileCount:         fileCount,
			TotalBytes:        totalBytes,
			LastScanAt:        lastScanAt,
		})
	}
	o.mu.Unlock()
	o.fm.UpdateFolders(descriptors)
}

// folderAggregates reports the cheap per-folder totals the fingerprint
// index already has on hand, supplementing the base FMDM snapshot with the
// introspection fields folder.list/get_folder_info expose.
func folderAggregates(fpStore *fingerprint.Store) (fileCount int, totalBytes int64) {
	if fpStore == nil {
		return 0, 0
	}
	all, err := fpStore.GetAll()
	if err != nil {
		return 0, 0
	}
	for _, fp := range all {
		totalBytes += fp.Size
	}
	return len(all), totalBytes
}
