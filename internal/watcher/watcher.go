// Package watcher implements the file-watcher capability (§4.6): coalesced
// create/modify/delete notifications per watched folder, debounced so
// multiple notifications for the same path within the debounce window
// collapse into one. It is grounded on the teacher's pkg/cache watch
// loop — the Watcher interface abstraction and the dirty-marking pattern
// — generalized from a vault-wide in-memory cache to per-event callbacks
// the orchestrator forwards to a lifecycle service.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/folder-mcp/folder-mcp-daemon/internal/fsscan"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
)

// Kind is the coalesced event kind delivered to callers. Renames are
// delivered as Deleted(from) + Created(to), per §4.6.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

// Event is one coalesced, debounced filesystem notification.
type Event struct {
	Path string // relative to the watched root
	Kind Kind
}

// FSWatcher abstracts fsnotify for testability, mirroring the teacher's
// Watcher interface.
type FSWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type realWatcher struct{ *fsnotify.Watcher }

func (r *realWatcher) Events() <-chan fsnotify.Event { return r.Watcher.Events }
func (r *realWatcher) Errors() <-chan error          { return r.Watcher.Errors }

func newRealWatcher() (FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &realWatcher{Watcher: w}, nil
}

// Options configures a Watcher instance.
type Options struct {
	Debounce  time.Duration
	NewWatcher func() (FSWatcher, error) // test seam
	OnEvent   func(Event)
	OnLost    func(*outcome.Error)
}

// Watcher watches one folder root and emits coalesced, debounced events.
type Watcher struct {
	root     string
	debounce time.Duration
	onEvent  func(Event)
	onLost   func(*outcome.Error)

	fw FSWatcher

	mu       sync.Mutex
	timers   map[string]*time.Timer
	pending  map[string]Kind
	watched  map[string]struct{}
	cancel   chan struct{}
	stopOnce sync.Once
}

// Start creates the underlying OS watcher, registers every directory under
// root (skipping excludes), and begins emitting events. The sidecar
// directory, .git, and node_modules are excluded from both watching and
// emission per §4.6.
func Start(root string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	factory := opts.NewWatcher
	if factory == nil {
		factory = newRealWatcher
	}

	fw, err := factory()
	if err != nil {
		return nil, outcome.WatcherLost(err, "create watcher for %s", root)
	}

	w := &Watcher{
		root:     root,
		debounce: opts.Debounce,
		onEvent:  opts.OnEvent,
		onLost:   opts.OnLost,
		fw:       fw,
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]Kind),
		watched:  make(map[string]struct{}),
		cancel:   make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, outcome.WatcherLost(err, "watch tree %s", root)
	}

	go w.loop()
	return w, nil
}

// Stop releases the underlying watcher and stops emitting events.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.cancel)
		_ = w.fw.Close()
	})
}

func (w *Watcher) addTree(dir string) error {
	if excluded(w.root, dir) {
		return nil
	}
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.watched[dir] = struct{}{}
	w.mu.Unlock()

	entries, err := listSubdirs(dir)
	if err != nil {
		// A directory disappearing mid-walk is a transient condition, not
		// fatal: log and continue, matching §4.6's survive-transient-errors
		// contract.
		logrus.WithError(err).WithField("dir", dir).Warn("watcher: could not list subdirectories")
		return nil
	}
	for _, sub := range entries {
		if err := w.addTree(sub); err != nil {
			logrus.WithError(err).WithField("dir", sub).Warn("watcher: could not watch subdirectory")
		}
	}
	return nil
}

func excluded(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if fsscan.DefaultExcludeDirs[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.cancel:
			return
		case evt, ok := <-w.fw.Events():
			if !ok {
				w.reportLost(outcome.WatcherLost(nil, "watcher event channel closed for %s", w.root))
				return
			}
			w.handle(evt)
		case err, ok := <-w.fw.Errors():
			if !ok {
				w.reportLost(outcome.WatcherLost(nil, "watcher error channel closed for %s", w.root))
				return
			}
			// Permission flaps and similar are transient; log and continue.
			logrus.WithError(err).WithField("root", w.root).Warn("watcher: transient error")
		}
	}
}

func (w *Watcher) reportLost(err *outcome.Error) {
	if w.onLost != nil {
		w.onLost(err)
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if excluded(w.root, evt.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	var kind Kind
	switch {
	case evt.Op&fsnotify.Create == fsnotify.Create:
		kind = KindCreated
		if st, statErr := fsscan.StatPath(evt.Name); statErr == nil && st.IsDirectory {
			if err := w.addTree(evt.Name); err != nil {
				logrus.WithError(err).WithField("dir", evt.Name).Warn("watcher: could not watch new directory")
			}
			return
		}
	case evt.Op&fsnotify.Write == fsnotify.Write:
		kind = KindModified
	case evt.Op&fsnotify.Remove == fsnotify.Remove, evt.Op&fsnotify.Rename == fsnotify.Rename:
		kind = KindDeleted
	default:
		return
	}

	w.debounceEmit(rel, kind)
}

// debounceEmit collapses multiple notifications for the same path within
// the debounce window into a single emission, per §4.6's exactly-one
// contract. A later delete always wins over an earlier create/modify for
// the same path within the window.
func (w *Watcher) debounceEmit(rel string, kind Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[rel]; ok {
		if existing == KindDeleted || kind == KindDeleted {
			w.pending[rel] = KindDeleted
		}
	} else {
		w.pending[rel] = kind
	}

	if t, ok := w.timers[rel]; ok {
		t.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		finalKind, ok := w.pending[rel]
		delete(w.pending, rel)
		delete(w.timers, rel)
		w.mu.Unlock()
		if ok && w.onEvent != nil {
			w.onEvent(Event{Path: rel, Kind: finalKind})
		}
	})
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var subs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subs = append(subs, filepath.Join(dir, entry.Name()))
		}
	}
	return subs, nil
}
