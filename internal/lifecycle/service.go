package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/folder-mcp/folder-mcp-daemon/internal/fingerprint"
	"github.com/folder-mcp/folder-mcp-daemon/internal/filestate"
	"github.com/folder-mcp/folder-mcp-daemon/internal/fsscan"
	"github.com/folder-mcp/folder-mcp-daemon/internal/outcome"
	"github.com/folder-mcp/folder-mcp-daemon/internal/queue"
	"github.com/folder-mcp/folder-mcp-daemon/internal/store"
)

// Deps bundles the capabilities a Service drives during scanning and
// indexing (§4.5, §6). All fields except GlobalSem are required; a
// non-positive MaxConsecutiveErrors defaults to 5.
type Deps struct {
	Fingerprints         fingerprint.Index
	Vectors              store.VectorStore
	Chunker              store.Chunker
	Embedder             store.Embedder
	Queue                *queue.Queue
	MaxConsecutiveErrors int

	// GlobalSem, when non-nil, gates task execution with a cross-folder
	// counting semaphore so the orchestrator can enforce maxConcurrentFiles
	// (§4.7, §5) on top of each folder's own per-queue cap. Acquired before
	// a task runs and released immediately after, so the channel's FIFO
	// ordering gives a round-robin-ish fairness across folders contending
	// for the same slots.
	GlobalSem chan struct{}
}

// Listener receives status and progress notifications as the folder
// advances. Both callbacks are invoked synchronously and must not block.
type Listener struct {
	OnStatus   func(status Status, errorMessage string)
	OnProgress func(p Progress)
}

// Service is one folder's lifecycle: the state machine bound to real I/O.
// Grounded on the teacher's Indexer (ScanVault/SyncVault/processTasks),
// generalized from a fixed vault of markdown notes to an arbitrary folder
// of any file type with pluggable chunking and embedding.
type Service struct {
	mu sync.Mutex

	folder  string
	modelID string
	deps    Deps
	state   State
	listener Listener

	modelValid  bool
	modelReason string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService constructs a lifecycle service in the initial `pending` state
// and validates the embedder model immediately, per §4.5. The invalid
// verdict is recorded but not surfaced until the first startScanning call.
func NewService(folder, modelID string, deps Deps, listener Listener) *Service {
	ok, reason := deps.Embedder.ValidateModel(modelID)
	if deps.MaxConsecutiveErrors <= 0 {
		deps.MaxConsecutiveErrors = 5
	}
	return &Service{
		folder:      folder,
		modelID:     modelID,
		deps:        deps,
		state:       NewState(),
		listener:    listener,
		modelValid:  ok,
		modelReason: reason,
	}
}

// Search embeds query with this folder's embedder and returns the closest
// chunks from its vector store. Supplements the base spec's folder.add/
// folder.remove control-channel surface with the read path those writes
// exist to serve (§4.9's control channel otherwise has no way to retrieve
// what indexing produced).
func (s *Service) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	vecs, err := s.deps.Embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, outcome.Validation("embedder returned no vector for query")
	}
	return s.deps.Vectors.Search(ctx, vecs[0], k)
}

// Status returns a snapshot of the folder's current lifecycle status.
func (s *Service) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) transition(trigger Trigger, errMsg string) {
	s.mu.Lock()
	before := s.state.Status
	s.state = Apply(s.folder, s.state, trigger, errMsg)
	after := s.state.Status
	snapshot := s.state
	s.mu.Unlock()

	if after != before && s.listener.OnStatus != nil {
		s.listener.OnStatus(after, snapshot.ErrorMessage)
	}
}

func (s *Service) publishProgress() {
	s.mu.Lock()
	s.state.Progress = ComputeProgress(s.deps.Queue.Snapshot())
	p := s.state.Progress
	s.mu.Unlock()
	if s.listener.OnProgress != nil {
		s.listener.OnProgress(p)
	}
}

// StartScanning enumerates the folder, reconciles against the fingerprint
// index, and produces the task set (§4.5 step 1-5). It never returns an
// error to the caller; failures are captured into the state machine.
func (s *Service) StartScanning() {
	if !s.modelValid {
		s.transition(TriggerFatalError, "invalid embedder model: "+s.modelReason)
		return
	}

	s.transition(TriggerStartScanning, "")

	relPaths, err := fsscan.Scan(s.folder)
	if err != nil {
		s.transition(TriggerScanFailed, err.Error())
		return
	}

	stored, err := s.deps.Fingerprints.GetAll()
	if err != nil {
		s.transition(TriggerScanFailed, err.Error())
		return
	}

	s.deps.Queue.Reset()
	seen := make(map[string]bool, len(relPaths))

	for _, rel := range relPaths {
		seen[rel] = true
		hash, hashErr := fsscan.HashContent(filepath.Join(s.folder, rel))
		if hashErr != nil {
			logrus.WithError(hashErr).WithField("path", rel).Warn("skip unreadable file during scan")
			continue
		}
		var fp *fingerprint.Fingerprint
		if existing, ok := stored[rel]; ok {
			existing := existing
			fp = &existing
		}
		decision := filestate.Decide(filestate.Input{
			Path:               rel,
			CurrentContentHash: hash,
			StoredFingerprint:  fp,
		})
		if !decision.ShouldProcess {
			continue
		}
		action := queue.ActionCreateEmbeddings
		if fp != nil {
			action = queue.ActionUpdateEmbeddings
		}
		s.deps.Queue.Enqueue(s.folder, rel, action)
	}

	for rel := range stored {
		if !seen[rel] {
			s.deps.Queue.Enqueue(s.folder, rel, queue.ActionRemoveEmbeddings)
		}
	}

	total, _ := s.deps.Queue.Counts()
	if total == 0 {
		s.transition(TriggerScanEmptySet, "")
		return
	}
	s.transition(TriggerScanHasTasks, "")
	s.publishProgress()
}

// StartIndexing draws up to maxConcurrentFiles tasks and runs them
// concurrently, looping until every task is terminal (§4.5).
func (s *Service) StartIndexing() {
	s.transition(TriggerStartIndexing, "")

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

indexLoop:
	for {
		select {
		case <-ctx.Done():
			break indexLoop
		default:
		}

		id, ok := s.deps.Queue.GetNextPending()
		if !ok {
			if s.deps.Queue.AllTerminal() {
				break indexLoop
			}
			// Nothing eligible right now (at the concurrency cap); wait for
			// an in-flight task to free a slot.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !s.deps.Queue.StartTask(id) {
			continue
		}

		s.wg.Add(1)
		go s.runTask(ctx, id)
	}

	s.wg.Wait()

	s.mu.Lock()
	fatal := s.state.Status == StatusError
	s.mu.Unlock()
	if !fatal {
		s.transition(TriggerAllTasksDone, "")
	}
}

func (s *Service) runTask(ctx context.Context, id string) {
	defer s.wg.Done()

	var task *queue.Task
	for _, t := range s.deps.Queue.Snapshot() {
		if t.ID == id {
			t := t
			task = &t
			break
		}
	}
	if task == nil {
		return
	}

	if s.deps.GlobalSem != nil {
		select {
		case s.deps.GlobalSem <- struct{}{}:
			defer func() { <-s.deps.GlobalSem }()
		case <-ctx.Done():
			s.deps.Queue.CompleteTask(id, queue.Result{Err: ctx.Err()})
			return
		}
	}

	err := s.execute(ctx, *task)
	s.deps.Queue.CompleteTask(id, queue.Result{Err: err})
	s.publishProgress()

	if err != nil {
		if oe, isOE := err.(*outcome.Error); isOE && oe.Kind == outcome.KindModelUnavailable {
			s.transition(TriggerFatalError, oe.Error())
			return
		}
		s.mu.Lock()
		s.state.ConsecutiveErrors++
		tooMany := s.state.ConsecutiveErrors >= s.deps.MaxConsecutiveErrors
		s.mu.Unlock()
		if tooMany {
			s.transition(TriggerFatalError, "too many consecutive folder-wide errors: "+err.Error())
		}
		return
	}

	s.mu.Lock()
	s.state.ConsecutiveErrors = 0
	s.mu.Unlock()
}

func (s *Service) execute(ctx context.Context, task queue.Task) error {
	switch task.Action {
	case queue.ActionCreateEmbeddings, queue.ActionUpdateEmbeddings:
		return s.indexFile(ctx, task.File)
	case queue.ActionRemoveEmbeddings:
		return s.removeFile(ctx, task.File)
	default:
		return outcome.Validation("unknown task action %q", task.Action)
	}
}

func (s *Service) indexFile(ctx context.Context, rel string) error {
	full := filepath.Join(s.folder, rel)
	content, err := os.ReadFile(full)
	if err != nil {
		return outcome.TransientIO(err, "read %s", rel)
	}

	chunks, err := s.deps.Chunker.Chunk(rel, content)
	if err != nil {
		return outcome.TransientIO(err, "chunk %s", rel)
	}

	var vecs []store.Embedding
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err = s.deps.Embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
	}

	// store.upsert precedes fingerprint.upsert: a crash between the two
	// leaves the fingerprint "behind", forcing a safe reprocess on restart.
	if err := s.deps.Vectors.Upsert(ctx, rel, chunks, vecs); err != nil {
		return err
	}

	hash, err := fsscan.HashContent(full)
	if err != nil {
		return err
	}
	st, err := fsscan.StatPath(full)
	if err != nil {
		return err
	}
	return s.deps.Fingerprints.Upsert(rel, fingerprint.Fingerprint{
		ContentHash: hash,
		Size:        st.Size,
		Mtime:       st.Mtime,
	})
}

func (s *Service) removeFile(ctx context.Context, rel string) error {
	// store.remove precedes fingerprint.remove, mirroring indexFile's order.
	if err := s.deps.Vectors.Remove(ctx, rel); err != nil {
		return err
	}
	return s.deps.Fingerprints.Remove(rel)
}

// Stop drains in-flight tasks and releases resources. It does not leave
// any task in-progress after returning.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Reset clears the folder back to `pending`, for explicit reprocessing.
func (s *Service) Reset() {
	s.deps.Queue.Reset()
	s.transition(TriggerReset, "")
}

// ReportFatalError transitions the folder straight to `error`. The
// orchestrator calls this when a folder's watcher reports itself lost
// (§4.6), since a folder with no working watcher can no longer guarantee
// it reflects the filesystem.
func (s *Service) ReportFatalError(message string) {
	s.transition(TriggerFatalError, message)
}

// HandleWatcherEvent enqueues a targeted task instead of a full rescan
// (§4.7): the orchestrator calls this for individual created/modified/
// deleted notifications once the folder is `active`. It drives the same
// scanning→ready→indexing→active sequence a full scan would (§5's ordering
// invariant), just without re-walking the filesystem: TriggerWatcherActivity
// moves active→scanning, and since the task is already known the scan phase
// immediately resolves to ready rather than calling StartScanning (which
// would reset the queue and discard the targeted task).
func (s *Service) HandleWatcherEvent(rel string, action queue.Action) {
	s.mu.Lock()
	status := s.state.Status
	s.mu.Unlock()
	if status != StatusActive {
		return
	}
	s.transition(TriggerWatcherActivity, "")
	s.deps.Queue.Enqueue(s.folder, rel, action)
	s.transition(TriggerScanHasTasks, "")
	s.publishProgress()
	go s.StartIndexing()
}
