// Package queue implements the bounded, per-folder task queue described in
// §4.4: a FIFO of (folder, path, action) reconciliation tasks with an
// in-flight concurrency cap and per-task retry backoff. It is owned
// exclusively by one folder's lifecycle service (§3 Ownership) — nothing
// here reaches across folders; the orchestrator enforces the
// cross-folder global cap separately (§4.7).
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is the reconciliation action a task performs.
type Action string

const (
	ActionCreateEmbeddings Action = "CreateEmbeddings"
	ActionUpdateEmbeddings Action = "UpdateEmbeddings"
	ActionRemoveEmbeddings Action = "RemoveEmbeddings"
)

// Status is a task's lifecycle within the queue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Task is one atomic unit of reconciliation for one file.
type Task struct {
	ID        string
	Folder    string
	File      string
	Action    Action
	Status    Status
	Attempts  int
	LastError string
}

func key(folder, file string, action Action) string {
	return folder + "\x00" + file + "\x00" + string(action)
}

// Result reports the outcome of running a task's current step.
type Result struct {
	Err error
}

// Queue is a bounded, in-memory FIFO of tasks for one folder.
type Queue struct {
	mu sync.Mutex

	tasks             map[string]*Task
	order             []string // FIFO of pending task IDs
	idByKey           map[string]string
	inFlight          map[string]struct{}
	requeueOnComplete map[string]struct{}
	maxInFlight       int
	maxAttempts       int

	backoffBase time.Duration
	// afterFunc is a seam for tests; defaults to time.AfterFunc.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithBackoffBase overrides the base backoff duration (default 1s, doubling
// per attempt as §4.4 specifies: 1s, 2s, 4s, ...).
func WithBackoffBase(d time.Duration) Option {
	return func(q *Queue) { q.backoffBase = d }
}

// WithAfterFunc overrides the timer seam so tests can drive backoff
// synchronously instead of sleeping in wall-clock time.
func WithAfterFunc(f func(d time.Duration, fn func()) *time.Timer) Option {
	return func(q *Queue) { q.afterFunc = f }
}

// New constructs a queue bounded to maxInFlight concurrent tasks, retrying
// failed tasks up to maxAttempts times.
func New(maxInFlight, maxAttempts int, opts ...Option) *Queue {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	q := &Queue{
		tasks:             make(map[string]*Task),
		idByKey:           make(map[string]string),
		inFlight:          make(map[string]struct{}),
		requeueOnComplete: make(map[string]struct{}),
		maxInFlight:       maxInFlight,
		maxAttempts:       maxAttempts,
		backoffBase:       time.Second,
		afterFunc:         time.AfterFunc,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds or replaces a task for (folder, path, action). It is
// idempotent: an existing pending task for the same key is replaced
// in-place (no duplicate entry); an in-flight task is left running and its
// desired follow-up is captured so completeTask can re-evaluate once it
// finishes.
func (q *Queue) Enqueue(folder, file string, action Action) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key(folder, file, action)
	if id, ok := q.idByKey[k]; ok {
		if t := q.tasks[id]; t != nil {
			if t.Status == StatusPending {
				// Already pending under this key; nothing to change.
				return id
			}
			if t.Status == StatusInProgress {
				// Leave the in-flight task running. Its next completion
				// will observe that requeueOnComplete is needed.
				q.requeueOnComplete[id] = struct{}{}
				return id
			}
		}
	}

	id := uuid.NewString()
	q.tasks[id] = &Task{ID: id, Folder: folder, File: file, Action: action, Status: StatusPending}
	q.idByKey[k] = id
	q.order = append(q.order, id)
	return id
}

// GetNextPending dequeues the next eligible task ID in FIFO order, subject
// to the concurrency cap. It does not mark the task in-progress — call
// StartTask to do that.
func (q *Queue) GetNextPending() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inFlight) >= q.maxInFlight {
		return "", false
	}
	for i, id := range q.order {
		t := q.tasks[id]
		if t == nil || t.Status != StatusPending {
			continue
		}
		q.order = append(q.order[:i:i], q.order[i+1:]...)
		return id, true
	}
	return "", false
}

// StartTask moves a task from pending to in-progress. It refuses if the
// in-flight count is already at the cap.
func (q *Queue) StartTask(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.inFlight) >= q.maxInFlight {
		return false
	}
	t := q.tasks[id]
	if t == nil || t.Status != StatusPending {
		return false
	}
	t.Status = StatusInProgress
	t.Attempts++
	q.inFlight[id] = struct{}{}
	return true
}

// CompleteTask records the outcome of a task's current attempt. On
// success it moves to done, or back to pending under the same ID if it was
// enqueued again while in flight. On failure it schedules a backoff-delayed
// requeue (1s, 2s, 4s, ... by attempt) up to maxAttempts, after which the
// task is permanently failed and no longer re-queued.
func (q *Queue) CompleteTask(id string, res Result) {
	q.mu.Lock()
	t := q.tasks[id]
	if t == nil {
		q.mu.Unlock()
		return
	}
	delete(q.inFlight, id)

	if res.Err == nil {
		t.LastError = ""
		if q.consumeRequeueFlag(id) {
			// A change arrived while this task was in flight: run it again
			// under the same ID rather than adding a second entry.
			t.Status = StatusPending
			q.order = append(q.order, id)
		} else {
			t.Status = StatusDone
		}
		q.mu.Unlock()
		return
	}

	t.LastError = res.Err.Error()
	if t.Attempts >= q.maxAttempts {
		t.Status = StatusError
		q.mu.Unlock()
		return
	}

	attempt := t.Attempts
	backoff := q.backoffBase << (attempt - 1)
	q.mu.Unlock()

	q.afterFunc(backoff, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if t.Status == StatusInProgress {
			// Shouldn't happen, but never resurrect a task someone else started.
			return
		}
		t.Status = StatusPending
		q.order = append(q.order, id)
	})
}

func (q *Queue) consumeRequeueFlag(id string) bool {
	if _, ok := q.requeueOnComplete[id]; ok {
		delete(q.requeueOnComplete, id)
		return true
	}
	return false
}

// Snapshot returns a copy of every task currently known to the queue.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	return out
}

// InFlightCount returns the number of tasks currently in-progress.
func (q *Queue) InFlightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// AllTerminal reports whether every known task is done or permanently failed.
func (q *Queue) AllTerminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.Status == StatusPending || t.Status == StatusInProgress {
			return false
		}
	}
	return true
}

// Counts returns (total, completed) where completed includes both done and
// permanently-failed tasks, for progress percentage computation (§4.5).
func (q *Queue) Counts() (total, completed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	total = len(q.tasks)
	for _, t := range q.tasks {
		if t.Status == StatusDone || t.Status == StatusError {
			completed++
		}
	}
	return total, completed
}

// Reset clears all tasks, for the state machine's `reset` transition.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make(map[string]*Task)
	q.idByKey = make(map[string]string)
	q.order = nil
	q.inFlight = make(map[string]struct{})
	q.requeueOnComplete = make(map[string]struct{})
}
