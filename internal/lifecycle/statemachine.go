// Package lifecycle implements the per-folder state machine (§4.3) and the
// service that binds it to real scanning, chunking, embedding, and store
// I/O (§4.5). The state machine itself performs no I/O: it only validates
// transitions and emits a new state, mirroring the pure-decision style of
// the teacher's file-state handling in the indexer.
package lifecycle

import (
	"github.com/sirupsen/logrus"

	"github.com/folder-mcp/folder-mcp-daemon/internal/queue"
)

// Status is one of the six states a folder traverses.
type Status string

const (
	StatusPending  Status = "pending"
	StatusScanning Status = "scanning"
	StatusReady    Status = "ready"
	StatusIndexing Status = "indexing"
	StatusActive   Status = "active"
	StatusError    Status = "error"
)

// Trigger names the events that can move the state machine.
type Trigger string

const (
	TriggerStartScanning   Trigger = "startScanning"
	TriggerScanEmptySet    Trigger = "scanCompleteEmpty"
	TriggerScanHasTasks    Trigger = "scanCompleteWithTasks"
	TriggerScanFailed      Trigger = "scanFailed"
	TriggerStartIndexing   Trigger = "startIndexing"
	TriggerAllTasksDone    Trigger = "allTasksTerminal"
	TriggerFatalError      Trigger = "fatalError"
	TriggerReset           Trigger = "reset"
	TriggerWatcherActivity Trigger = "watcherActivity"
)

// Progress reports task completion for a folder.
type Progress struct {
	TotalTasks     int
	CompletedTasks int
	Percentage     int
}

// State is the complete lifecycle state of one folder.
type State struct {
	Status           Status
	Tasks            []queue.Task
	Progress         Progress
	ConsecutiveErrors int
	ErrorMessage     string
}

// NewState returns the initial `pending` state for a newly added folder.
func NewState() State {
	return State{Status: StatusPending}
}

// allowedFrom maps each trigger to the set of states it may fire from.
var allowedFrom = map[Trigger][]Status{
	TriggerStartScanning:   {StatusPending, StatusActive, StatusError},
	TriggerScanHasTasks:    {StatusScanning},
	TriggerScanEmptySet:    {StatusScanning},
	TriggerScanFailed:      {StatusScanning},
	TriggerStartIndexing:   {StatusReady},
	TriggerAllTasksDone:    {StatusIndexing},
	TriggerFatalError:      {StatusPending, StatusScanning, StatusReady, StatusIndexing, StatusActive},
	TriggerReset:           {StatusPending, StatusScanning, StatusReady, StatusIndexing, StatusActive, StatusError},
	TriggerWatcherActivity: {StatusActive},
}

var targetOf = map[Trigger]Status{
	TriggerStartScanning: StatusScanning,
	TriggerScanHasTasks:  StatusReady,
	TriggerScanEmptySet:  StatusActive,
	TriggerScanFailed:    StatusError,
	TriggerStartIndexing: StatusIndexing,
	TriggerAllTasksDone:  StatusActive,
	TriggerFatalError:    StatusError,
	TriggerReset:         StatusPending,
	// watcherActivity resolves to startScanning; Apply special-cases it.
}

// Apply validates and performs a transition, returning the new state. An
// illegal transition is a no-op: the input state is returned unchanged and
// a warning is logged. The function never performs I/O and never panics.
func Apply(folder string, s State, trigger Trigger, errMsg string) State {
	if trigger == TriggerWatcherActivity {
		if s.Status != StatusActive {
			logrus.WithFields(logrus.Fields{"folder": folder, "from": s.Status, "trigger": trigger}).
				Warn("illegal lifecycle transition ignored")
			return s
		}
		return Apply(folder, s, TriggerStartScanning, "")
	}

	allowed, known := allowedFrom[trigger]
	if !known || !containsStatus(allowed, s.Status) {
		logrus.WithFields(logrus.Fields{"folder": folder, "from": s.Status, "trigger": trigger}).
			Warn("illegal lifecycle transition ignored")
		return s
	}

	next := s
	next.Status = targetOf[trigger]

	switch trigger {
	case TriggerReset:
		next.Tasks = nil
		next.Progress = Progress{}
		next.ConsecutiveErrors = 0
		next.ErrorMessage = ""
	case TriggerScanFailed, TriggerFatalError:
		next.ErrorMessage = errMsg
	case TriggerStartScanning:
		next.ErrorMessage = ""
	}

	return next
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ComputeProgress derives Progress from a task snapshot per §4.5:
// percentage is 100 only once every task is terminal.
func ComputeProgress(tasks []queue.Task) Progress {
	total := len(tasks)
	completed := 0
	for _, t := range tasks {
		if t.Status == queue.StatusDone || t.Status == queue.StatusError {
			completed++
		}
	}
	pct := 0
	if total > 0 {
		pct = (100*completed + total/2) / total
		if completed < total && pct == 100 {
			pct = 99
		}
	}
	return Progress{TotalTasks: total, CompletedTasks: completed, Percentage: pct}
}

// String implements fmt.Stringer for log messages.
func (s Status) String() string { return string(s) }
