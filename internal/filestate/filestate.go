// Package filestate implements the pure file-state decision function
// (§4.2): given a path's current content hash, its prior fingerprint (if
// any), and the last processing outcome, decide whether the file should be
// processed, retried, or skipped. The service owns no mutation and
// performs no I/O — callers supply already-read state.
package filestate

import "github.com/folder-mcp/folder-mcp-daemon/internal/fingerprint"

// Action is what the caller should do about a file.
type Action string

const (
	ActionProcess Action = "process"
	ActionRetry   Action = "retry"
	ActionSkip    Action = "skip"
)

// Outcome is the last known result of processing a file, if any.
type Outcome string

const (
	OutcomeUnknown Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Decision is the file-state service's verdict for one file.
type Decision struct {
	ShouldProcess bool
	Action        Action
	Reason        string
}

// Input bundles everything the decision function needs.
type Input struct {
	Path               string
	CurrentContentHash string
	StoredFingerprint  *fingerprint.Fingerprint
	LastOutcome        Outcome
	Attempts           int
	MaxAttempts        int
}

// Decide applies the rules in §4.2, in order.
func Decide(in Input) Decision {
	if in.StoredFingerprint == nil {
		return Decision{ShouldProcess: true, Action: ActionProcess, Reason: "no stored fingerprint"}
	}

	if in.StoredFingerprint.ContentHash != in.CurrentContentHash {
		return Decision{ShouldProcess: true, Action: ActionRetry, Reason: "content hash changed"}
	}

	if in.LastOutcome != OutcomeFailure {
		return Decision{ShouldProcess: false, Action: ActionSkip, Reason: "unchanged"}
	}

	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if in.Attempts < maxAttempts {
		return Decision{ShouldProcess: true, Action: ActionRetry, Reason: "previous attempt failed"}
	}

	return Decision{ShouldProcess: false, Action: ActionSkip, Reason: "permanent failure"}
}
