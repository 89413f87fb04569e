package events

import (
	"log"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// ReplayedState is the in-memory state rebuilt by folding a namespace's
// AgentEvents in chronological order (spec.md §4.7: "state is never the
// source of truth; the event log is").
type ReplayedState struct {
	Phase mtypes.Phase

	// WorkItemStates maps work item id to its last known state, as observed
	// through assigned/started/completed/failed events. Replay does not
	// reconstruct full WorkItem structs (those live in storage); it
	// reconstructs only what the event stream itself asserts.
	WorkItemStates map[string]mtypes.WorkItemState
	WorkItemOwners map[string]string

	AgentStates map[string]string // agent id -> last known state label

	DeadlockedIDs map[string]bool

	ReviewAttempts map[string]int // work item id -> highest attempt number seen

	// EventsApplied counts events successfully folded; EventsSkipped counts
	// malformed or unrecognized events that were logged and skipped rather
	// than halting replay (spec.md §7).
	EventsApplied int
	EventsSkipped int
}

// newReplayedState returns a zero-value state anchored at the first phase.
func newReplayedState() *ReplayedState {
	return &ReplayedState{
		Phase:          mtypes.PhasePromptToSpec,
		WorkItemStates: make(map[string]mtypes.WorkItemState),
		WorkItemOwners: make(map[string]string),
		AgentStates:    make(map[string]string),
		DeadlockedIDs:  make(map[string]bool),
		ReviewAttempts: make(map[string]int),
	}
}

// Replay folds events (expected pre-sorted chronologically, as LoadByNamespace
// returns them) into a ReplayedState. Replay is idempotent: applying the same
// event twice — or applying events already reflected in state — never
// produces a result a fresh replay of the same log wouldn't also produce,
// since every fold step is a last-write-wins assignment keyed by event
// content, not an accumulator that double-counts.
func Replay(events []*mtypes.AgentEvent, logger *log.Logger) *ReplayedState {
	state := newReplayedState()
	for _, e := range events {
		if !applyEvent(state, e) {
			state.EventsSkipped++
			if logger != nil {
				logger.Printf("[REPLAY] skipping malformed event id=%s kind=%s", e.ID, e.Kind)
			}
			continue
		}
		state.EventsApplied++
	}
	return state
}

// applyEvent folds a single event into state; returns false if the event is
// malformed in a way that prevents folding (e.g. a phase transition whose
// "to" field isn't a known phase).
func applyEvent(state *ReplayedState, e *mtypes.AgentEvent) bool {
	switch e.Kind {
	case mtypes.EventWorkItemAssigned:
		if e.WorkItemID == "" {
			return false
		}
		state.WorkItemStates[e.WorkItemID] = mtypes.StateReady
		state.WorkItemOwners[e.WorkItemID] = e.AgentID

	case mtypes.EventWorkItemStarted:
		if e.WorkItemID == "" {
			return false
		}
		state.WorkItemStates[e.WorkItemID] = mtypes.StateActive

	case mtypes.EventWorkItemCompleted:
		if e.WorkItemID == "" {
			return false
		}
		state.WorkItemStates[e.WorkItemID] = mtypes.StateComplete

	case mtypes.EventWorkItemFailed:
		if e.WorkItemID == "" {
			return false
		}
		state.WorkItemStates[e.WorkItemID] = mtypes.StateError

	case mtypes.EventPhaseTransition:
		to := mtypes.Phase(e.Fields["to"])
		if to == "" || mtypes.PhaseIndex(to) < 0 {
			return false
		}
		state.Phase = to

	case mtypes.EventDeadlockDetected:
		for _, id := range splitIDs(e.Fields["blocked_ids"]) {
			state.DeadlockedIDs[id] = true
		}

	case mtypes.EventDeadlockResolved:
		for _, id := range splitIDs(e.Fields["blocked_ids"]) {
			delete(state.DeadlockedIDs, id)
		}

	case mtypes.EventAgentStateChanged:
		if e.AgentID == "" {
			return false
		}
		state.AgentStates[e.AgentID] = e.Fields["state"]

	case mtypes.EventReviewFailed:
		if e.WorkItemID == "" {
			return false
		}
		n := parseIntOrZero(e.Fields["attempt"])
		if n > state.ReviewAttempts[e.WorkItemID] {
			state.ReviewAttempts[e.WorkItemID] = n
		}

	case mtypes.EventSubAgentSpawned, mtypes.EventMessageSent, mtypes.EventContextCheckpoint, mtypes.EventNetworkStateUpdate:
		// Observability-only kinds: recorded in the log for history and
		// the event sink, but they don't mutate replay-derived state.

	default:
		return false
	}
	return true
}

// splitIDs parses the comma-joined id list stored in deadlock event fields.
func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// parseIntOrZero parses a small non-negative integer, returning 0 on any
// malformed input rather than propagating a parse error through replay.
func parseIntOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
