// Package queue implements Mnemosyne's phase state machine and work queue
// (spec.md §4.2): dependency-ordered dispatch, deadlock detection, and the
// single forward-only phase chain the Orchestrator drives.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// DefaultStallTimeout is the default activity timeout spec.md §4.2 uses to
// consider a work item stalled.
const DefaultStallTimeout = 60 * time.Second

// Queue is a thread-safe, priority-ordered work item queue guarded by a
// read-write lock: reads (ready-item scans, deadlock checks) run
// concurrently, writes (add, mark completed, transition phase) are
// serialized — exactly the access pattern spec.md §5 requires.
type Queue struct {
	mu           sync.RWMutex
	items        map[string]*mtypes.WorkItem
	order        []string // insertion order, for FIFO tie-breaking
	currentPhase mtypes.Phase
	stallTimeout time.Duration

	// activeSince tracks when an item most recently entered Active or
	// PendingReview, for deadlock detection's activity timeout.
	activeSince map[string]time.Time
}

// New creates an empty queue starting at PromptToSpec.
func New() *Queue {
	return &Queue{
		items:        make(map[string]*mtypes.WorkItem),
		currentPhase: mtypes.PhasePromptToSpec,
		stallTimeout: DefaultStallTimeout,
		activeSince:  make(map[string]time.Time),
	}
}

// WithStallTimeout overrides DefaultStallTimeout; useful in tests.
func (q *Queue) WithStallTimeout(d time.Duration) *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stallTimeout = d
	return q
}

// Add inserts item into the queue; idempotent on id. State defaults to
// Pending if unset.
func (q *Queue) Add(item *mtypes.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.State == "" {
		item.State = mtypes.StatePending
	}
	if _, exists := q.items[item.ID]; !exists {
		q.order = append(q.order, item.ID)
	}
	q.items[item.ID] = item
	if item.State == mtypes.StateActive || item.State == mtypes.StatePendingReview {
		q.activeSince[item.ID] = time.Now()
	}
}

// Get returns a work item by id.
func (q *Queue) Get(id string) (*mtypes.WorkItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	return item, ok
}

// All returns every item currently in the queue, in insertion order.
func (q *Queue) All() []*mtypes.WorkItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*mtypes.WorkItem, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id])
	}
	return out
}

// completedSetLocked builds the id->true map of Complete items; caller must
// hold at least a read lock.
func (q *Queue) completedSetLocked() map[string]bool {
	completed := make(map[string]bool)
	for id, item := range q.items {
		if item.State == mtypes.StateComplete {
			completed[id] = true
		}
	}
	return completed
}

// GetReadyItems returns all items whose dependencies are Complete and whose
// state is Pending or Ready, sorted by priority (lower number first) then
// FIFO by creation time.
func (q *Queue) GetReadyItems() []*mtypes.WorkItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	completed := q.completedSetLocked()
	var ready []*mtypes.WorkItem
	for _, item := range q.items {
		if item.State != mtypes.StatePending && item.State != mtypes.StateReady {
			continue
		}
		if item.DependenciesSatisfied(completed) {
			ready = append(ready, item)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// MarkCompleted transitions id to Complete, unblocking its dependents.
func (q *Queue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("work item %s not found", id)
	}
	if err := item.TransitionTo(mtypes.StateComplete); err != nil {
		return err
	}
	delete(q.activeSince, id)
	return nil
}

// Transition applies an arbitrary legal state transition, tracking activity
// timestamps for the deadlock detector.
func (q *Queue) Transition(id string, to mtypes.WorkItemState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("work item %s not found", id)
	}
	if err := item.TransitionTo(to); err != nil {
		return err
	}
	if to == mtypes.StateActive || to == mtypes.StatePendingReview {
		q.activeSince[id] = time.Now()
	} else {
		delete(q.activeSince, id)
	}
	return nil
}

// CurrentPhase returns the queue's current phase.
func (q *Queue) CurrentPhase() mtypes.Phase {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.currentPhase
}

// TransitionPhase validates the forward edge and atomically advances the
// queue's current phase; rejects any other transition.
func (q *Queue) TransitionPhase(to mtypes.Phase) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !mtypes.CanTransitionPhase(q.currentPhase, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", q.currentPhase, to)
	}
	q.currentPhase = to
	return nil
}

// DetectDeadlocks returns the ids of work items that are stalled: either
// stuck in Active/PendingReview longer than the configured timeout, or part
// of a dependency cycle among non-Complete items.
func (q *Queue) DetectDeadlocks() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now()
	stalled := make(map[string]bool)

	for id, since := range q.activeSince {
		if now.Sub(since) > q.stallTimeout {
			stalled[id] = true
		}
	}

	for _, id := range q.cycleMembersLocked() {
		stalled[id] = true
	}

	out := make([]string, 0, len(stalled))
	for id := range stalled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// cycleMembersLocked finds every non-Complete work item that participates in
// a dependency cycle, via a classic three-color DFS. Caller must hold at
// least a read lock.
func (q *Queue) cycleMembersLocked() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var inCycle []string

	var visit func(id string, stack []string) bool
	visit = func(id string, stack []string) bool {
		item, ok := q.items[id]
		if !ok || item.State == mtypes.StateComplete {
			color[id] = black
			return false
		}
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range item.Dependencies {
			switch color[dep] {
			case gray:
				// Found a cycle; everything on the stack from dep onward is
				// a member.
				started := false
				for _, s := range stack {
					if s == dep {
						started = true
					}
					if started {
						inCycle = append(inCycle, s)
					}
				}
				inCycle = append(inCycle, dep)
			case white:
				if visit(dep, stack) {
					inCycle = append(inCycle, id)
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range q.items {
		if color[id] == white {
			visit(id, nil)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, id := range inCycle {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
