package mtypes

import (
	"fmt"
	"time"
)

// WorkItemState is the closed enum from spec.md §3.
type WorkItemState string

const (
	StatePending       WorkItemState = "pending"
	StateReady         WorkItemState = "ready"
	StateActive        WorkItemState = "active"
	StatePendingReview WorkItemState = "pending_review"
	StateComplete      WorkItemState = "complete"
	StateError         WorkItemState = "error"
)

// Phase is a coarse stage in the work plan; only forward transitions to the
// immediate successor are legal (spec.md §4.2).
type Phase string

const (
	PhasePromptToSpec           Phase = "prompt_to_spec"
	PhaseSpecToPlan              Phase = "spec_to_plan"
	PhasePlanToArtifacts         Phase = "plan_to_artifacts"
	PhaseArtifactsToTasks        Phase = "artifacts_to_tasks"
	PhaseTasksToImplementation  Phase = "tasks_to_implementation"
	PhaseImplemented             Phase = "implemented"
)

// phaseOrder is the ordered chain PromptToSpec → ... → Implemented.
var phaseOrder = []Phase{
	PhasePromptToSpec,
	PhaseSpecToPlan,
	PhasePlanToArtifacts,
	PhaseArtifactsToTasks,
	PhaseTasksToImplementation,
	PhaseImplemented,
}

// NextPhase returns the immediate successor of p, and false if p is terminal
// or unrecognized.
func NextPhase(p Phase) (Phase, bool) {
	for i, cur := range phaseOrder {
		if cur == p {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// CanTransitionPhase reports whether from→to is a legal forward edge.
func CanTransitionPhase(from, to Phase) bool {
	next, ok := NextPhase(from)
	return ok && next == to
}

// PhaseIndex returns the position of p in the chain, or -1 if unknown. Used
// to verify phase monotonicity (spec.md §8).
func PhaseIndex(p Phase) int {
	for i, cur := range phaseOrder {
		if cur == p {
			return i
		}
	}
	return -1
}

// RequirementStatus is one tracked requirement's outcome after a review
// pass, carried forward across review attempts (spec.md §4.3: "marked
// satisfied with evidence ids" on pass, "recorded unsatisfied and carried
// forward" on failure).
type RequirementStatus struct {
	Description string   `json:"description"`
	Satisfied   bool     `json:"satisfied"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// ReviewFeedback is produced by the Reviewer on a failed gate pass (spec.md
// §4.3).
type ReviewFeedback struct {
	GateResults         map[string]bool      `json:"gate_results"`
	Issues              []string             `json:"issues"`
	SuggestedTests      []string             `json:"suggested_tests"`
	ExecutionMemoryIDs  []string             `json:"execution_memory_ids"`
	ImprovementGuidance string               `json:"improvement_guidance"`
	Requirements        []RequirementStatus  `json:"requirements,omitempty"`
}

// WorkItem is a unit of work in the queue (spec.md §3).
type WorkItem struct {
	ID              string        `json:"id"`
	Description     string        `json:"description"`
	OriginalIntent  string        `json:"original_intent"`
	OwningAgent     string        `json:"owning_agent"`
	State           WorkItemState `json:"state"`
	Phase           Phase         `json:"phase"`
	Priority        int           `json:"priority"` // lower = higher priority
	Dependencies    []string      `json:"dependencies"`

	Error           string         `json:"error,omitempty"`
	Timeout         *time.Duration `json:"timeout,omitempty"`
	AssignedBranch  string         `json:"assigned_branch,omitempty"`
	FileScope       []string       `json:"file_scope,omitempty"`

	ReviewFeedback  *ReviewFeedback `json:"review_feedback,omitempty"`
	SuggestedTests  []string        `json:"suggested_tests,omitempty"`
	ReviewAttempt   int             `json:"review_attempt"`

	ExecutionMemoryIDs []string `json:"execution_memory_ids,omitempty"`
	ConsolidatedContextMemoryID string `json:"consolidated_context_memory_id,omitempty"`

	EstimatedContextTokens int `json:"estimated_context_tokens"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkItem creates a pending work item with the invariant defaults spec.md
// §3 describes (state defaults to Pending, review_attempt starts at 0).
func NewWorkItem(id, description, originalIntent string, priority int) *WorkItem {
	now := time.Now()
	return &WorkItem{
		ID:             id,
		Description:    description,
		OriginalIntent: originalIntent,
		State:          StatePending,
		Phase:          PhasePromptToSpec,
		Priority:       priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// validWorkItemTransitions enumerates the legal set from spec.md §8.
var validWorkItemTransitions = map[WorkItemState][]WorkItemState{
	StatePending:       {StateReady},
	StateReady:         {StateActive},
	StateActive:        {StatePendingReview, StateError},
	StatePendingReview: {StateActive, StateComplete, StateError},
}

// CanTransition reports whether from→to belongs to the legal transition set,
// including the universal *→Error escape hatch.
func CanTransition(from, to WorkItemState) bool {
	if to == StateError {
		return true
	}
	for _, s := range validWorkItemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo validates and applies a state transition in place.
func (w *WorkItem) TransitionTo(to WorkItemState) error {
	if !CanTransition(w.State, to) {
		return fmt.Errorf("%w: illegal work item transition %s -> %s", errInvalid, w.State, to)
	}
	w.State = to
	w.UpdatedAt = time.Now()
	return nil
}

// DependenciesSatisfied reports whether every dependency id in completed is
// present, i.e. the item is eligible to become Ready.
func (w *WorkItem) DependenciesSatisfied(completed map[string]bool) bool {
	for _, dep := range w.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}
