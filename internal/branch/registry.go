// Package branch implements Mnemosyne's branch coordination layer (spec.md
// §4.8): a process-wide registry of which agent holds which git branch, a
// guard that mediates access requests against that registry, and a
// coordinator that turns guard decisions into actionable join results.
//
// Grounded on internal/git/git.go for the branch-naming/VCS operations this
// layer coordinates access to, and on internal/queue.Queue for the
// RWMutex-guarded dual-index pattern (agent->assignment, branch->agents).
package branch

import (
	"fmt"
	"sync"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// Registry maps agent-id -> assignment and branch -> set of agent-ids, the
// same dual-index shape internal/queue.Queue uses for work-item dependency
// tracking.
type Registry struct {
	mu          sync.RWMutex
	byAgent     map[string]*mtypes.BranchAssignment
	byBranch    map[string]map[string]struct{} // branch -> set of agent-ids
}

// NewRegistry creates an empty branch registry.
func NewRegistry() *Registry {
	return &Registry{
		byAgent:  make(map[string]*mtypes.BranchAssignment),
		byBranch: make(map[string]map[string]struct{}),
	}
}

// AssignAgent records agentID's claim on branch under intent/mode,
// replacing any prior assignment for that agent.
func (r *Registry) AssignAgent(agentID, branch string, intent mtypes.Intent, mode mtypes.Mode) *mtypes.BranchAssignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byAgent[agentID]; ok {
		r.removeFromBranchIndexLocked(prev.Branch, agentID)
	}

	assignment := &mtypes.BranchAssignment{
		AgentID:   agentID,
		Branch:    branch,
		Intent:    intent,
		Mode:      mode,
		WorkItems: nil,
		CreatedAt: time.Now(),
	}
	r.byAgent[agentID] = assignment

	if r.byBranch[branch] == nil {
		r.byBranch[branch] = make(map[string]struct{})
	}
	r.byBranch[branch][agentID] = struct{}{}

	return assignment
}

// ReleaseAssignment removes agentID's claim entirely. Releasing an agent
// with no assignment is a no-op, not an error — the round trip
// assign->release->assign must restore the initial (empty) state exactly.
func (r *Registry) ReleaseAssignment(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byAgent[agentID]
	if !ok {
		return
	}
	r.removeFromBranchIndexLocked(prev.Branch, agentID)
	delete(r.byAgent, agentID)
}

func (r *Registry) removeFromBranchIndexLocked(branch, agentID string) {
	set, ok := r.byBranch[branch]
	if !ok {
		return
	}
	delete(set, agentID)
	if len(set) == 0 {
		delete(r.byBranch, branch)
	}
}

// GetAssignments returns every agent-id currently assigned to branch.
func (r *Registry) GetAssignments(branch string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byBranch[branch]
	out := make([]string, 0, len(set))
	for agentID := range set {
		out = append(out, agentID)
	}
	return out
}

// GetAgentAssignment returns agentID's current branch assignment, if any.
func (r *Registry) GetAgentAssignment(agentID string) (*mtypes.BranchAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byAgent[agentID]
	return a, ok
}

// ActiveBranches returns every branch with at least one current assignment.
func (r *Registry) ActiveBranches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byBranch))
	for b := range r.byBranch {
		out = append(out, b)
	}
	return out
}

// UpdateWorkItems replaces the set of work-item ids an assigned agent is
// tracking against its branch assignment, e.g. as the Orchestrator assigns
// more work to an agent already holding a branch.
func (r *Registry) UpdateWorkItems(agentID string, workItems []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byAgent[agentID]
	if !ok {
		return fmt.Errorf("branch: agent %s has no active assignment", agentID)
	}
	a.WorkItems = workItems
	return nil
}
