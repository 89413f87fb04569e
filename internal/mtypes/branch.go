package mtypes

import "time"

// IntentKind classifies the declared scope of an agent's branch interaction.
type IntentKind string

const (
	IntentReadOnly   IntentKind = "read_only"
	IntentWrite      IntentKind = "write"
	IntentFullBranch IntentKind = "full_branch"
)

// Intent is one of ReadOnly | Write{paths} | FullBranch.
type Intent struct {
	Kind  IntentKind `json:"kind"`
	Paths []string   `json:"paths,omitempty"` // populated only for Write
}

// ReadOnlyIntent constructs a read-only intent.
func ReadOnlyIntent() Intent { return Intent{Kind: IntentReadOnly} }

// WriteIntent constructs a write intent scoped to paths.
func WriteIntent(paths ...string) Intent { return Intent{Kind: IntentWrite, Paths: paths} }

// FullBranchIntent constructs a full-branch intent.
func FullBranchIntent() Intent { return Intent{Kind: IntentFullBranch} }

// CoversPath reports whether a Write intent's declared paths cover target.
// ReadOnly never "covers" a write; FullBranch covers everything.
func (i Intent) CoversPath(target string) bool {
	switch i.Kind {
	case IntentFullBranch:
		return true
	case IntentWrite:
		for _, p := range i.Paths {
			if p == target || pathHasPrefix(target, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func pathHasPrefix(target, prefix string) bool {
	if len(target) <= len(prefix) {
		return false
	}
	return target[:len(prefix)] == prefix && (prefix == "" || target[len(prefix)] == '/')
}

// Mode is whether an agent expects exclusivity on its branch.
type Mode string

const (
	ModeIsolated    Mode = "isolated"
	ModeCoordinated Mode = "coordinated"
)

// BranchAssignment records one agent's claim on a branch.
type BranchAssignment struct {
	AgentID   string    `json:"agent_id"`
	Branch    string    `json:"branch"`
	Intent    Intent    `json:"intent"`
	Mode      Mode      `json:"mode"`
	WorkItems []string  `json:"work_items"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentRole identifies which of the four cooperating agents an identity
// belongs to.
type AgentRole string

const (
	RoleOrchestrator AgentRole = "orchestrator"
	RoleOptimizer    AgentRole = "optimizer"
	RoleReviewer     AgentRole = "reviewer"
	RoleExecutor     AgentRole = "executor"
)

// AgentIdentity identifies one actor instance, including sub-agents spawned
// by the Executor (which carry their parent's id).
type AgentIdentity struct {
	ID            string    `json:"id"`
	Role          AgentRole `json:"role"`
	Namespace     Namespace `json:"namespace"`
	Branch        string    `json:"branch,omitempty"`
	WorkingDir    string    `json:"working_dir,omitempty"`
	SpawnedAt     time.Time `json:"spawned_at"`
	ParentID      string    `json:"parent_id,omitempty"`
	IsCoordinator bool      `json:"is_coordinator"`
}
