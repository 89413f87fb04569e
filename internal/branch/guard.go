package branch

import (
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// Decision is the ConflictDetector's classification of a branch-access
// request (spec.md §4.8). The last two values always produce a denial.
type Decision string

const (
	DecisionProceed            Decision = "proceed"
	DecisionNotifyAndProceed   Decision = "notify_and_proceed"
	DecisionRequireCoordination Decision = "require_coordination"
	DecisionRequireApproval    Decision = "require_approval"
	DecisionBlock              Decision = "block"
)

// denies reports whether d always produces a guard denial.
func (d Decision) denies() bool {
	return d == DecisionRequireApproval || d == DecisionBlock
}

// ConflictDetector classifies a branch-access request against the branch's
// existing holders.
type ConflictDetector interface {
	Classify(req Request, holders []*mtypes.BranchAssignment) Decision
}

// Request describes one branch-access attempt.
type Request struct {
	Identity mtypes.AgentIdentity
	Branch   string
	Intent   mtypes.Intent
	// Path is set for file-level write validation; empty for a branch-level
	// request.
	Path string
}

// GuardResult is the Guard's verdict: Allowed is always set; Decision and
// Reason are populated on a denial so callers can explain it.
type GuardResult struct {
	Allowed  bool
	Decision Decision
	Reason   string
}

func allow() GuardResult { return GuardResult{Allowed: true, Decision: DecisionProceed} }

func deny(d Decision, reason string) GuardResult {
	return GuardResult{Allowed: false, Decision: d, Reason: reason}
}

// Guard mediates every branch-access request per spec.md §4.8's four-step
// check: disabled-passthrough, coordinator bypass, existing-assignment
// mismatch, then ConflictDetector classification.
type Guard struct {
	Enabled          bool
	AutoApproveReadOnly bool
	registry         *Registry
	detector         ConflictDetector
}

// NewGuard creates an enabled Guard backed by reg, using detector to
// classify requests the first three checks don't already resolve. A nil
// detector falls back to DefaultConflictDetector.
func NewGuard(reg *Registry, detector ConflictDetector) *Guard {
	if detector == nil {
		detector = DefaultConflictDetector{}
	}
	return &Guard{
		Enabled:             true,
		AutoApproveReadOnly: true,
		registry:            reg,
		detector:            detector,
	}
}

// Check evaluates req and returns whether it's allowed.
func (g *Guard) Check(req Request) GuardResult {
	if !g.Enabled {
		return allow()
	}
	if req.Identity.IsCoordinator {
		return allow()
	}

	if existing, ok := g.registry.GetAgentAssignment(req.Identity.ID); ok && existing.Branch != req.Branch {
		return deny(DecisionRequireApproval,
			"agent "+req.Identity.ID+" already holds branch "+existing.Branch+"; release it before joining "+req.Branch)
	}

	holders := g.holdersExcluding(req.Branch, req.Identity.ID)

	if req.Intent.Kind == mtypes.IntentReadOnly && g.AutoApproveReadOnly {
		return allow()
	}

	if req.Path != "" && req.Intent.Kind == mtypes.IntentWrite && !req.Intent.CoversPath(req.Path) {
		return deny(DecisionBlock, "write intent does not cover path "+req.Path)
	}

	decision := g.detector.Classify(req, holders)
	if decision.denies() {
		return deny(decision, conflictReason(decision, holders))
	}
	return GuardResult{Allowed: true, Decision: decision}
}

func (g *Guard) holdersExcluding(branch, agentID string) []*mtypes.BranchAssignment {
	var out []*mtypes.BranchAssignment
	for _, id := range g.registry.GetAssignments(branch) {
		if id == agentID {
			continue
		}
		if a, ok := g.registry.GetAgentAssignment(id); ok {
			out = append(out, a)
		}
	}
	return out
}

func conflictReason(d Decision, holders []*mtypes.BranchAssignment) string {
	switch d {
	case DecisionRequireApproval:
		return "branch already held by another agent; coordinator approval required"
	case DecisionBlock:
		return "branch access blocked: conflicting intent with current holder(s)"
	default:
		return ""
	}
}

// DefaultConflictDetector implements the heuristic spec.md §4.8 implies:
// an empty branch always Proceeds; any Isolated holder makes every request
// RequireApproval, whatever its intent; against only Coordinated holders a
// FullBranch intent Blocks (exclusive claims can't coexist), a ReadOnly or
// Write intent gets NotifyAndProceed, and anything else RequiresCoordination.
type DefaultConflictDetector struct{}

// Classify implements ConflictDetector.
func (DefaultConflictDetector) Classify(req Request, holders []*mtypes.BranchAssignment) Decision {
	if len(holders) == 0 {
		return DecisionProceed
	}

	// An existing Isolated holder claims the branch exclusively: nothing
	// else may join regardless of the requester's own intent.
	anyIsolated := false
	for _, h := range holders {
		if h.Mode == mtypes.ModeIsolated {
			anyIsolated = true
			break
		}
	}
	if anyIsolated {
		return DecisionRequireApproval
	}

	if req.Intent.Kind == mtypes.IntentFullBranch {
		return DecisionBlock
	}

	switch req.Intent.Kind {
	case mtypes.IntentReadOnly:
		return DecisionNotifyAndProceed
	case mtypes.IntentWrite:
		return DecisionNotifyAndProceed
	default:
		return DecisionRequireCoordination
	}
}
