package branch

import (
	"fmt"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// JoinOutcome is the kind of result a JoinRequest resolves to (spec.md §4.8).
type JoinOutcome string

const (
	OutcomeApproved             JoinOutcome = "approved"
	OutcomeDenied                JoinOutcome = "denied"
	OutcomeRequiresCoordination JoinOutcome = "requires_coordination"
)

// JoinRequest asks the Coordinator for permission to work on a branch.
type JoinRequest struct {
	Identity mtypes.AgentIdentity
	Branch   string
	Intent   mtypes.Intent
	Mode     mtypes.Mode
}

// JoinResult is the Coordinator's answer: exactly one of Approved,
// Denied{Reason, Suggestions}, or RequiresCoordination{OtherAgents, Message}
// is meaningful, selected by Outcome.
type JoinResult struct {
	Outcome     JoinOutcome
	Assignment  *mtypes.BranchAssignment // set only on Approved
	Reason      string                   // set only on Denied
	Suggestions []string                 // set only on Denied
	OtherAgents []string                 // set only on RequiresCoordination
	Message     string                   // set only on RequiresCoordination
}

// Notifier is the subset of internal/notifications.Manager the Coordinator
// needs to surface a coordination requirement to a human operator.
type Notifier interface {
	NotifySupervisorNeedsInput(message string) error
}

// Coordinator wraps a Registry and Guard and turns their verdicts into a
// JoinResult, generating denial suggestions from the heuristics spec.md
// §4.8 names: try Coordinated mode, try ReadOnly, wait for current holders,
// or branch off.
type Coordinator struct {
	registry *Registry
	guard    *Guard
	notifier Notifier
}

// NewCoordinator creates a Coordinator over reg and guard. notifier may be
// nil, in which case RequiresCoordination outcomes are not surfaced
// anywhere beyond the returned JoinResult.
func NewCoordinator(reg *Registry, guard *Guard, notifier Notifier) *Coordinator {
	return &Coordinator{registry: reg, guard: guard, notifier: notifier}
}

// Join evaluates req and, on approval, records the assignment in the
// registry.
func (c *Coordinator) Join(req JoinRequest) JoinResult {
	guardReq := Request{Identity: req.Identity, Branch: req.Branch, Intent: req.Intent}
	result := c.guard.Check(guardReq)

	if result.Decision == DecisionRequireCoordination {
		others := c.registry.GetAssignments(req.Branch)
		msg := fmt.Sprintf("agent %s wants to join branch %s alongside %d other agent(s); coordination required",
			req.Identity.ID, req.Branch, len(others))
		if c.notifier != nil {
			_ = c.notifier.NotifySupervisorNeedsInput(msg)
		}
		return JoinResult{
			Outcome:     OutcomeRequiresCoordination,
			OtherAgents: others,
			Message:     msg,
		}
	}

	if !result.Allowed {
		return JoinResult{
			Outcome:     OutcomeDenied,
			Reason:      result.Reason,
			Suggestions: suggestionsFor(req, c.registry.GetAssignments(req.Branch)),
		}
	}

	assignment := c.registry.AssignAgent(req.Identity.ID, req.Branch, req.Intent, req.Mode)
	return JoinResult{Outcome: OutcomeApproved, Assignment: assignment}
}

// suggestionsFor generates the alternatives spec.md §4.8 names for a denied
// request: try Coordinated mode, try ReadOnly, wait for current holders, or
// branch off to an isolated branch.
func suggestionsFor(req JoinRequest, holders []string) []string {
	var out []string
	if req.Mode != mtypes.ModeCoordinated {
		out = append(out, "retry in Coordinated mode to share the branch with current holders")
	}
	if req.Intent.Kind != mtypes.IntentReadOnly {
		out = append(out, "retry with a ReadOnly intent if write access isn't required yet")
	}
	if len(holders) > 0 {
		out = append(out, fmt.Sprintf("wait for current holder(s) (%v) to release the branch", holders))
	}
	out = append(out, fmt.Sprintf("branch off %s into a new isolated branch instead of joining it", req.Branch))
	return out
}
