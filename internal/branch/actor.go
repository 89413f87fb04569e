package branch

import (
	"context"
	"log"

	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// Target is the mailbox the Coordinator is reachable at: the real join
// surface spec.md §4.8 requires before any agent touches a branch.
const Target = "branch"

// Actor exposes a Coordinator as an addressable mailbox target, so the
// Executor (or any other agent) can request a branch join before starting
// work scoped to a branch, rather than the guard/coordinate/notify flow
// only ever running inside its own unit tests. Grounded on the
// Reviewer/Orchestrator request-reply shape (handleValidateTransition):
// answer synchronously to msg.Source, hold no per-caller state here.
type Actor struct {
	Coordinator *Coordinator
	Router      *mailbox.Router
	Logger      *log.Logger
}

// NewActor wraps coord for mailbox dispatch via router.
func NewActor(coord *Coordinator, router *mailbox.Router) *Actor {
	return &Actor{Coordinator: coord, Router: router, Logger: log.Default()}
}

// Run implements supervisor.Actor: it answers join_branch and
// release_branch requests until ctx is cancelled.
func (a *Actor) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	for {
		msg, ok := mb.Receive(ctx)
		if !ok {
			return nil
		}
		switch kind, _ := msg.Payload["kind"].(string); kind {
		case "join_branch":
			a.handleJoin(msg)
		case "release_branch":
			a.handleRelease(msg)
		default:
			a.Logger.Printf("[BRANCH] unrecognized message kind %q", kind)
		}
	}
}

func (a *Actor) handleJoin(msg *mailbox.Message) {
	agentID, _ := msg.Payload["agent_id"].(string)
	branchName, _ := msg.Payload["branch"].(string)
	intentKind, _ := msg.Payload["intent_kind"].(string)
	paths, _ := msg.Payload["paths"].([]string)

	var intent mtypes.Intent
	switch mtypes.IntentKind(intentKind) {
	case mtypes.IntentWrite:
		intent = mtypes.WriteIntent(paths...)
	case mtypes.IntentFullBranch:
		intent = mtypes.FullBranchIntent()
	default:
		intent = mtypes.ReadOnlyIntent()
	}

	result := a.Coordinator.Join(JoinRequest{
		Identity: mtypes.AgentIdentity{ID: agentID, Role: mtypes.RoleExecutor},
		Branch:   branchName,
		Intent:   intent,
		Mode:     mtypes.ModeIsolated,
	})

	a.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, Target, msg.Source, map[string]interface{}{
		"kind":         "branch_join_result",
		"outcome":      string(result.Outcome),
		"reason":       result.Reason,
		"suggestions":  result.Suggestions,
		"other_agents": result.OtherAgents,
		"message":      result.Message,
	}))
}

func (a *Actor) handleRelease(msg *mailbox.Message) {
	agentID, _ := msg.Payload["agent_id"].(string)
	a.Coordinator.registry.ReleaseAssignment(agentID)
}
