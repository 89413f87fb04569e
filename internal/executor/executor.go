// Package executor implements the Executor agent (spec.md §4.5): it runs
// work items concurrently up to a configured cap, records
// WorkItemStarted/WorkItemCompleted events, and spawns bounded sub-agents
// when concurrency headroom allows. Grounded on internal/agents.ProcessSpawner
// (running-agent tracking map plus a per-type sequence counter), generalized
// from external WezTerm process spawning to in-process goroutine dispatch.
package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemosyne-ai/mnemosyne/internal/branch"
	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// TargetOrchestrator is the mailbox the Executor reports outcomes to.
const TargetOrchestrator = "orchestrator"

// WorkFunc performs the actual work for a work item and reports success or
// failure. The default WorkFunc used in production is a stub: real work
// execution is delegated to whatever external agent runtime spec.md treats
// as out of scope (§6) — this hook is where that integration point lives.
type WorkFunc func(ctx context.Context, workItemID, description string) (memoryIDs []string, err error)

// Executor runs work items with bounded concurrency.
type Executor struct {
	MaxConcurrency int
	Work           WorkFunc
	Events         *events.Store
	Router         *mailbox.Router
	Namespace      mtypes.Namespace
	Logger         *log.Logger

	mu       sync.Mutex
	active   int
	sequence int
}

// New creates an Executor with the given concurrency cap. A nil WorkFunc
// defaults to NoopWork, which succeeds immediately with no produced
// memories — useful until a real agent runtime is wired in.
func New(maxConcurrency int, work WorkFunc, ev *events.Store, router *mailbox.Router, ns mtypes.Namespace) *Executor {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if work == nil {
		work = NoopWork
	}
	return &Executor{
		MaxConcurrency: maxConcurrency,
		Work:           work,
		Events:         ev,
		Router:         router,
		Namespace:      ns,
		Logger:         log.Default(),
	}
}

// NoopWork is a WorkFunc that succeeds trivially, for use before a real
// agent runtime is wired in.
func NoopWork(ctx context.Context, workItemID, description string) ([]string, error) {
	return nil, nil
}

// Run implements supervisor.Actor: it answers execute_work requests,
// dispatching each onto its own goroutine once concurrency headroom allows.
func (e *Executor) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	for {
		msg, ok := mb.Receive(ctx)
		if !ok {
			return nil
		}
		kind, _ := msg.Payload["kind"].(string)
		if kind != "execute_work" {
			e.Logger.Printf("[EXECUTOR] unrecognized message kind %q", kind)
			continue
		}
		workItemID, _ := msg.Payload["work_item_id"].(string)
		description, _ := msg.Payload["description"].(string)
		assignedBranch, _ := msg.Payload["assigned_branch"].(string)
		fileScope, _ := msg.Payload["file_scope"].([]string)

		if assignedBranch != "" {
			approved, reason, err := e.requestBranchJoin(workItemID, assignedBranch, fileScope)
			if err != nil {
				e.Logger.Printf("[EXECUTOR] branch join check for %s failed: %v", workItemID, err)
			}
			if err != nil || !approved {
				if reason == "" {
					reason = "branch join not approved"
				}
				e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "executor", TargetOrchestrator, map[string]interface{}{
					"kind":         "work_failed",
					"work_item_id": workItemID,
					"error":        reason,
				}))
				continue
			}
		}

		// spec.md §4.5: spawn a bounded sub-agent when headroom allows beyond
		// this item's own slot, otherwise run inline. The headroom check is
		// taken before acquiring anything, so this item never competes with
		// itself for the one slot either path needs.
		if e.hasSpareHeadroom() {
			if subID := e.SpawnSubAgent(ctx, "executor", workItemID, description); subID != "" {
				continue
			}
			// Lost the race for the spare slot: fall through to the inline
			// path below exactly as if there had been no headroom at all.
		}

		if !e.tryAcquire() {
			// No headroom: report the item failed to the Orchestrator (which
			// moves it to Error) rather than blocking the mailbox loop.
			e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "executor", TargetOrchestrator, map[string]interface{}{
				"kind":         "work_failed",
				"work_item_id": workItemID,
				"error":        "executor at max concurrency",
			}))
			continue
		}

		go e.execute(ctx, workItemID, description)
	}
}

// hasSpareHeadroom reports whether dispatching this item would still leave
// at least one free concurrency slot, the signal spec.md §4.5 uses to prefer
// a tracked sub-agent over running the item directly.
func (e *Executor) hasSpareHeadroom() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active+1 < e.MaxConcurrency
}

// branchJoinReplyTimeout bounds how long requestBranchJoin waits for the
// branch Actor's branch_join_result reply before giving up.
const branchJoinReplyTimeout = 2 * time.Second

// requestBranchJoin asks the branch Coordinator (spec.md §4.8) for
// permission to work on branchName before a work item touches it, via a
// one-shot reply mailbox registered under a request-scoped target — the
// same bridge the Orchestrator uses to consult the Reviewer on phase
// transitions.
func (e *Executor) requestBranchJoin(workItemID, branchName string, paths []string) (approved bool, reason string, err error) {
	registry, ok := e.Router.Registry().(*mailbox.StaticRegistry)
	if !ok {
		return false, "", fmt.Errorf("router registry does not support ad-hoc registration")
	}

	replyTarget := "executor-branch-reply-" + workItemID
	replyMB := mailbox.New()
	registry.Register(replyTarget, replyMB)
	defer registry.Unregister(replyTarget)

	intentKind := mtypes.IntentReadOnly
	if len(paths) > 0 {
		intentKind = mtypes.IntentWrite
	}

	e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, replyTarget, branch.Target, map[string]interface{}{
		"kind":        "join_branch",
		"agent_id":    "executor-" + workItemID,
		"branch":      branchName,
		"intent_kind": string(intentKind),
		"paths":       paths,
	}))

	waitCtx, cancel := context.WithTimeout(context.Background(), branchJoinReplyTimeout)
	defer cancel()
	msg, ok := replyMB.Receive(waitCtx)
	if !ok {
		return false, "", fmt.Errorf("timed out waiting for branch join result")
	}

	outcome, _ := msg.Payload["outcome"].(string)
	switch branch.JoinOutcome(outcome) {
	case branch.OutcomeApproved:
		return true, "", nil
	case branch.OutcomeRequiresCoordination:
		msgText, _ := msg.Payload["message"].(string)
		return false, msgText, nil
	default:
		denyReason, _ := msg.Payload["reason"].(string)
		return false, denyReason, nil
	}
}

func (e *Executor) tryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active >= e.MaxConcurrency {
		return false
	}
	e.active++
	return true
}

func (e *Executor) release() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

func (e *Executor) execute(ctx context.Context, workItemID, description string) {
	defer e.release()

	e.recordEvent(&mtypes.AgentEvent{
		ID:         uuid.NewString(),
		Kind:       mtypes.EventWorkItemStarted,
		Namespace:  e.Namespace,
		CreatedAt:  time.Now(),
		AgentID:    "executor",
		WorkItemID: workItemID,
	})

	memoryIDs, err := e.Work(ctx, workItemID, description)

	if err != nil {
		e.recordEvent(&mtypes.AgentEvent{
			ID:         uuid.NewString(),
			Kind:       mtypes.EventWorkItemFailed,
			Namespace:  e.Namespace,
			CreatedAt:  time.Now(),
			AgentID:    "executor",
			WorkItemID: workItemID,
			Fields:     map[string]string{"error": err.Error()},
		})
		e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "executor", TargetOrchestrator, map[string]interface{}{
			"kind":         "work_failed",
			"work_item_id": workItemID,
			"error":        err.Error(),
		}))
		return
	}

	e.recordEvent(&mtypes.AgentEvent{
		ID:         uuid.NewString(),
		Kind:       mtypes.EventWorkItemCompleted,
		Namespace:  e.Namespace,
		CreatedAt:  time.Now(),
		AgentID:    "executor",
		WorkItemID: workItemID,
	})
	e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "executor", TargetOrchestrator, map[string]interface{}{
		"kind":                 "work_completed",
		"work_item_id":         workItemID,
		"execution_memory_ids": memoryIDs,
	}))
}

// SpawnSubAgent runs the work item on a sub-agent goroutine sharing this
// Executor's Work/Events/Router and concurrency slots, if headroom allows.
// The sub-agent dispatches its work_completed/work_failed message straight
// to the Orchestrator from its own id, tagged with sub_agent_id; outcomes
// are not routed back through parentID. Returns the generated sub-agent id,
// or "" if there was no headroom to spawn into.
func (e *Executor) SpawnSubAgent(ctx context.Context, parentID, workItemID, description string) string {
	if !e.tryAcquire() {
		return ""
	}

	e.mu.Lock()
	e.sequence++
	subID := fmt.Sprintf("%s-sub-%d", parentID, e.sequence)
	e.mu.Unlock()

	e.recordEvent(&mtypes.AgentEvent{
		ID:         uuid.NewString(),
		Kind:       mtypes.EventSubAgentSpawned,
		Namespace:  e.Namespace,
		CreatedAt:  time.Now(),
		AgentID:    subID,
		ParentID:   parentID,
		WorkItemID: workItemID,
	})

	go func() {
		defer e.release()
		e.recordEvent(&mtypes.AgentEvent{ID: uuid.NewString(), Kind: mtypes.EventWorkItemStarted, Namespace: e.Namespace,
			CreatedAt: time.Now(), AgentID: subID, ParentID: parentID, WorkItemID: workItemID})
		memoryIDs, err := e.Work(ctx, workItemID, description)
		done := &mtypes.AgentEvent{ID: uuid.NewString(), Kind: mtypes.EventWorkItemCompleted, Namespace: e.Namespace,
			CreatedAt: time.Now(), AgentID: subID, ParentID: parentID, WorkItemID: workItemID}
		kind := "work_completed"
		payload := map[string]interface{}{
			"kind":                 kind,
			"work_item_id":         workItemID,
			"execution_memory_ids": memoryIDs,
			"sub_agent_id":         subID,
		}
		if err != nil {
			payload["kind"] = "work_failed"
			payload["error"] = err.Error()
			done.Kind = mtypes.EventWorkItemFailed
			done.Fields = map[string]string{"error": err.Error()}
		}
		e.recordEvent(done)
		e.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, subID, TargetOrchestrator, payload))
	}()

	return subID
}

func (e *Executor) recordEvent(evt *mtypes.AgentEvent) {
	if err := e.Events.Append(evt); err != nil {
		e.Logger.Printf("[EXECUTOR] failed to persist event: %v", err)
	}
}
