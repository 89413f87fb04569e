// Package orchestrator implements the Orchestrator agent (spec.md §4.2): it
// owns the work queue and phase state machine, dispatches ready items to the
// Executor, routes phase-transition requests to the Reviewer, and persists
// every decision through the Event layer. Grounded on the teacher's
// internal/captain package for the "one actor drives everything else"
// supervisory-loop shape, generalized from a single external CLI process to
// an addressable mailbox actor.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/queue"
)

// Agent names the Orchestrator dispatches to, the reserved mailbox targets
// registered by the supervisor at spawn time.
const (
	TargetExecutor  = "executor"
	TargetReviewer  = "reviewer"
	TargetOptimizer = "optimizer"
)

// DefaultPollInterval is how often the Orchestrator scans for ready items
// between message-driven wakeups.
const DefaultPollInterval = 200 * time.Millisecond

// Orchestrator is the actor that owns the Queue and drives dispatch.
type Orchestrator struct {
	Queue             *queue.Queue
	Events            *events.Store
	Router            *mailbox.Router
	Namespace         mtypes.Namespace
	PollInterval      time.Duration
	MaxReviewAttempts int
	Logger            *log.Logger

	dispatched map[string]bool // work item ids already sent to an agent this epoch
}

// New creates an Orchestrator over q, backed by store for persistence and
// router for outbound dispatch.
func New(q *queue.Queue, store *events.Store, router *mailbox.Router, ns mtypes.Namespace) *Orchestrator {
	return &Orchestrator{
		Queue:             q,
		Events:            store,
		Router:            router,
		Namespace:         ns,
		PollInterval:      DefaultPollInterval,
		MaxReviewAttempts: DefaultMaxReviewAttempts,
		Logger:            log.Default(),
		dispatched:        make(map[string]bool),
	}
}

// Run implements supervisor.Actor: it drains mb for inbound results and
// polls the queue for newly ready items until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.dispatchReady()
			o.checkDeadlocks()
		default:
		}

		if msg, ok := mb.TryReceive(); ok {
			o.handleMessage(msg)
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// dispatchReady sends each currently-ready work item to the Executor, unless
// already dispatched this epoch (re-dispatch happens only after a
// WorkCompleted/WorkFailed clears the flag).
func (o *Orchestrator) dispatchReady() {
	for _, item := range o.Queue.GetReadyItems() {
		if o.dispatched[item.ID] {
			continue
		}
		if item.State == mtypes.StatePending {
			if err := o.Queue.Transition(item.ID, mtypes.StateReady); err != nil {
				o.Logger.Printf("[ORCHESTRATOR] failed to mark %s ready: %v", item.ID, err)
				continue
			}
		}
		if err := o.Queue.Transition(item.ID, mtypes.StateActive); err != nil {
			o.Logger.Printf("[ORCHESTRATOR] failed to activate %s: %v", item.ID, err)
			continue
		}
		o.dispatched[item.ID] = true

		o.recordEvent(&mtypes.AgentEvent{
			Kind:       mtypes.EventWorkItemAssigned,
			Namespace:  o.Namespace,
			WorkItemID: item.ID,
			AgentID:    TargetExecutor,
		})

		o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "orchestrator", TargetExecutor, map[string]interface{}{
			"kind":            "execute_work",
			"work_item_id":    item.ID,
			"description":     item.Description,
			"assigned_branch": item.AssignedBranch,
			"file_scope":      item.FileScope,
		}))
	}
}

// checkDeadlocks runs the queue's stall/cycle detector and, on a new
// detection, persists a DeadlockDetected event.
func (o *Orchestrator) checkDeadlocks() {
	stalled := o.Queue.DetectDeadlocks()
	if len(stalled) == 0 {
		return
	}
	o.recordEvent(&mtypes.AgentEvent{
		Kind:      mtypes.EventDeadlockDetected,
		Namespace: o.Namespace,
		Fields:    map[string]string{"blocked_ids": joinIDs(stalled)},
	})
}

// handleMessage processes one inbound mailbox message: work results from
// the Executor, review outcomes from the Reviewer, or context-usage alerts
// from the Optimizer.
func (o *Orchestrator) handleMessage(msg *mailbox.Message) {
	kind, _ := msg.Payload["kind"].(string)
	switch kind {
	case "work_completed":
		o.onWorkCompleted(msg)
	case "work_failed":
		o.onWorkFailed(msg)
	case "review_failed":
		o.onReviewFailed(msg)
	case "review_passed":
		o.onReviewPassed(msg)
	case "context_usage_high":
		o.onContextUsageHigh(msg)
	default:
		o.Logger.Printf("[ORCHESTRATOR] unrecognized message kind %q from %s", kind, msg.Source)
	}
}

func (o *Orchestrator) onWorkCompleted(msg *mailbox.Message) {
	workItemID, _ := msg.Payload["work_item_id"].(string)
	delete(o.dispatched, workItemID)

	if err := o.Queue.Transition(workItemID, mtypes.StatePendingReview); err != nil {
		o.Logger.Printf("[ORCHESTRATOR] %s completed but cannot enter review: %v", workItemID, err)
		return
	}

	intent := ""
	if item, ok := o.Queue.Get(workItemID); ok {
		intent = item.OriginalIntent
	}
	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "orchestrator", TargetReviewer, map[string]interface{}{
		"kind":                 "review_work",
		"work_item_id":         workItemID,
		"execution_memory_ids": msg.Payload["execution_memory_ids"],
		"original_intent":      intent,
	}))
}

func (o *Orchestrator) onWorkFailed(msg *mailbox.Message) {
	workItemID, _ := msg.Payload["work_item_id"].(string)
	errMsg, _ := msg.Payload["error"].(string)
	delete(o.dispatched, workItemID)

	if item, ok := o.Queue.Get(workItemID); ok {
		item.Error = errMsg
	}
	_ = o.Queue.Transition(workItemID, mtypes.StateError)

	o.recordEvent(&mtypes.AgentEvent{
		Kind:       mtypes.EventWorkItemFailed,
		Namespace:  o.Namespace,
		WorkItemID: workItemID,
		Fields:     map[string]string{"error": errMsg},
	})
}

// DefaultMaxReviewAttempts bounds the review-retry loop (spec.md §4.3);
// exceeding it marks the item Error instead of looping forever.
const DefaultMaxReviewAttempts = 3

func (o *Orchestrator) onReviewFailed(msg *mailbox.Message) {
	workItemID, _ := msg.Payload["work_item_id"].(string)
	guidance, _ := msg.Payload["improvement_guidance"].(string)

	item, ok := o.Queue.Get(workItemID)
	if !ok {
		return
	}
	item.ReviewAttempt++

	o.recordEvent(&mtypes.AgentEvent{
		Kind:       mtypes.EventReviewFailed,
		Namespace:  o.Namespace,
		WorkItemID: workItemID,
		Fields: map[string]string{
			"attempt":  strconv.Itoa(item.ReviewAttempt),
			"guidance": guidance,
		},
	})

	if item.ReviewAttempt > o.MaxReviewAttempts {
		item.Error = "exceeded max review attempts: " + guidance
		_ = o.Queue.Transition(workItemID, mtypes.StateError)
		o.recordEvent(&mtypes.AgentEvent{
			Kind:       mtypes.EventWorkItemFailed,
			Namespace:  o.Namespace,
			WorkItemID: workItemID,
			Fields:     map[string]string{"error": item.Error},
		})
		return
	}

	_ = o.Queue.Transition(workItemID, mtypes.StateActive)
	// Re-dispatch immediately: dispatchReady only picks up Pending/Ready items.
	o.dispatched[workItemID] = true
	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "orchestrator", TargetExecutor, map[string]interface{}{
		"kind":            "execute_work",
		"work_item_id":    item.ID,
		"description":     item.Description,
		"assigned_branch": item.AssignedBranch,
		"file_scope":      item.FileScope,
	}))
}

func (o *Orchestrator) onReviewPassed(msg *mailbox.Message) {
	workItemID, _ := msg.Payload["work_item_id"].(string)
	if err := o.Queue.MarkCompleted(workItemID); err != nil {
		o.Logger.Printf("[ORCHESTRATOR] failed to complete %s: %v", workItemID, err)
		return
	}
	o.recordEvent(&mtypes.AgentEvent{
		Kind:       mtypes.EventWorkItemCompleted,
		Namespace:  o.Namespace,
		WorkItemID: workItemID,
	})
}

func (o *Orchestrator) onContextUsageHigh(msg *mailbox.Message) {
	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "orchestrator", TargetOptimizer, map[string]interface{}{
		"kind": "checkpoint",
	}))
}

// transitionReplyTimeout bounds how long RequestPhaseTransition waits for
// the Reviewer's transition_validated answer before giving up.
const transitionReplyTimeout = 2 * time.Second

// RequestPhaseTransition gates the queue's phase advance on Reviewer
// sign-off (spec.md §4.3: "the Reviewer accepts or rejects a requested
// transition purely on the phase adjacency rule in v1"), then persists a
// PhaseTransition event recording who approved it.
func (o *Orchestrator) RequestPhaseTransition(to mtypes.Phase) error {
	from := o.Queue.CurrentPhase()

	approved, err := o.validateTransitionWithReviewer(from, to)
	if err != nil {
		return fmt.Errorf("orchestrator: could not reach reviewer to validate transition %s -> %s: %w", from, to, err)
	}
	if !approved {
		return fmt.Errorf("orchestrator: reviewer rejected transition %s -> %s", from, to)
	}

	if err := o.Queue.TransitionPhase(to); err != nil {
		return err
	}
	o.recordEvent(&mtypes.AgentEvent{
		Kind:      mtypes.EventPhaseTransition,
		Namespace: o.Namespace,
		Fields:    map[string]string{"from": string(from), "to": string(to), "approved_by": TargetReviewer},
	})
	return nil
}

// validateTransitionWithReviewer dispatches a validate_transition request to
// the Reviewer and blocks for its transition_validated reply on a one-shot
// mailbox registered under a request-scoped id, so the synchronous call
// doesn't race the Orchestrator's own message-driven Run loop.
func (o *Orchestrator) validateTransitionWithReviewer(from, to mtypes.Phase) (bool, error) {
	registry, ok := o.Router.Registry().(*mailbox.StaticRegistry)
	if !ok {
		return false, fmt.Errorf("router registry does not support ad-hoc registration")
	}

	replyTarget := "orchestrator-transition-reply-" + string(to)
	replyMB := mailbox.New()
	registry.Register(replyTarget, replyMB)
	defer registry.Unregister(replyTarget)

	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, replyTarget, TargetReviewer, map[string]interface{}{
		"kind": "validate_transition",
		"from": string(from),
		"to":   string(to),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), transitionReplyTimeout)
	defer cancel()
	msg, ok := replyMB.Receive(ctx)
	if !ok {
		return false, fmt.Errorf("timed out waiting for reviewer's transition_validated reply")
	}
	valid, _ := msg.Payload["valid"].(bool)
	return valid, nil
}

func (o *Orchestrator) recordEvent(e *mtypes.AgentEvent) {
	if err := o.Events.Append(e); err != nil {
		o.Logger.Printf("[ORCHESTRATOR] failed to persist event %s: %v", e.Kind, err)
	}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
