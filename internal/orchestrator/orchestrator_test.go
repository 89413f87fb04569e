package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/queue"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *mailbox.StaticRegistry) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	executorMB := mailbox.New()
	reg.Register(TargetExecutor, executorMB)
	startStubReviewer(t, reg, router)

	q := queue.New()
	o := New(q, events.NewStore(store), router, mtypes.Global())
	o.PollInterval = 10 * time.Millisecond
	return o, reg
}

// startStubReviewer answers validate_transition requests purely by
// mtypes.CanTransitionPhase's adjacency rule, mirroring the real Reviewer's
// handleValidateTransition without pulling in the full reviewer package
// (gates, storage, enrichment) this test has no need of.
func startStubReviewer(t *testing.T, reg *mailbox.StaticRegistry, router *mailbox.Router) {
	t.Helper()
	reviewerMB := mailbox.New()
	reg.Register(TargetReviewer, reviewerMB)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			msg, ok := reviewerMB.Receive(ctx)
			if !ok {
				return
			}
			if kind, _ := msg.Payload["kind"].(string); kind != "validate_transition" {
				continue
			}
			from, _ := msg.Payload["from"].(string)
			to, _ := msg.Payload["to"].(string)
			valid := mtypes.CanTransitionPhase(mtypes.Phase(from), mtypes.Phase(to))
			router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "reviewer", msg.Source, map[string]interface{}{
				"kind":  "transition_validated",
				"valid": valid,
				"from":  from,
				"to":    to,
			}))
		}
	}()
}

func TestDispatchSendsReadyItemToExecutor(t *testing.T) {
	o, reg := newTestOrchestrator(t)
	o.Queue.Add(mtypes.NewWorkItem("w1", "do a thing", "user said so", 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	mb := mailbox.New()
	go func() {
		o.Run(ctx, mb)
		close(done)
	}()

	executorMB, _ := reg.Lookup(TargetExecutor)
	receiveCtx, receiveCancel := context.WithTimeout(context.Background(), time.Second)
	defer receiveCancel()
	msg, ok := executorMB.Receive(receiveCtx)
	cancel()
	<-done

	if !ok {
		t.Fatal("expected the executor's mailbox to receive a dispatch")
	}
	if msg.Payload["work_item_id"] != "w1" {
		t.Fatalf("expected work_item_id w1, got %v", msg.Payload)
	}

	item, _ := o.Queue.Get("w1")
	if item.State != mtypes.StateActive {
		t.Fatalf("expected w1 active after dispatch, got %s", item.State)
	}
}

func TestReviewFailureRequeuesUntilMaxAttemptsThenErrors(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	item := mtypes.NewWorkItem("w1", "do a thing", "user said so", 1)
	o.Queue.Add(item)
	_ = o.Queue.Transition("w1", mtypes.StateReady)
	_ = o.Queue.Transition("w1", mtypes.StateActive)
	_ = o.Queue.Transition("w1", mtypes.StatePendingReview)

	for i := 1; i <= DefaultMaxReviewAttempts; i++ {
		o.handleMessage(mailbox.NewMessage(mailbox.TypeWork, "reviewer", "orchestrator", map[string]interface{}{
			"kind":                 "review_failed",
			"work_item_id":         "w1",
			"improvement_guidance": "fix it",
		}))
		got, _ := o.Queue.Get("w1")
		if got.State != mtypes.StateActive {
			t.Fatalf("attempt %d: expected item re-queued to Active, got %s", i, got.State)
		}
		_ = o.Queue.Transition("w1", mtypes.StatePendingReview)
	}

	o.handleMessage(mailbox.NewMessage(mailbox.TypeWork, "reviewer", "orchestrator", map[string]interface{}{
		"kind":                 "review_failed",
		"work_item_id":         "w1",
		"improvement_guidance": "still broken",
	}))

	got, _ := o.Queue.Get("w1")
	if got.State != mtypes.StateError {
		t.Fatalf("expected item in Error after exceeding max review attempts, got %s", got.State)
	}
}

func TestReviewPassedCompletesWorkItem(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Queue.Add(mtypes.NewWorkItem("w1", "do a thing", "user said so", 1))
	_ = o.Queue.Transition("w1", mtypes.StateReady)
	_ = o.Queue.Transition("w1", mtypes.StateActive)
	_ = o.Queue.Transition("w1", mtypes.StatePendingReview)

	o.handleMessage(mailbox.NewMessage(mailbox.TypeWork, "reviewer", "orchestrator", map[string]interface{}{
		"kind":         "review_passed",
		"work_item_id": "w1",
	}))

	got, _ := o.Queue.Get("w1")
	if got.State != mtypes.StateComplete {
		t.Fatalf("expected Complete, got %s", got.State)
	}
}

func TestPhaseTransitionRejectsNonAdjacentEdge(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if err := o.RequestPhaseTransition(mtypes.PhaseArtifactsToTasks); err == nil {
		t.Fatal("expected non-adjacent phase transition to be rejected")
	}
	if err := o.RequestPhaseTransition(mtypes.PhaseSpecToPlan); err != nil {
		t.Fatalf("expected adjacent phase transition to succeed, got %v", err)
	}
}
