package branch

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
)

func newTestActor(t *testing.T) (*mailbox.Router, *mailbox.StaticRegistry) {
	t.Helper()
	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)

	reg2 := NewRegistry()
	coord := NewCoordinator(reg2, NewGuard(reg2, nil), nil)
	actorMB := mailbox.New()
	reg.Register(Target, actorMB)

	actor := NewActor(coord, router)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go actor.Run(ctx, actorMB)

	return router, reg
}

func TestActorJoinBranchApprovesEmptyBranch(t *testing.T) {
	router, reg := newTestActor(t)
	callerMB := mailbox.New()
	reg.Register("caller", callerMB)

	router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "caller", Target, map[string]interface{}{
		"kind":        "join_branch",
		"agent_id":    "executor-w1",
		"branch":      "main",
		"intent_kind": "write",
		"paths":       []string{"a.go"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := callerMB.Receive(ctx)
	if !ok {
		t.Fatal("expected a branch_join_result reply")
	}
	if msg.Payload["outcome"] != string(OutcomeApproved) {
		t.Fatalf("expected approved outcome on an empty branch, got %v", msg.Payload)
	}
}

func TestActorJoinBranchDeniesConflictingIsolatedHolder(t *testing.T) {
	router, reg := newTestActor(t)
	callerMB := mailbox.New()
	reg.Register("caller", callerMB)

	router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "caller", Target, map[string]interface{}{
		"kind":        "join_branch",
		"agent_id":    "executor-w1",
		"branch":      "main",
		"intent_kind": "full_branch",
	}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := callerMB.Receive(ctx); !ok {
		t.Fatal("expected first join reply")
	}

	router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "caller", Target, map[string]interface{}{
		"kind":        "join_branch",
		"agent_id":    "executor-w2",
		"branch":      "main",
		"intent_kind": "write",
		"paths":       []string{"a.go"},
	}))
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	msg, ok := callerMB.Receive(ctx2)
	if !ok {
		t.Fatal("expected second join reply")
	}
	if msg.Payload["outcome"] == string(OutcomeApproved) {
		t.Fatalf("expected second join denied while first holds main isolated via full_branch intent, got %v", msg.Payload)
	}
}
