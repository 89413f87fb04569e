package queue

import (
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

func TestGetReadyItemsRespectsDependencies(t *testing.T) {
	q := New()
	base := mtypes.NewWorkItem("base", "", "", 1)
	base.State = mtypes.StateComplete
	dependent := mtypes.NewWorkItem("dependent", "", "", 1)
	dependent.Dependencies = []string{"base"}
	blocked := mtypes.NewWorkItem("blocked", "", "", 1)
	blocked.Dependencies = []string{"never-complete"}

	q.Add(base)
	q.Add(dependent)
	q.Add(blocked)

	ready := q.GetReadyItems()
	if len(ready) != 1 || ready[0].ID != "dependent" {
		t.Fatalf("expected only dependent to be ready, got %+v", ready)
	}
}

func TestGetReadyItemsOrdersByPriorityThenFIFO(t *testing.T) {
	q := New()
	low := mtypes.NewWorkItem("low", "", "", 5)
	low.CreatedAt = time.Now()
	high := mtypes.NewWorkItem("high", "", "", 1)
	high.CreatedAt = time.Now().Add(time.Second)
	q.Add(low)
	q.Add(high)

	ready := q.GetReadyItems()
	if len(ready) != 2 || ready[0].ID != "high" {
		t.Fatalf("expected high priority item first, got %+v", ready)
	}
}

func TestMarkCompletedUnblocksDependents(t *testing.T) {
	q := New()
	base := mtypes.NewWorkItem("base", "", "", 1)
	dependent := mtypes.NewWorkItem("dependent", "", "", 1)
	dependent.Dependencies = []string{"base"}
	q.Add(base)
	q.Add(dependent)

	if len(q.GetReadyItems()) != 1 {
		t.Fatal("expected only base ready initially")
	}
	for _, s := range []mtypes.WorkItemState{mtypes.StateReady, mtypes.StateActive, mtypes.StatePendingReview} {
		if err := q.Transition("base", s); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.MarkCompleted("base"); err != nil {
		t.Fatal(err)
	}
	ready := q.GetReadyItems()
	found := false
	for _, r := range ready {
		if r.ID == "dependent" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected dependent to be ready after base completed")
	}
}

func TestPhaseTransitionGate(t *testing.T) {
	q := New()
	if err := q.TransitionPhase(mtypes.PhasePlanToArtifacts); err == nil {
		t.Fatal("expected PromptToSpec -> PlanToArtifacts to be rejected")
	}
	if err := q.TransitionPhase(mtypes.PhaseSpecToPlan); err != nil {
		t.Fatal(err)
	}
	if q.CurrentPhase() != mtypes.PhaseSpecToPlan {
		t.Fatalf("expected current phase SpecToPlan, got %s", q.CurrentPhase())
	}
}

func TestDetectDeadlocksOnDependencyCycle(t *testing.T) {
	q := New()
	a := mtypes.NewWorkItem("A", "", "", 1)
	a.Dependencies = []string{"B"}
	b := mtypes.NewWorkItem("B", "", "", 1)
	b.Dependencies = []string{"A"}
	q.Add(a)
	q.Add(b)

	deadlocked := q.DetectDeadlocks()
	if len(deadlocked) != 2 {
		t.Fatalf("expected both A and B reported, got %+v", deadlocked)
	}
	want := map[string]bool{"A": true, "B": true}
	for _, id := range deadlocked {
		if !want[id] {
			t.Fatalf("unexpected id %s in deadlock set", id)
		}
	}
}

func TestDetectDeadlocksOnStallTimeout(t *testing.T) {
	q := New().WithStallTimeout(10 * time.Millisecond)
	w := mtypes.NewWorkItem("w1", "", "", 1)
	q.Add(w)
	if err := q.Transition("w1", mtypes.StateReady); err != nil {
		t.Fatal(err)
	}
	if err := q.Transition("w1", mtypes.StateActive); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	deadlocked := q.DetectDeadlocks()
	if len(deadlocked) != 1 || deadlocked[0] != "w1" {
		t.Fatalf("expected w1 reported as stalled, got %+v", deadlocked)
	}
}

func TestNoDeadlockWhenNoCycleAndNotStalled(t *testing.T) {
	q := New()
	w := mtypes.NewWorkItem("w1", "", "", 1)
	q.Add(w)
	if len(q.DetectDeadlocks()) != 0 {
		t.Fatal("expected no deadlocks for a single unblocked item")
	}
}
