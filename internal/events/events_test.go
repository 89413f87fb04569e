package events

import (
	"log"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTime(offsetSeconds int64) time.Time {
	return testEpoch.Add(time.Duration(offsetSeconds) * time.Second)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndLoadByNamespaceRoundTrip(t *testing.T) {
	mem := newTestStore(t)
	s := NewStore(mem)

	ns := mtypes.Project("myapp")
	e := &mtypes.AgentEvent{
		Kind:       mtypes.EventWorkItemStarted,
		Namespace:  ns,
		WorkItemID: "w1",
		AgentID:    "executor-1",
	}
	if err := s.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := s.LoadByNamespace(ns)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(loaded))
	}
	if loaded[0].WorkItemID != "w1" || loaded[0].AgentID != "executor-1" {
		t.Fatalf("round trip mismatch: %+v", loaded[0])
	}
	if loaded[0].Kind != mtypes.EventWorkItemStarted {
		t.Fatalf("expected kind to round trip, got %s", loaded[0].Kind)
	}
}

func TestLoadByNamespaceSortsChronologically(t *testing.T) {
	mem := newTestStore(t)
	s := NewStore(mem)
	ns := mtypes.Project("myapp")

	base := mtypes.AgentEvent{Namespace: ns, WorkItemID: "w1", AgentID: "a"}
	e1 := base
	e1.Kind = mtypes.EventWorkItemAssigned
	e1.CreatedAt = fixedTime(3)
	e2 := base
	e2.Kind = mtypes.EventWorkItemStarted
	e2.CreatedAt = fixedTime(1)
	e3 := base
	e3.Kind = mtypes.EventWorkItemCompleted
	e3.CreatedAt = fixedTime(2)

	for _, e := range []*mtypes.AgentEvent{&e1, &e2, &e3} {
		if err := s.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.LoadByNamespace(ns)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 events, got %d", len(loaded))
	}
	if loaded[0].Kind != mtypes.EventWorkItemStarted ||
		loaded[1].Kind != mtypes.EventWorkItemCompleted ||
		loaded[2].Kind != mtypes.EventWorkItemAssigned {
		t.Fatalf("expected chronological order by created_at, got %v, %v, %v",
			loaded[0].Kind, loaded[1].Kind, loaded[2].Kind)
	}
}

func TestReplayRebuildsWorkItemStateAndPhase(t *testing.T) {
	ns := mtypes.Project("myapp")
	events := []*mtypes.AgentEvent{
		{Kind: mtypes.EventWorkItemAssigned, Namespace: ns, WorkItemID: "w1", AgentID: "executor-1", CreatedAt: fixedTime(1)},
		{Kind: mtypes.EventWorkItemStarted, Namespace: ns, WorkItemID: "w1", AgentID: "executor-1", CreatedAt: fixedTime(2)},
		{Kind: mtypes.EventPhaseTransition, Namespace: ns, Fields: map[string]string{"from": string(mtypes.PhasePromptToSpec), "to": string(mtypes.PhaseSpecToPlan)}, CreatedAt: fixedTime(3)},
		{Kind: mtypes.EventWorkItemCompleted, Namespace: ns, WorkItemID: "w1", AgentID: "executor-1", CreatedAt: fixedTime(4)},
	}

	state := Replay(events, log.Default())
	if state.WorkItemStates["w1"] != mtypes.StateComplete {
		t.Fatalf("expected w1 complete, got %s", state.WorkItemStates["w1"])
	}
	if state.Phase != mtypes.PhaseSpecToPlan {
		t.Fatalf("expected phase SpecToPlan, got %s", state.Phase)
	}
	if state.EventsSkipped != 0 {
		t.Fatalf("expected no skipped events, got %d", state.EventsSkipped)
	}
}

func TestReplaySkipsMalformedEventsWithoutHalting(t *testing.T) {
	ns := mtypes.Project("myapp")
	events := []*mtypes.AgentEvent{
		{Kind: mtypes.EventWorkItemAssigned, Namespace: ns, WorkItemID: "", AgentID: "a", CreatedAt: fixedTime(1)}, // malformed: no work item id
		{Kind: mtypes.EventWorkItemStarted, Namespace: ns, WorkItemID: "w2", AgentID: "a", CreatedAt: fixedTime(2)},
	}

	state := Replay(events, nil)
	if state.EventsSkipped != 1 {
		t.Fatalf("expected 1 skipped event, got %d", state.EventsSkipped)
	}
	if state.EventsApplied != 1 {
		t.Fatalf("expected 1 applied event, got %d", state.EventsApplied)
	}
	if state.WorkItemStates["w2"] != mtypes.StateActive {
		t.Fatalf("expected w2 active despite the earlier skipped event, got %s", state.WorkItemStates["w2"])
	}
}

func TestReplayIsIdempotentOnRepeatedApplication(t *testing.T) {
	ns := mtypes.Project("myapp")
	events := []*mtypes.AgentEvent{
		{Kind: mtypes.EventWorkItemAssigned, Namespace: ns, WorkItemID: "w1", AgentID: "a", CreatedAt: fixedTime(1)},
		{Kind: mtypes.EventWorkItemCompleted, Namespace: ns, WorkItemID: "w1", AgentID: "a", CreatedAt: fixedTime(2)},
	}
	first := Replay(events, nil)
	second := Replay(append(events, events...), nil)
	if first.WorkItemStates["w1"] != second.WorkItemStates["w1"] {
		t.Fatal("expected replay to be idempotent regardless of duplicate events in the log")
	}
}

func TestReplayTracksDeadlockSetAndResolution(t *testing.T) {
	ns := mtypes.Project("myapp")
	events := []*mtypes.AgentEvent{
		{Kind: mtypes.EventDeadlockDetected, Namespace: ns, Fields: map[string]string{"blocked_ids": "w1,w2"}, CreatedAt: fixedTime(1)},
		{Kind: mtypes.EventDeadlockResolved, Namespace: ns, Fields: map[string]string{"blocked_ids": "w1"}, CreatedAt: fixedTime(2)},
	}
	state := Replay(events, nil)
	if !state.DeadlockedIDs["w2"] {
		t.Fatal("expected w2 to remain deadlocked")
	}
	if state.DeadlockedIDs["w1"] {
		t.Fatal("expected w1 to be resolved")
	}
}
