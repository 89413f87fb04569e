package reviewer

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/config"
	"github.com/mnemosyne-ai/mnemosyne/internal/enrich"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

// fakeRequirementEnricher extracts one fixed requirement per call and
// otherwise behaves like enrich.NoopEnricher, letting tests exercise
// requirement tracking without a real semantic-enrichment service.
type fakeRequirementEnricher struct {
	enrich.NoopEnricher
	requirement string
}

func (f fakeRequirementEnricher) ExtractRequirements(ctx context.Context, intent string, hints map[string]string) ([]enrich.Requirement, error) {
	return []enrich.Requirement{{Description: f.requirement}}, nil
}

func newTestReviewer(t *testing.T) (*Reviewer, *mailbox.StaticRegistry) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	orchestratorMB := mailbox.New()
	reg.Register(OrchestratorTarget, orchestratorMB)

	return New(store, nil, router), reg
}

func storeMemory(t *testing.T, store *storage.Store, id, content string, importance int) {
	t.Helper()
	rec := &mtypes.MemoryRecord{
		ID:         id,
		Namespace:  mtypes.Global(),
		Content:    content,
		Kind:       mtypes.KindInsight,
		Importance: importance,
		Confidence: 1,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := store.StoreMemory(rec); err != nil {
		t.Fatalf("storeMemory(%s): %v", id, err)
	}
}

func TestReviewAllGatesPassProducesReviewPassed(t *testing.T) {
	r, reg := newTestReviewer(t)
	storeMemory(t, r.Storage, "m1", "implemented the widget loader with full test coverage", 5)

	r.handleReviewWork(context.Background(), mailbox.NewMessage(mailbox.TypeWork, "executor", "reviewer", map[string]interface{}{
		"kind":                  "review_work",
		"work_item_id":          "w1",
		"execution_memory_ids":  []string{"m1"},
	}))

	orchestratorMB, _ := reg.Lookup(OrchestratorTarget)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := orchestratorMB.Receive(ctx)
	if !ok {
		t.Fatal("expected a message dispatched to the orchestrator")
	}
	if msg.Payload["kind"] != "review_passed" {
		t.Fatalf("expected review_passed, got %v", msg.Payload["kind"])
	}
}

func TestReviewFailingGatesProducesReviewFailedWithIssues(t *testing.T) {
	r, reg := newTestReviewer(t)
	storeMemory(t, r.Storage, "m1", "TODO: still need to handle the error case, HACK for now", 5)

	r.handleReviewWork(context.Background(), mailbox.NewMessage(mailbox.TypeWork, "executor", "reviewer", map[string]interface{}{
		"kind":                 "review_work",
		"work_item_id":         "w1",
		"execution_memory_ids": []string{"m1"},
	}))

	orchestratorMB, _ := reg.Lookup(OrchestratorTarget)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := orchestratorMB.Receive(ctx)
	if !ok {
		t.Fatal("expected a message dispatched to the orchestrator")
	}
	if msg.Payload["kind"] != "review_failed" {
		t.Fatalf("expected review_failed, got %v", msg.Payload["kind"])
	}
	guidance, _ := msg.Payload["improvement_guidance"].(string)
	if guidance == "" {
		t.Fatal("expected non-empty improvement guidance")
	}
	feedback, ok := msg.Payload["feedback"].(*mtypes.ReviewFeedback)
	if !ok {
		t.Fatalf("expected feedback payload to be *mtypes.ReviewFeedback, got %T", msg.Payload["feedback"])
	}
	if feedback.GateResults[string(GateCompleteness)] {
		t.Fatal("expected completeness gate to fail on a TODO marker")
	}
	if feedback.GateResults[string(GateNoAntiPatterns)] {
		t.Fatal("expected no_anti_patterns gate to fail on a HACK marker")
	}
	if len(feedback.Issues) == 0 {
		t.Fatal("expected issues to be populated on failure")
	}
}

func TestEmptyContentFailsConstraintsAndDocumentationGates(t *testing.T) {
	r, _ := newTestReviewer(t)
	feedback, pass := r.Review(context.Background(), "w1", "", nil)
	if pass {
		t.Fatal("expected review of an empty memory set to fail")
	}
	if feedback.GateResults[string(GateConstraintsMaintained)] {
		t.Fatal("expected constraints_maintained to fail on empty content")
	}
	if feedback.GateResults[string(GateDocumentationComplete)] {
		t.Fatal("expected documentation_complete to fail on empty content")
	}
}

func TestReviewPassMarksRequirementsSatisfiedWithEvidence(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	storeMemory(t, store, "m1", "implemented the widget loader with full test coverage", 5)

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	reg.Register(OrchestratorTarget, mailbox.New())

	r := New(store, fakeRequirementEnricher{requirement: "widget loader must be implemented"}, router)

	feedback, pass := r.Review(context.Background(), "w1", "implement the widget loader", []string{"m1"})
	if !pass {
		t.Fatalf("expected review to pass, got issues: %v", feedback.Issues)
	}
	if len(feedback.Requirements) != 1 {
		t.Fatalf("expected one tracked requirement, got %d", len(feedback.Requirements))
	}
	got := feedback.Requirements[0]
	if !got.Satisfied {
		t.Fatal("expected requirement to be marked satisfied on a passing review")
	}
	if len(got.EvidenceIDs) != 1 || got.EvidenceIDs[0] != "m1" {
		t.Fatalf("expected evidence ids to carry the execution memory ids, got %v", got.EvidenceIDs)
	}
}

func TestReviewFailureCarriesRequirementsForwardUnsatisfied(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	storeMemory(t, store, "m1", "TODO: still need to handle the error case, HACK for now", 5)

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	reg.Register(OrchestratorTarget, mailbox.New())

	r := New(store, fakeRequirementEnricher{requirement: "error case must be handled"}, router)

	feedback, pass := r.Review(context.Background(), "w1", "handle the error case", []string{"m1"})
	if pass {
		t.Fatal("expected review to fail on TODO/HACK markers")
	}
	if len(feedback.Requirements) != 1 {
		t.Fatalf("expected one tracked requirement, got %d", len(feedback.Requirements))
	}
	got := feedback.Requirements[0]
	if got.Satisfied {
		t.Fatal("expected requirement to be recorded unsatisfied on a failing review")
	}
	if got.EvidenceIDs != nil {
		t.Fatalf("expected no evidence ids for an unsatisfied requirement, got %v", got.EvidenceIDs)
	}
}

func TestConfigureGatesSkipsDisabledGateAsPassing(t *testing.T) {
	r, _ := newTestReviewer(t)
	r.ConfigureGates([]config.GateConfig{
		{Name: string(GateDocumentationComplete), Enabled: false},
	})

	feedback, pass := r.Review(context.Background(), "w1", "", nil)
	if !feedback.GateResults[string(GateDocumentationComplete)] {
		t.Fatal("expected a disabled gate to be recorded as passing regardless of content")
	}
	if pass {
		t.Fatal("expected other failing gates (still enabled) to keep the review failing")
	}
	if feedback.GateResults[string(GateConstraintsMaintained)] {
		t.Fatal("expected constraints_maintained, which wasn't disabled, to still fail on empty content")
	}
}

func TestValidateTransitionAnswersByAdjacencyRule(t *testing.T) {
	r, reg := newTestReviewer(t)
	callerMB := mailbox.New()
	reg.Register("caller", callerMB)

	r.handleValidateTransition(mailbox.NewMessage(mailbox.TypeWork, "caller", "reviewer", map[string]interface{}{
		"kind": "validate_transition",
		"from": string(mtypes.PhasePromptToSpec),
		"to":   string(mtypes.PhaseArtifactsToTasks),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := callerMB.Receive(ctx)
	if !ok {
		t.Fatal("expected a transition_validated response")
	}
	if valid, _ := msg.Payload["valid"].(bool); valid {
		t.Fatal("expected non-adjacent transition to be reported invalid")
	}
}
