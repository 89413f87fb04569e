// Package reviewer implements the Reviewer agent (spec.md §4.3): eight
// quality gates combining pattern rules with optional Enricher semantic
// checks, requirement tracking, and improvement-guidance generation on
// failure. Grounded on internal/mcp/handlers.go's "validate then respond"
// request-handling shape, adapted from one-shot MCP tool calls to a
// mailbox-driven actor that answers the Orchestrator asynchronously.
package reviewer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mnemosyne-ai/mnemosyne/internal/config"
	"github.com/mnemosyne-ai/mnemosyne/internal/enrich"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

// OrchestratorTarget is the mailbox the Reviewer reports outcomes to.
const OrchestratorTarget = "orchestrator"

// Reviewer evaluates completed work items against the eight quality gates.
type Reviewer struct {
	Storage  *storage.Store
	Enricher enrich.Enricher
	Router   *mailbox.Router
	Logger   *log.Logger

	disabledGates map[GateName]bool
}

// New creates a Reviewer. enricher may be nil, in which case only pattern
// rules run (spec.md §7's graceful-degradation policy). Every gate runs by
// default; call ConfigureGates to disable specific ones per
// config.ReviewConfig.Gates.
func New(store *storage.Store, enricher enrich.Enricher, router *mailbox.Router) *Reviewer {
	if enricher == nil {
		enricher = enrich.NoopEnricher{}
	}
	return &Reviewer{Storage: store, Enricher: enricher, Router: router, Logger: log.Default()}
}

// ConfigureGates applies gates (typically config.ReviewConfig.Gates):
// a listed gate with Enabled false is skipped in Review and counted as
// passing. A gate absent from gates stays enabled. Unknown names are
// ignored rather than erroring, so a config typo degrades instead of
// breaking review entirely.
func (r *Reviewer) ConfigureGates(gates []config.GateConfig) {
	disabled := make(map[GateName]bool, len(gates))
	for _, g := range gates {
		if !g.Enabled {
			disabled[GateName(g.Name)] = true
		}
	}
	r.disabledGates = disabled
}

// Run implements supervisor.Actor: it answers review_work and
// validate_transition requests until ctx is cancelled.
func (r *Reviewer) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	for {
		msg, ok := mb.Receive(ctx)
		if !ok {
			return nil
		}
		switch kind, _ := msg.Payload["kind"].(string); kind {
		case "review_work":
			r.handleReviewWork(ctx, msg)
		case "validate_transition":
			r.handleValidateTransition(msg)
		default:
			r.Logger.Printf("[REVIEWER] unrecognized message kind %q", kind)
		}
	}
}

func (r *Reviewer) handleReviewWork(ctx context.Context, msg *mailbox.Message) {
	workItemID, _ := msg.Payload["work_item_id"].(string)
	memoryIDs, _ := msg.Payload["execution_memory_ids"].([]string)
	intent, _ := msg.Payload["original_intent"].(string)

	feedback, pass := r.Review(ctx, workItemID, intent, memoryIDs)

	if pass {
		r.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "reviewer", OrchestratorTarget, map[string]interface{}{
			"kind":         "review_passed",
			"work_item_id": workItemID,
			"requirements": feedback.Requirements,
		}))
		return
	}

	r.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "reviewer", OrchestratorTarget, map[string]interface{}{
		"kind":                 "review_failed",
		"work_item_id":         workItemID,
		"improvement_guidance": feedback.ImprovementGuidance,
		"feedback":             feedback,
	}))
}

// handleValidateTransition accepts or rejects a requested phase transition
// purely on the adjacency rule, per spec.md §4.3 ("the Reviewer accepts or
// rejects a requested transition purely on the phase adjacency rule in v1").
func (r *Reviewer) handleValidateTransition(msg *mailbox.Message) {
	from, _ := msg.Payload["from"].(string)
	to, _ := msg.Payload["to"].(string)
	valid := mtypes.CanTransitionPhase(mtypes.Phase(from), mtypes.Phase(to))

	r.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "reviewer", msg.Source, map[string]interface{}{
		"kind":  "transition_validated",
		"valid": valid,
		"from":  from,
		"to":    to,
	}))
}

// Review gates the memories produced for workItemID against all eight
// gates, fetching their content from storage. A pass is all eight passing.
func (r *Reviewer) Review(ctx context.Context, workItemID, intent string, memoryIDs []string) (*mtypes.ReviewFeedback, bool) {
	var contentParts []string
	var importances []int
	for _, id := range memoryIDs {
		rec, err := r.Storage.GetMemory(id)
		if err != nil {
			r.Logger.Printf("[REVIEWER] failed to load memory %s for review: %v", id, err)
			continue
		}
		contentParts = append(contentParts, rec.Content)
		importances = append(importances, rec.Importance)
	}
	content := strings.Join(contentParts, "\n")

	requirements := r.trackRequirements(ctx, intent, content, memoryIDs)

	in := gateInput{content: content, intent: intent, importances: importances, enricher: r.Enricher}

	gateResults := make(map[string]bool, len(AllGates()))
	var issues []string
	for _, name := range AllGates() {
		if r.disabledGates[name] {
			gateResults[string(name)] = true
			continue
		}
		res := runGate(ctx, name, in)
		gateResults[string(name)] = res.Pass
		if !res.Pass {
			issues = append(issues, res.Issues...)
		}
	}

	pass := allPass(gateResults)
	markRequirements(requirements, pass, memoryIDs)
	reqStatus := requirementStatuses(requirements)

	if pass {
		return &mtypes.ReviewFeedback{GateResults: gateResults, ExecutionMemoryIDs: memoryIDs, Requirements: reqStatus}, true
	}

	feedback := &mtypes.ReviewFeedback{
		GateResults:         gateResults,
		Issues:              dedup(issues),
		SuggestedTests:      suggestTests(content),
		ExecutionMemoryIDs:  memoryIDs,
		ImprovementGuidance: buildGuidance(gateResults, dedup(issues)),
		Requirements:        reqStatus,
	}
	return feedback, false
}

func (r *Reviewer) trackRequirements(ctx context.Context, intent, content string, memoryIDs []string) []enrich.Requirement {
	if intent == "" {
		return nil
	}
	reqs, err := r.Enricher.ExtractRequirements(ctx, intent, map[string]string{"content": content})
	if err != nil {
		r.Logger.Printf("[REVIEWER] requirement extraction degraded: %v", err)
		return nil
	}
	return reqs
}

func markRequirements(reqs []enrich.Requirement, pass bool, memoryIDs []string) {
	for i := range reqs {
		reqs[i].Satisfied = pass
		if pass {
			reqs[i].EvidenceIDs = memoryIDs
		} else {
			reqs[i].EvidenceIDs = nil
		}
	}
}

// requirementStatuses converts the Enricher's extracted requirements (once
// markRequirements has recorded each one's outcome) into the wire shape
// carried on ReviewFeedback.
func requirementStatuses(reqs []enrich.Requirement) []mtypes.RequirementStatus {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]mtypes.RequirementStatus, len(reqs))
	for i, req := range reqs {
		out[i] = mtypes.RequirementStatus{
			Description: req.Description,
			Satisfied:   req.Satisfied,
			EvidenceIDs: req.EvidenceIDs,
		}
	}
	return out
}

func allPass(results map[string]bool) bool {
	for _, p := range results {
		if !p {
			return false
		}
	}
	return true
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// buildGuidance enumerates failed gates plus a numbered issue list, exactly
// the shape spec.md §4.3 describes for improvement_guidance absent an
// Enricher-supplied consolidated plan.
func buildGuidance(results map[string]bool, issues []string) string {
	var failed []string
	for _, name := range AllGates() {
		if !results[string(name)] {
			failed = append(failed, string(name))
		}
	}
	sort.Strings(failed)

	var b strings.Builder
	b.WriteString("failed gates: ")
	b.WriteString(strings.Join(failed, ", "))
	for i, issue := range issues {
		fmt.Fprintf(&b, "\n%d. %s", i+1, issue)
	}
	return b.String()
}
