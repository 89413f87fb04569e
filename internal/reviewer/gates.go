package reviewer

import (
	"context"
	"strings"

	"github.com/mnemosyne-ai/mnemosyne/internal/enrich"
)

// GateName is one of the eight fixed quality gates spec.md §4.3 names.
type GateName string

const (
	GateIntentSatisfied          GateName = "intent_satisfied"
	GateTestsPassing             GateName = "tests_passing"
	GateDocumentationComplete    GateName = "documentation_complete"
	GateNoAntiPatterns           GateName = "no_anti_patterns"
	GateConstraintsMaintained    GateName = "constraints_maintained"
	GateCompleteness             GateName = "completeness"
	GateCorrectness              GateName = "correctness"
	GatePrincipledImplementation GateName = "principled_implementation"
)

// AllGates lists every gate in a stable order, used to build deterministic
// ReviewFeedback.
func AllGates() []GateName {
	return []GateName{
		GateIntentSatisfied,
		GateTestsPassing,
		GateDocumentationComplete,
		GateNoAntiPatterns,
		GateConstraintsMaintained,
		GateCompleteness,
		GateCorrectness,
		GatePrincipledImplementation,
	}
}

// gateInput bundles everything a gate function needs: the concatenated
// content of every memory the Executor produced for this attempt, the work
// item's original intent, and the declared importance of each produced
// memory (for the constraints gate's range check).
type gateInput struct {
	content     string
	intent      string
	importances []int
	enricher    enrich.Enricher
}

// gateResult is one gate's pass/fail verdict plus any issues it raised.
type gateResult struct {
	Name   GateName
	Pass   bool
	Issues []string
}

func markerPresent(content string, markers ...string) bool {
	upper := strings.ToUpper(content)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// runGate dispatches to the pattern-rule implementation for name, consulting
// in.enricher for the three gates spec.md allows an optional semantic check
// on (intent, completeness, correctness). An enricher error degrades
// gracefully to the pattern-rule verdict alone, per spec.md §7.
func runGate(ctx context.Context, name GateName, in gateInput) gateResult {
	switch name {
	case GateIntentSatisfied:
		return gateIntentSatisfied(ctx, in)
	case GateTestsPassing:
		return gateTestsPassing(in)
	case GateDocumentationComplete:
		return gateDocumentationComplete(in)
	case GateNoAntiPatterns:
		return gateNoAntiPatterns(in)
	case GateConstraintsMaintained:
		return gateConstraintsMaintained(in)
	case GateCompleteness:
		return gateCompleteness(ctx, in)
	case GateCorrectness:
		return gateCorrectness(ctx, in)
	case GatePrincipledImplementation:
		return gatePrincipledImplementation(in)
	default:
		return gateResult{Name: name, Pass: false, Issues: []string{"unknown gate " + string(name)}}
	}
}

func gateIntentSatisfied(ctx context.Context, in gateInput) gateResult {
	res := gateResult{Name: GateIntentSatisfied, Pass: true}
	if in.enricher == nil || in.intent == "" {
		return res
	}
	pass, issues, err := in.enricher.SemanticCheckIntent(ctx, in.content, in.intent)
	if err != nil {
		return res // degrade gracefully: pattern rules alone decide this gate
	}
	res.Pass = pass
	res.Issues = issues
	return res
}

func gateTestsPassing(in gateInput) gateResult {
	if markerPresent(in.content, "FAIL", "FAILED", "FAILURE") && !markerPresent(in.content, "PASS") {
		return gateResult{Name: GateTestsPassing, Pass: false, Issues: []string{"test failure markers present with no passing evidence"}}
	}
	return gateResult{Name: GateTestsPassing, Pass: true}
}

func gateDocumentationComplete(in gateInput) gateResult {
	if strings.TrimSpace(in.content) == "" {
		return gateResult{Name: GateDocumentationComplete, Pass: false, Issues: []string{"no content to document"}}
	}
	return gateResult{Name: GateDocumentationComplete, Pass: true}
}

func gateNoAntiPatterns(in gateInput) gateResult {
	if markerPresent(in.content, "HACK", "WORKAROUND") {
		return gateResult{Name: GateNoAntiPatterns, Pass: false, Issues: []string{"HACK/WORKAROUND marker present"}}
	}
	return gateResult{Name: GateNoAntiPatterns, Pass: true}
}

func gateConstraintsMaintained(in gateInput) gateResult {
	var issues []string
	if strings.TrimSpace(in.content) == "" {
		issues = append(issues, "empty content violates the non-empty-content constraint")
	}
	for _, imp := range in.importances {
		if imp < 1 || imp > 10 {
			issues = append(issues, "importance out of [1,10] range")
			break
		}
	}
	return gateResult{Name: GateConstraintsMaintained, Pass: len(issues) == 0, Issues: issues}
}

func gateCompleteness(ctx context.Context, in gateInput) gateResult {
	res := gateResult{Name: GateCompleteness, Pass: true}
	if markerPresent(in.content, "TODO", "FIXME", "NOT IMPLEMENTED") {
		res.Pass = false
		res.Issues = append(res.Issues, "TODO/FIXME/NOT IMPLEMENTED marker present")
	}
	if in.enricher != nil {
		if pass, issues, err := in.enricher.SemanticCheckCompleteness(ctx, in.content); err == nil && !pass {
			res.Pass = false
			res.Issues = append(res.Issues, issues...)
		}
	}
	return res
}

func gateCorrectness(ctx context.Context, in gateInput) gateResult {
	res := gateResult{Name: GateCorrectness, Pass: true}
	if markerPresent(in.content, "ERROR", "EXCEPTION") {
		res.Pass = false
		res.Issues = append(res.Issues, "ERROR/EXCEPTION marker present")
	}
	if in.enricher != nil {
		if pass, issues, err := in.enricher.SemanticCheckCorrectness(ctx, in.content); err == nil && !pass {
			res.Pass = false
			res.Issues = append(res.Issues, issues...)
		}
	}
	return res
}

func gatePrincipledImplementation(in gateInput) gateResult {
	if markerPresent(in.content, "HACK", "WORKAROUND") {
		return gateResult{Name: GatePrincipledImplementation, Pass: false, Issues: []string{"implementation contains an acknowledged hack or workaround"}}
	}
	return gateResult{Name: GatePrincipledImplementation, Pass: true}
}

// suggestTests derives suggested test names from content the way spec.md
// §4.3 describes: keyword-derived presence of async/error/boundary/
// integration concerns without a corresponding test marker.
func suggestTests(content string) []string {
	upper := strings.ToUpper(content)
	hasTestMarker := strings.Contains(upper, "TEST")

	concerns := []struct {
		keyword string
		suggest string
	}{
		{"ASYNC", "add a test covering asynchronous/concurrent behavior"},
		{"ERROR", "add a test covering error handling paths"},
		{"BOUNDARY", "add a test covering boundary conditions"},
		{"INTEGRATION", "add an integration test covering cross-component behavior"},
	}

	var out []string
	for _, c := range concerns {
		if strings.Contains(upper, c.keyword) && !hasTestMarker {
			out = append(out, c.suggest)
		}
	}
	return out
}
