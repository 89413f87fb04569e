// Package optimizer implements the Optimizer agent (spec.md §4.4): it owns
// the session's token budget, tracks loaded skills and memories against it,
// and checkpoints/compacts when usage crosses the configured threshold.
// Grounded on internal/metrics's AlertEngine (threshold-vs-metric
// comparison generating alerts) generalized from infra alerting to context
// budget alerting, and on internal/metrics/collector.go's periodic
// snapshot-loop shape for the 5s monitor.
package optimizer

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/config"
	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

// TargetOrchestrator is the mailbox the Optimizer reports usage alerts to.
const TargetOrchestrator = "orchestrator"

// AvgTokensPerSkill and AvgTokensPerMemory approximate the per-unit token
// cost used to estimate usage, since no real tokenizer is wired in (spec.md
// treats token counting as an implementation detail of the host agent
// runtime, out of scope here). These are deliberately round numbers a real
// deployment would replace with measured averages.
const (
	AvgTokensPerSkill  = 2_000
	AvgTokensPerMemory = 500
)

// Budget tracks token usage against the four-category partition spec.md
// §4.4 defines.
type Budget struct {
	cfg config.BudgetConfig

	criticalTokens int
	loadedSkills   []string
	loadedMemories []string
}

// NewBudget creates a Budget from cfg.
func NewBudget(cfg config.BudgetConfig) *Budget {
	return &Budget{cfg: cfg}
}

// criticalCap, skillsCap, projectMemoryCap, generalCap are the four
// partitioned allowances computed from cfg.TotalTokens.
func (b *Budget) criticalCap() int      { return int(float64(b.cfg.TotalTokens) * b.cfg.CriticalFraction) }
func (b *Budget) skillsCap() int        { return int(float64(b.cfg.TotalTokens) * b.cfg.SkillsFraction) }
func (b *Budget) projectMemoryCap() int { return int(float64(b.cfg.TotalTokens) * b.cfg.ProjectMemoryFraction) }
func (b *Budget) generalCap() int       { return int(float64(b.cfg.TotalTokens) * b.cfg.GeneralFraction) }

// LoadSkill records a loaded skill, refusing past MaxLoadedSkills.
func (b *Budget) LoadSkill(name string) bool {
	if len(b.loadedSkills) >= b.cfg.MaxLoadedSkills {
		return false
	}
	for _, s := range b.loadedSkills {
		if s == name {
			return true
		}
	}
	b.loadedSkills = append(b.loadedSkills, name)
	return true
}

// LoadMemory records a loaded memory id.
func (b *Budget) LoadMemory(id string) {
	for _, m := range b.loadedMemories {
		if m == id {
			return
		}
	}
	b.loadedMemories = append(b.loadedMemories, id)
}

// SetCritical sets the critical-category token usage (system prompt,
// instructions — whatever the host always keeps resident).
func (b *Budget) SetCritical(tokens int) { b.criticalTokens = tokens }

// Usage computes the current estimated total token usage as the critical
// tokens plus loaded skills and memories at their per-unit averages; no
// general-category overhead is added.
func (b *Budget) Usage() int {
	return b.criticalTokens + len(b.loadedSkills)*AvgTokensPerSkill + len(b.loadedMemories)*AvgTokensPerMemory
}

// UsageRatio is Usage() / TotalTokens.
func (b *Budget) UsageRatio() float64 {
	if b.cfg.TotalTokens == 0 {
		return 0
	}
	return float64(b.Usage()) / float64(b.cfg.TotalTokens)
}

// OverThreshold reports whether usage has crossed CheckpointThreshold.
func (b *Budget) OverThreshold() bool {
	return b.UsageRatio() >= b.cfg.CheckpointThreshold
}

// Compact unloads skills down to CompactionFloorSkills and drops the oldest
// half of loaded memories, per spec.md §4.4's compaction paragraph.
func (b *Budget) Compact() (skillsUnloaded, memoriesDropped int) {
	floor := b.cfg.CompactionFloorSkills
	if len(b.loadedSkills) > floor {
		skillsUnloaded = len(b.loadedSkills) - floor
		b.loadedSkills = b.loadedSkills[len(b.loadedSkills)-floor:]
	}
	half := len(b.loadedMemories) / 2
	if half > 0 {
		memoriesDropped = half
		b.loadedMemories = b.loadedMemories[half:]
	}
	return
}

// Optimizer is the actor that monitors a Budget and checkpoints/compacts
// when it crosses threshold, and loads per-work-item context on request.
type Optimizer struct {
	Budget    *Budget
	Storage   *storage.Store
	Events    *events.Store
	Router    *mailbox.Router
	Namespace mtypes.Namespace
	Logger    *log.Logger

	MonitorInterval time.Duration
}

// New creates an Optimizer from cfg and the shared storage/events/router.
func New(cfg config.BudgetConfig, store *storage.Store, ev *events.Store, router *mailbox.Router, ns mtypes.Namespace) *Optimizer {
	interval := cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Optimizer{
		Budget:          NewBudget(cfg),
		Storage:         store,
		Events:          ev,
		Router:          router,
		Namespace:       ns,
		Logger:          log.Default(),
		MonitorInterval: interval,
	}
}

// Run implements supervisor.Actor: a periodic usage check plus a
// message-driven loop for load_context/load_skill requests.
func (o *Optimizer) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	ticker := time.NewTicker(o.MonitorInterval)
	defer ticker.Stop()

	alerted := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.checkUsage(&alerted)
		default:
		}

		if msg, ok := mb.TryReceive(); ok {
			o.handleMessage(ctx, msg)
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (o *Optimizer) checkUsage(alerted *bool) {
	if !o.Budget.OverThreshold() {
		*alerted = false
		return
	}
	if *alerted {
		return // already notified for this threshold crossing
	}
	*alerted = true

	o.checkpoint()
	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "optimizer", TargetOrchestrator, map[string]interface{}{
		"kind": "context_usage_high",
	}))
}

func (o *Optimizer) checkpoint() {
	skillsUnloaded, memoriesDropped := o.Budget.Compact()
	evt := &mtypes.AgentEvent{
		Kind:      mtypes.EventContextCheckpoint,
		Namespace: o.Namespace,
		CreatedAt: time.Now(),
		AgentID:   "optimizer",
		Fields: map[string]string{
			"reason":           "usage crossed checkpoint threshold",
			"usage_ratio":      strconv.FormatFloat(o.Budget.UsageRatio(), 'f', 4, 64),
			"skills_unloaded":  strconv.Itoa(skillsUnloaded),
			"memories_dropped": strconv.Itoa(memoriesDropped),
		},
	}
	if err := o.Events.Append(evt); err != nil {
		o.Logger.Printf("[OPTIMIZER] failed to persist checkpoint event: %v", err)
	}
}

func (o *Optimizer) handleMessage(ctx context.Context, msg *mailbox.Message) {
	kind, _ := msg.Payload["kind"].(string)
	switch kind {
	case "load_skill":
		name, _ := msg.Payload["name"].(string)
		o.Budget.LoadSkill(name)
	case "load_context":
		o.handleLoadContext(ctx, msg)
	default:
		o.Logger.Printf("[OPTIMIZER] unrecognized message kind %q", kind)
	}
}

// handleLoadContext answers a work item's context request with the
// highest-relevance memories under the caller's cap, via the same hybrid
// search storage.Store exposes for spec.md §4.1's search_memories.
func (o *Optimizer) handleLoadContext(ctx context.Context, msg *mailbox.Message) {
	query, _ := msg.Payload["query"].(string)
	limit, _ := msg.Payload["limit"].(int)
	if limit <= 0 {
		limit = 10
	}

	results, err := o.Storage.HybridSearch(query, &o.Namespace, limit, true)
	if err != nil {
		o.Logger.Printf("[OPTIMIZER] context load failed: %v", err)
		return
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Record.ID)
		o.Budget.LoadMemory(r.Record.ID)
	}

	o.Router.Dispatch(mailbox.NewMessage(mailbox.TypeWork, "optimizer", msg.Source, map[string]interface{}{
		"kind":       "context_loaded",
		"memory_ids": ids,
	}))
}
