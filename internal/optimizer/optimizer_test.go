package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/config"
	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		TotalTokens:           10_000,
		CriticalFraction:      0.4,
		SkillsFraction:        0.3,
		ProjectMemoryFraction: 0.2,
		GeneralFraction:       0.1,
		MaxLoadedSkills:       7,
		MonitorInterval:       5 * time.Millisecond,
		CheckpointThreshold:   0.75,
		CompactionFloorSkills: 3,
	}
}

func TestLoadSkillRespectsMaxLoadedSkillsCap(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.MaxLoadedSkills = 2
	b := NewBudget(cfg)

	if !b.LoadSkill("a") || !b.LoadSkill("b") {
		t.Fatal("expected first two skills to load")
	}
	if b.LoadSkill("c") {
		t.Fatal("expected third skill to be refused at the cap")
	}
	if b.LoadSkill("a") != true {
		t.Fatal("re-loading an already-loaded skill should be a no-op success")
	}
}

func TestUsageCrossesThresholdAndCompactRestoresHeadroom(t *testing.T) {
	b := NewBudget(testBudgetConfig())
	b.SetCritical(1000)
	for i := 0; i < 7; i++ {
		b.LoadSkill(string(rune('a' + i)))
	}
	for i := 0; i < 5; i++ {
		b.LoadMemory(string(rune('0' + i)))
	}

	if !b.OverThreshold() {
		t.Fatalf("expected usage ratio %f to be over threshold", b.UsageRatio())
	}

	skillsUnloaded, memoriesDropped := b.Compact()
	if skillsUnloaded != 7-3 {
		t.Fatalf("expected 4 skills unloaded down to the floor, got %d", skillsUnloaded)
	}
	if memoriesDropped != 2 {
		t.Fatalf("expected 2 memories dropped (half of 5), got %d", memoriesDropped)
	}
	if len(b.loadedSkills) != 3 {
		t.Fatalf("expected 3 skills remaining at the floor, got %d", len(b.loadedSkills))
	}
}

func newTestOptimizer(t *testing.T) (*Optimizer, *mailbox.StaticRegistry) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	orchestratorMB := mailbox.New()
	reg.Register(TargetOrchestrator, orchestratorMB)

	o := New(testBudgetConfig(), store, events.NewStore(store), router, mtypes.Global())
	o.MonitorInterval = 5 * time.Millisecond
	return o, reg
}

func TestMonitorNotifiesOrchestratorOnceUsageCrossesThreshold(t *testing.T) {
	o, reg := newTestOptimizer(t)
	o.Budget.SetCritical(9000) // immediately over the 0.75 threshold of 10000

	ctx, cancel := context.WithCancel(context.Background())
	mb := mailbox.New()
	done := make(chan struct{})
	go func() {
		o.Run(ctx, mb)
		close(done)
	}()

	orchestratorMB, _ := reg.Lookup(TargetOrchestrator)
	receiveCtx, receiveCancel := context.WithTimeout(context.Background(), time.Second)
	defer receiveCancel()
	msg, ok := orchestratorMB.Receive(receiveCtx)
	cancel()
	<-done

	if !ok {
		t.Fatal("expected a context_usage_high notification")
	}
	if msg.Payload["kind"] != "context_usage_high" {
		t.Fatalf("expected context_usage_high, got %v", msg.Payload["kind"])
	}
}

func TestLoadContextRespondsWithMatchedMemoryIDs(t *testing.T) {
	o, _ := newTestOptimizer(t)
	rec := &mtypes.MemoryRecord{
		ID:         "m1",
		Namespace:  mtypes.Global(),
		Content:    "the widget loader implementation",
		Kind:       mtypes.KindInsight,
		Importance: 5,
		Confidence: 1,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := o.Storage.StoreMemory(rec); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	callerMB := mailbox.New()
	reg := mailbox.NewStaticRegistry()
	reg.Register("caller", callerMB)
	router := mailbox.NewRouter(reg)
	o.Router = router

	o.handleLoadContext(context.Background(), mailbox.NewMessage(mailbox.TypeWork, "caller", "optimizer", map[string]interface{}{
		"kind":  "load_context",
		"query": "widget",
		"limit": 5,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := callerMB.Receive(ctx)
	if !ok {
		t.Fatal("expected a context_loaded response")
	}
	if msg.Payload["kind"] != "context_loaded" {
		t.Fatalf("expected context_loaded, got %v", msg.Payload["kind"])
	}
}
