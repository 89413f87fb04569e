package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Budget.TotalTokens != 200_000 {
		t.Fatalf("expected default budget, got %d", cfg.Memory.Budget.TotalTokens)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.yaml")
	yamlContent := `
memory:
  storage:
    path: custom.db
    pool_size: 5
  budget:
    total_tokens: 100000
    critical_fraction: 0.4
    skills_fraction: 0.3
    project_memory_fraction: 0.2
    general_fraction: 0.1
    max_loaded_skills: 7
    compaction_floor_skills: 3
queue:
  stall_timeout: 30s
executor:
  max_concurrency: 2
supervision:
  max_restarts: 5
  restart_window: 2m
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Storage.Path != "custom.db" {
		t.Fatalf("expected custom.db, got %s", cfg.Memory.Storage.Path)
	}
	if cfg.Executor.MaxConcurrency != 2 {
		t.Fatalf("expected max_concurrency 2, got %d", cfg.Executor.MaxConcurrency)
	}
	if cfg.Supervision.MaxRestarts != 5 {
		t.Fatalf("expected max_restarts 5, got %d", cfg.Supervision.MaxRestarts)
	}
}

func TestValidateRejectsBudgetFractionsNotSummingToOne(t *testing.T) {
	cfg := Default()
	cfg.Memory.Budget.GeneralFraction = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for budget fractions not summing to 1")
	}
}

func TestValidateRejectsZeroPoolSize(t *testing.T) {
	cfg := Default()
	cfg.Memory.Storage.PoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero pool size")
	}
}

// realGateNames mirrors internal/reviewer/gates.go's GateName constants.
// Duplicated here rather than imported to avoid a config<->reviewer import
// cycle (internal/reviewer already imports internal/config to consult
// ReviewConfig.Gates).
var realGateNames = map[string]bool{
	"intent_satisfied":          true,
	"tests_passing":             true,
	"documentation_complete":    true,
	"no_anti_patterns":          true,
	"constraints_maintained":    true,
	"completeness":              true,
	"correctness":               true,
	"principled_implementation": true,
}

func TestDefaultGatesMatchReviewerGateNames(t *testing.T) {
	gates := Default().Memory.Review.Gates
	if len(gates) != len(realGateNames) {
		t.Fatalf("expected %d default gates, got %d", len(realGateNames), len(gates))
	}
	for _, g := range gates {
		if !realGateNames[g.Name] {
			t.Fatalf("default gate %q does not match any real reviewer gate name", g.Name)
		}
		if !g.Enabled {
			t.Fatalf("expected default gate %q to be enabled", g.Name)
		}
	}
}
