// Package config loads Mnemosyne's YAML configuration files, mirroring the
// teacher's internal/types/config.go: plain structs with yaml tags, a
// Load(path) function that applies defaults, and a Validate() method.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig configures the storage backend (spec.md §4.1/§5).
type StorageConfig struct {
	Path                 string `yaml:"path"`
	PoolSize             int    `yaml:"pool_size"`
	DuplicatePrevention  bool   `yaml:"duplicate_prevention"`
}

// BudgetConfig configures the Optimizer's token budget (spec.md §4.4): a
// total token budget partitioned across four fixed categories.
type BudgetConfig struct {
	TotalTokens          int     `yaml:"total_tokens"`
	CriticalFraction     float64 `yaml:"critical_fraction"`
	SkillsFraction       float64 `yaml:"skills_fraction"`
	ProjectMemoryFraction float64 `yaml:"project_memory_fraction"`
	GeneralFraction      float64 `yaml:"general_fraction"`

	MaxLoadedSkills      int           `yaml:"max_loaded_skills"`
	MonitorInterval      time.Duration `yaml:"monitor_interval"`
	CheckpointThreshold  float64       `yaml:"checkpoint_threshold"`
	CompactionFloorSkills int          `yaml:"compaction_floor_skills"`
}

// GateConfig toggles one of the Reviewer's eight quality gates (spec.md
// §4.3) on or off; Name must match one of internal/reviewer's GateName
// constants (intent_satisfied, tests_passing, documentation_complete,
// no_anti_patterns, constraints_maintained, completeness, correctness,
// principled_implementation). Every gate is a pass/fail pattern-and-
// semantic check, not a continuous score, so there's no threshold to tune —
// Enabled is the only knob.
type GateConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// ReviewConfig configures the Reviewer agent.
type ReviewConfig struct {
	Gates             []GateConfig `yaml:"gates"`
	MaxReviewAttempts int          `yaml:"max_review_attempts"`
}

// MemoryConfig is the root of memory.yaml: storage, budget, and gate
// configuration in one file, per SPEC_FULL.md's ambient-stack section.
type MemoryConfig struct {
	Storage StorageConfig `yaml:"storage"`
	Budget  BudgetConfig  `yaml:"budget"`
	Review  ReviewConfig  `yaml:"review"`
}

// BranchesConfig is the root of branches.yaml: branch registry defaults and
// cross-process coordination mode (spec.md §4.8).
type BranchesConfig struct {
	StateDir          string        `yaml:"state_dir"`
	CrossProcess      bool          `yaml:"cross_process"`
	NATSURL           string        `yaml:"nats_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
}

// QueueConfig configures the work queue's deadlock detection (spec.md §4.2).
type QueueConfig struct {
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// ExecutorConfig configures the Executor agent (spec.md §4.5).
type ExecutorConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// SupervisionConfig configures restart policy (spec.md §4.6).
type SupervisionConfig struct {
	MaxRestarts   int           `yaml:"max_restarts"`
	RestartWindow time.Duration `yaml:"restart_window"`
}

// Config aggregates every Mnemosyne configuration file into one struct, the
// way the teacher's bootstrap package loads teams.yaml + projects.yaml
// together at startup.
type Config struct {
	Memory      MemoryConfig      `yaml:"memory"`
	Branches    BranchesConfig    `yaml:"branches"`
	Queue       QueueConfig       `yaml:"queue"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Supervision SupervisionConfig `yaml:"supervision"`
}

// Default returns a Config matching spec.md's stated defaults exactly:
// 200,000-token budget split 40/30/20/10, 60s stall timeout, pool size 20,
// 3 restarts per 1-minute window, executor concurrency 4.
func Default() Config {
	return Config{
		Memory: MemoryConfig{
			Storage: StorageConfig{
				Path:     "data/mnemosyne.db",
				PoolSize: 20,
			},
			Budget: BudgetConfig{
				TotalTokens:           200_000,
				CriticalFraction:      0.4,
				SkillsFraction:        0.3,
				ProjectMemoryFraction: 0.2,
				GeneralFraction:       0.1,
				MaxLoadedSkills:       7,
				MonitorInterval:       5 * time.Second,
				CheckpointThreshold:   0.75,
				CompactionFloorSkills: 3,
			},
			Review: ReviewConfig{
				MaxReviewAttempts: 3,
				Gates:             defaultGates(),
			},
		},
		Branches: BranchesConfig{
			StateDir:          ".mnemosyne/branches",
			CrossProcess:      false,
			HeartbeatInterval: 30 * time.Second,
			StaleThreshold:    2 * time.Minute,
		},
		Queue: QueueConfig{
			StallTimeout: 60 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxConcurrency: 4,
		},
		Supervision: SupervisionConfig{
			MaxRestarts:   3,
			RestartWindow: time.Minute,
		},
	}
}

// defaultGates returns the eight quality gates spec.md §4.3 names, matching
// internal/reviewer's GateName constants exactly, all enabled by default.
func defaultGates() []GateConfig {
	names := []string{
		"intent_satisfied",
		"tests_passing",
		"documentation_complete",
		"no_anti_patterns",
		"constraints_maintained",
		"completeness",
		"correctness",
		"principled_implementation",
	}
	gates := make([]GateConfig, len(names))
	for i, n := range names {
		gates[i] = GateConfig{Name: n, Enabled: true}
	}
	return gates
}

// Load reads and parses a YAML config file at path, filling in any field
// left zero with Default()'s value. A missing file is not an error: Load
// falls back to Default() entirely, the way the teacher's bootstrap treats
// an absent teams.yaml as "use built-in defaults".
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants spec.md states explicitly: budget fractions
// sum to 1, pool size and concurrency are positive, restart policy is
// sane.
func (c Config) Validate() error {
	sum := c.Memory.Budget.CriticalFraction + c.Memory.Budget.SkillsFraction +
		c.Memory.Budget.ProjectMemoryFraction + c.Memory.Budget.GeneralFraction
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("budget fractions must sum to 1.0, got %f", sum)
	}
	if c.Memory.Storage.PoolSize < 1 {
		return fmt.Errorf("storage pool_size must be at least 1")
	}
	if c.Memory.Budget.TotalTokens < 1 {
		return fmt.Errorf("budget total_tokens must be positive")
	}
	if c.Memory.Budget.MaxLoadedSkills < c.Memory.Budget.CompactionFloorSkills {
		return fmt.Errorf("max_loaded_skills must be >= compaction_floor_skills")
	}
	if c.Executor.MaxConcurrency < 1 {
		return fmt.Errorf("executor max_concurrency must be at least 1")
	}
	if c.Supervision.MaxRestarts < 0 {
		return fmt.Errorf("supervision max_restarts must be >= 0")
	}
	if c.Supervision.RestartWindow <= 0 {
		return fmt.Errorf("supervision restart_window must be positive")
	}
	if c.Queue.StallTimeout <= 0 {
		return fmt.Errorf("queue stall_timeout must be positive")
	}
	return nil
}
