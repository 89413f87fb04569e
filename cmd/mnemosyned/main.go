// Command mnemosyned is Mnemosyne's process entrypoint: it wires Storage ->
// Events -> Work Queue -> Agents -> Supervisor -> Branch Coordinator and the
// event-sink observability surface, then blocks until a shutdown signal.
// Grounded on cmd/cliaimonitor/main.go's flag parsing, graceful-shutdown
// signal handling, and "start the supervised subsystems, then block" shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/branch"
	"github.com/mnemosyne-ai/mnemosyne/internal/config"
	"github.com/mnemosyne-ai/mnemosyne/internal/enrich"
	"github.com/mnemosyne-ai/mnemosyne/internal/events"
	"github.com/mnemosyne-ai/mnemosyne/internal/eventsink"
	"github.com/mnemosyne-ai/mnemosyne/internal/executor"
	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/notifications"
	"github.com/mnemosyne-ai/mnemosyne/internal/optimizer"
	"github.com/mnemosyne-ai/mnemosyne/internal/orchestrator"
	"github.com/mnemosyne-ai/mnemosyne/internal/queue"
	"github.com/mnemosyne-ai/mnemosyne/internal/reviewer"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
	"github.com/mnemosyne-ai/mnemosyne/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "configs/memory.yaml", "memory/budget/queue configuration file")
	branchesPath := flag.String("branches-config", "configs/branches.yaml", "branch coordination configuration file")
	sinkAddr := flag.String("sink-addr", ":4219", "event sink HTTP/WebSocket listen address")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[MNEMOSYNED] failed to load %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[MNEMOSYNED] invalid configuration: %v", err)
	}

	store, err := storage.Open(cfg.Memory.Storage.Path)
	if err != nil {
		log.Fatalf("[MNEMOSYNED] failed to open storage at %s: %v", cfg.Memory.Storage.Path, err)
	}
	defer store.Close()

	ns := mtypes.Global()
	eventStore := events.NewStore(store)

	q := queue.New().WithStallTimeout(cfg.Queue.StallTimeout)

	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)

	sup := supervisor.New(router, log.Default())

	orc := orchestrator.New(q, eventStore, router, ns)
	orc.MaxReviewAttempts = cfg.Memory.Review.MaxReviewAttempts
	rev := reviewer.New(store, enrich.NoopEnricher{}, router)
	rev.ConfigureGates(cfg.Memory.Review.Gates)
	opt := optimizer.New(cfg.Memory.Budget, store, eventStore, router, ns)
	exe := executor.New(cfg.Executor.MaxConcurrency, nil, eventStore, router, ns)

	coordinator := setupBranchCoordination(*branchesPath)
	branchActor := branch.NewActor(coordinator, router)

	// Spawn leaves before the Orchestrator (spec.md §4.6): each agent's
	// mailbox must already be registered before the Orchestrator starts
	// dispatching to it. The branch Actor is a leaf too: the Executor
	// consults it (spec.md §4.8) before running any work item scoped to a
	// branch.
	mustSpawn(sup, "reviewer", rev, cfg.Supervision)
	mustSpawn(sup, "optimizer", opt, cfg.Supervision)
	mustSpawn(sup, branch.Target, branchActor, cfg.Supervision)
	mustSpawn(sup, "executor", exe, cfg.Supervision)
	mustSpawn(sup, "orchestrator", orc, cfg.Supervision)

	hub := eventsink.NewHub()
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)

	sinkServer := eventsink.NewServer(hub, func() int { return 4 })
	httpServer := &http.Server{Addr: *sinkAddr, Handler: sinkServer.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[MNEMOSYNED] event sink server error: %v", err)
		}
	}()
	fmt.Printf("mnemosyned: event sink listening on %s\n", *sinkAddr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	fmt.Println("mnemosyned: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	sup.Stop("orchestrator")
	sup.Stop("executor")
	sup.Stop(branch.Target)
	sup.Stop("optimizer")
	sup.Stop("reviewer")
}

func mustSpawn(sup *supervisor.Supervisor, name string, actor supervisor.Actor, sv config.SupervisionConfig) {
	if err := sup.SpawnWithPolicy(name, actor, sv.MaxRestarts, sv.RestartWindow); err != nil {
		log.Fatalf("[MNEMOSYNED] failed to spawn %s: %v", name, err)
	}
}

// setupBranchCoordination constructs the branch registry/guard/coordinator
// (spec.md §4.8). The caller wraps the returned Coordinator in a branch.Actor
// and spawns it at branch.Target, so the Executor's join checks and any
// other agent's branch requests reach this same registry/guard pair.
func setupBranchCoordination(branchesPath string) *branch.Coordinator {
	bcfg := config.Default().Branches
	if _, err := os.Stat(branchesPath); err == nil {
		if loaded, err := config.Load(branchesPath); err == nil {
			bcfg = loaded.Branches
		}
	}

	reg := branch.NewRegistry()
	guard := branch.NewGuard(reg, nil)
	notifier := notifications.NewManager(notifications.Config{
		AppID:          "mnemosyne",
		EnableToast:    true,
		EnableTerminal: true,
	})
	coordinator := branch.NewCoordinator(reg, guard, notifier)

	if bcfg.CrossProcess {
		log.Printf("[MNEMOSYNED] cross-process branch coordination requested via %s; wiring is left to the NATS bootstrap step", bcfg.NATSURL)
	}
	return coordinator
}
