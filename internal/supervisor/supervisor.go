// Package supervisor implements Mnemosyne's agent supervision (spec.md
// §4.6): spawn each agent actor as a goroutine, monitor it, and restart it
// on crash under a bounded crash-loop-protection policy — the same shape as
// the teacher's CaptainSupervisor, generalized from one OS process to any
// number of named in-process actors.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
)

// Status mirrors the teacher's CaptainStatus enum, applied per-agent instead
// of to a single external process.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusCrashed    Status = "crashed"
	StatusRestarting Status = "restarting"
	StatusStopped    Status = "stopped"
	StatusDisabled   Status = "disabled" // crash loop protection triggered
)

// DefaultMaxRestarts and DefaultRestartWindow match spec.md §4.6's default
// restart policy.
const (
	DefaultMaxRestarts   = 3
	DefaultRestartWindow = time.Minute
)

// Actor is anything the supervisor can run and restart: Run blocks until ctx
// is cancelled, the actor finishes its work, or it fails. mb is the actor's
// own mailbox, created once at Spawn and preserved across restarts so queued
// messages survive a crash.
type Actor interface {
	Run(ctx context.Context, mb *mailbox.Mailbox) error
}

// Info is a point-in-time snapshot of one supervised actor, suitable for
// exposing over an observability endpoint.
type Info struct {
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	RestartCount  int        `json:"restart_count"`
	MaxRestarts   int        `json:"max_restarts"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	LastExitTime  *time.Time `json:"last_exit_time,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CanRestart    bool       `json:"can_restart"`
}

type supervisedActor struct {
	mu sync.RWMutex

	name   string
	actor  Actor
	mb     *mailbox.Mailbox
	cancel context.CancelFunc

	restartCount  int
	restartWindow time.Time
	maxRestarts   int
	windowSpan    time.Duration

	status       Status
	lastError    error
	startTime    time.Time
	lastExitTime time.Time
}

// Supervisor owns every agent actor in the process, keyed by name
// ("orchestrator", "reviewer", "optimizer", "executor", or a dynamically
// spawned sub-agent id).
type Supervisor struct {
	mu      sync.RWMutex
	actors  map[string]*supervisedActor
	router  *mailbox.Router
	logger  *log.Logger

	// shutdown is closed once, the first time any actor requests a full
	// system shutdown (mirrors the teacher's onShutdownRequest/shutdownChan).
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a Supervisor. router dispatches inter-agent messages into the
// mailboxes this supervisor owns; logger may be nil (defaults to log.Default()).
func New(router *mailbox.Router, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		actors:   make(map[string]*supervisedActor),
		router:   router,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Spawn registers and starts an actor under name with the default restart
// policy. Spawning a name that's already running returns an error.
func (s *Supervisor) Spawn(name string, actor Actor) error {
	return s.SpawnWithPolicy(name, actor, DefaultMaxRestarts, DefaultRestartWindow)
}

// SpawnWithPolicy is Spawn with an explicit restart policy.
func (s *Supervisor) SpawnWithPolicy(name string, actor Actor, maxRestarts int, restartWindow time.Duration) error {
	s.mu.Lock()
	mb := mailbox.New()
	if existing, ok := s.actors[name]; ok {
		existing.mu.RLock()
		running := existing.status == StatusRunning || existing.status == StatusStarting
		existing.mu.RUnlock()
		if running {
			s.mu.Unlock()
			return fmt.Errorf("actor %s already running", name)
		}
		mb = existing.mb // respawn keeps the mailbox and its queued messages
	}

	sa := &supervisedActor{
		name:        name,
		actor:       actor,
		mb:          mb,
		maxRestarts: maxRestarts,
		windowSpan:  restartWindow,
		status:      StatusStarting,
	}
	s.actors[name] = sa
	s.mu.Unlock()

	if s.router != nil {
		if reg, ok := s.router.Registry().(*mailbox.StaticRegistry); ok {
			reg.Register(name, sa.mb)
		}
	}

	s.run(sa)
	return nil
}

// run launches sa's actor in a goroutine and installs the monitor that
// restarts it on failure, mirroring the teacher's spawnCaptain/monitorCaptain
// pair.
func (s *Supervisor) run(sa *supervisedActor) {
	ctx, cancel := context.WithCancel(context.Background())

	sa.mu.Lock()
	sa.cancel = cancel
	sa.status = StatusRunning
	sa.startTime = time.Now()
	sa.mu.Unlock()

	go func() {
		err := sa.actor.Run(ctx, sa.mb)
		s.handleExit(sa, err)
	}()
}

// handleExit applies crash-loop-protection exactly like the teacher's
// monitorCaptain: a clean (nil-error) exit stops the actor; an error exit
// restarts it unless the crash-loop window has been exceeded, in which case
// the actor is permanently disabled.
func (s *Supervisor) handleExit(sa *supervisedActor, err error) {
	sa.mu.Lock()
	sa.lastExitTime = time.Now()
	sa.lastError = err

	if err == nil {
		sa.status = StatusStopped
		sa.mu.Unlock()
		s.logger.Printf("[SUPERVISOR] actor %s exited cleanly", sa.name)
		return
	}

	sa.status = StatusCrashed
	now := time.Now()
	if sa.restartWindow.IsZero() || now.Sub(sa.restartWindow) > sa.windowSpan {
		sa.restartWindow = now
		sa.restartCount = 1
	} else {
		sa.restartCount++
	}

	if sa.restartCount > sa.maxRestarts {
		sa.status = StatusDisabled
		sa.mu.Unlock()
		s.logger.Printf("[SUPERVISOR] actor %s crash loop detected (%d crashes in %v): auto-restart disabled: %v",
			sa.name, sa.restartCount, sa.windowSpan, err)
		s.shutdownOnce.Do(func() {}) // no-op: disabling one actor is not a full shutdown
		return
	}

	sa.status = StatusRestarting
	sa.mu.Unlock()

	s.logger.Printf("[SUPERVISOR] actor %s crashed (attempt %d/%d): %v", sa.name, sa.restartCount, sa.maxRestarts, err)
	time.Sleep(2 * time.Second)
	s.run(sa)
}

// Stop cancels name's context, asking its actor to shut down; it does not
// remove the actor's mailbox, so queued messages are preserved if it's later
// respawned via Spawn.
func (s *Supervisor) Stop(name string) error {
	s.mu.RLock()
	sa, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("actor %s not found", name)
	}

	sa.mu.Lock()
	cancel := sa.cancel
	sa.status = StatusStopped
	sa.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Restart manually restarts name, resetting its crash-loop counter — the
// same semantics as the teacher's CaptainSupervisor.Restart.
func (s *Supervisor) Restart(name string) error {
	s.mu.RLock()
	sa, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("actor %s not found", name)
	}

	sa.mu.Lock()
	sa.restartCount = 0
	sa.restartWindow = time.Time{}
	cancel := sa.cancel
	sa.mu.Unlock()

	if cancel != nil {
		cancel()
		time.Sleep(500 * time.Millisecond)
	}

	s.run(sa)
	return nil
}

// Info returns a point-in-time snapshot for name.
func (s *Supervisor) Info(name string) (Info, bool) {
	s.mu.RLock()
	sa, ok := s.actors[name]
	s.mu.RUnlock()
	if !ok {
		return Info{}, false
	}

	sa.mu.RLock()
	defer sa.mu.RUnlock()
	info := Info{
		Name:         sa.name,
		Status:       sa.status,
		RestartCount: sa.restartCount,
		MaxRestarts:  sa.maxRestarts,
		CanRestart:   sa.status == StatusDisabled || sa.status == StatusCrashed || sa.status == StatusStopped,
	}
	if !sa.startTime.IsZero() {
		t := sa.startTime
		info.StartTime = &t
	}
	if !sa.lastExitTime.IsZero() {
		t := sa.lastExitTime
		info.LastExitTime = &t
	}
	if sa.lastError != nil {
		info.LastError = sa.lastError.Error()
	}
	return info, true
}

// AllInfo returns a snapshot of every supervised actor.
func (s *Supervisor) AllInfo() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.actors))
	for name := range s.actors {
		if info, ok := s.Info(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// ShutdownRequested returns a channel closed when the supervisor has
// determined the whole system should shut down (reserved for a future
// "too many actors disabled" escalation policy; currently never closed by
// handleExit itself, since one disabled actor does not imply the others
// should stop).
func (s *Supervisor) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}
