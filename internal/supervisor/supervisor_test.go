package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mailbox"
)

// fakeActor runs until ctx is cancelled (returns nil), or returns errOnRun
// immediately if set, recording how many times it was started.
type fakeActor struct {
	starts    int32
	errOnRun  error
	runUntilCancelled bool
}

func (f *fakeActor) Run(ctx context.Context, mb *mailbox.Mailbox) error {
	atomic.AddInt32(&f.starts, 1)
	if f.errOnRun != nil {
		return f.errOnRun
	}
	if f.runUntilCancelled {
		<-ctx.Done()
		return nil
	}
	return nil
}

func silentLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSpawnAndStopCleanExit(t *testing.T) {
	sup := New(nil, silentLogger())
	actor := &fakeActor{runUntilCancelled: true}
	if err := sup.Spawn("executor-1", actor); err != nil {
		t.Fatal(err)
	}

	info, ok := sup.Info("executor-1")
	if !ok || info.Status != StatusRunning {
		t.Fatalf("expected running status, got %+v", info)
	}

	if err := sup.Stop("executor-1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	info, _ = sup.Info("executor-1")
	if info.Status != StatusStopped {
		t.Fatalf("expected stopped status after Stop, got %s", info.Status)
	}
}

func TestCrashTriggersRestartUpToMaxThenDisables(t *testing.T) {
	sup := New(nil, silentLogger())
	actor := &fakeActor{errOnRun: errors.New("boom")}
	if err := sup.SpawnWithPolicy("reviewer", actor, 2, time.Minute); err != nil {
		t.Fatal(err)
	}

	// Each crash triggers a 2s sleep before restart in the real monitor loop;
	// wait long enough to observe the full sequence (3 runs: initial + 2 restarts).
	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		info, _ := sup.Info("reviewer")
		if info.Status == StatusDisabled {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	info, ok := sup.Info("reviewer")
	if !ok {
		t.Fatal("expected actor info")
	}
	if info.Status != StatusDisabled {
		t.Fatalf("expected disabled after exceeding max restarts, got %s (starts=%d)", info.Status, atomic.LoadInt32(&actor.starts))
	}
	if atomic.LoadInt32(&actor.starts) != 3 {
		t.Fatalf("expected 3 starts (1 initial + 2 restarts), got %d", actor.starts)
	}
}

func TestManualRestartResetsCrashCounter(t *testing.T) {
	sup := New(nil, silentLogger())
	actor := &fakeActor{runUntilCancelled: true}
	if err := sup.Spawn("optimizer", actor); err != nil {
		t.Fatal(err)
	}

	if err := sup.Restart("optimizer"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond)

	info, _ := sup.Info("optimizer")
	if info.RestartCount != 0 {
		t.Fatalf("expected restart count reset to 0, got %d", info.RestartCount)
	}
	if info.Status != StatusRunning {
		t.Fatalf("expected running after manual restart, got %s", info.Status)
	}
}

func TestSpawnSameNameWhileRunningFails(t *testing.T) {
	sup := New(nil, silentLogger())
	actor := &fakeActor{runUntilCancelled: true}
	if err := sup.Spawn("orchestrator", actor); err != nil {
		t.Fatal(err)
	}
	if err := sup.Spawn("orchestrator", &fakeActor{runUntilCancelled: true}); err == nil {
		t.Fatal("expected error spawning an already-running actor name")
	}
}

func TestSpawnRegistersMailboxWithRouter(t *testing.T) {
	reg := mailbox.NewStaticRegistry()
	router := mailbox.NewRouter(reg)
	sup := New(router, silentLogger())

	actor := &fakeActor{runUntilCancelled: true}
	if err := sup.Spawn("executor-2", actor); err != nil {
		t.Fatal(err)
	}

	if _, ok := reg.Lookup("executor-2"); !ok {
		t.Fatal("expected the actor's mailbox to be registered with the router")
	}
}

func TestAllInfoListsEveryActor(t *testing.T) {
	sup := New(nil, silentLogger())
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("agent-%d", i)
		if err := sup.Spawn(name, &fakeActor{runUntilCancelled: true}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sup.AllInfo()) != 3 {
		t.Fatalf("expected 3 actors, got %d", len(sup.AllInfo()))
	}
}
