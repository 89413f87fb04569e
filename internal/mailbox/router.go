package mailbox

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Registry resolves a target agent id to its Mailbox. Supervisor and
// orchestrator own the authoritative set of live mailboxes; Router only
// reads it.
type Registry interface {
	Lookup(agentID string) (*Mailbox, bool)
}

// StaticRegistry is a Registry backed by a plain map, guarded for concurrent
// registration (agents come and go as the supervisor restarts them).
type StaticRegistry struct {
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{mailboxes: make(map[string]*Mailbox)}
}

// Register associates agentID with its mailbox, replacing any prior one —
// exactly what happens when the supervisor restarts an agent with a fresh
// mailbox (spec.md §4.6).
func (r *StaticRegistry) Register(agentID string, mb *Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes[agentID] = mb
}

// Unregister removes agentID, e.g. on permanent supervision failure.
func (r *StaticRegistry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mailboxes, agentID)
}

// Lookup implements Registry.
func (r *StaticRegistry) Lookup(agentID string) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.mailboxes[agentID]
	return mb, ok
}

const broadcastTarget = "all"

// Backpressure configuration: a Send into a full-ish mailbox is retried a
// bounded number of times before the message is dropped and logged, rather
// than blocking the sender indefinitely.
const (
	maxBackpressureRetries = 3
	backpressureRetryDelay = 10 * time.Millisecond
)

// Router dispatches Messages to agent mailboxes by target id, with a
// reserved "all" target for broadcast (supervision signals, deadlock
// notifications). It never persists messages itself — persistence of the
// events those messages describe is events.Store's job.
type Router struct {
	registry      Registry
	droppedCount  uint64
}

// NewRouter creates a Router backed by reg.
func NewRouter(reg Registry) *Router {
	return &Router{registry: reg}
}

// Registry returns the Router's backing Registry, so callers (e.g. the
// supervisor, when spawning a new actor) can register its mailbox.
func (r *Router) Registry() Registry {
	return r.registry
}

// Dispatch routes msg to its target mailbox, or to every registered mailbox
// if msg.Target is "all". Send is non-blocking per-mailbox with bounded
// retries; a persistently full mailbox results in a dropped, logged message
// rather than head-of-line blocking every other agent.
func (r *Router) Dispatch(msg *Message) {
	if msg.Target == broadcastTarget {
		static, ok := r.registry.(*StaticRegistry)
		if !ok {
			return
		}
		static.mu.RLock()
		targets := make([]*Mailbox, 0, len(static.mailboxes))
		for _, mb := range static.mailboxes {
			targets = append(targets, mb)
		}
		static.mu.RUnlock()
		for _, mb := range targets {
			r.sendWithBackpressure(mb, msg)
		}
		return
	}

	mb, ok := r.registry.Lookup(msg.Target)
	if !ok {
		log.Printf("[MAILBOX] WARNING: no mailbox registered for target=%s type=%s id=%s", msg.Target, msg.Type, msg.ID)
		return
	}
	r.sendWithBackpressure(mb, msg)
}

// sendWithBackpressure is a direct Send with bounded retry, since Mailbox.Send
// never itself blocks (the underlying queue grows unbounded); the retry loop
// here models the teacher's channel-backpressure pattern at the Router layer
// by re-checking mailbox size rather than reattempting a blocking send.
func (r *Router) sendWithBackpressure(mb *Mailbox, msg *Message) {
	const maxQueueDepth = 10_000
	if mb.Len() < maxQueueDepth {
		mb.Send(msg)
		return
	}

	for retry := 1; retry <= maxBackpressureRetries; retry++ {
		time.Sleep(backpressureRetryDelay)
		if mb.Len() < maxQueueDepth {
			mb.Send(msg)
			return
		}
	}

	dropped := atomic.AddUint64(&r.droppedCount, 1)
	log.Printf("[MAILBOX] WARNING: dropped message after %d retries (mailbox saturated): type=%s target=%s id=%s (total dropped: %d)",
		maxBackpressureRetries, msg.Type, msg.Target, msg.ID, dropped)
}

// DroppedCount returns the total number of messages dropped to backpressure.
func (r *Router) DroppedCount() uint64 {
	return atomic.LoadUint64(&r.droppedCount)
}
