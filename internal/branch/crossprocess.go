package branch

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/nats"
)

// Cross-process coordination subjects. SPEC_FULL.md realizes spec.md §4.8's
// ".mnemosyne/ message file" as a NATS subject hierarchy instead of a
// literal flat file, built on internal/nats.Client's PublishJSON/Subscribe
// pair (plain core NATS publish/subscribe, nothing persisted); the heartbeat
// loop is this file's own.
const (
	subjectJoinRequest = "mnemosyne.branches.join"
	subjectHeartbeat   = "mnemosyne.branches.heartbeat"
	subjectRelease     = "mnemosyne.branches.release"
)

// DefaultHeartbeatInterval and DefaultGraceMultiplier match spec.md §4.8's
// stated default: heartbeats expire after 3x the heartbeat interval.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultGraceMultiplier   = 3
)

// heartbeatWire is the payload published on subjectHeartbeat.
type heartbeatWire struct {
	ProcessID string    `json:"process_id"`
	AgentID   string    `json:"agent_id"`
	Branch    string    `json:"branch"`
	Sent      time.Time `json:"sent"`
}

// CrossProcessCoordinator mirrors a Registry's assignments across peer
// processes over NATS: every local AssignAgent is announced, every peer's
// heartbeat is tracked, and peers that miss their grace window are garbage
// collected from the local Registry.
type CrossProcessCoordinator struct {
	mu             sync.Mutex
	client         *nats.Client
	registry       *Registry
	processID      string
	heartbeatEvery time.Duration
	grace          time.Duration

	lastSeen map[string]time.Time // remote agentID -> last heartbeat time
	stop     chan struct{}
}

// NewCrossProcessCoordinator wires reg to client, publishing this process's
// assignments and tracking peers' heartbeats. heartbeatEvery <= 0 falls back
// to DefaultHeartbeatInterval; the grace window is 3x that.
func NewCrossProcessCoordinator(client *nats.Client, reg *Registry, processID string, heartbeatEvery time.Duration) *CrossProcessCoordinator {
	if heartbeatEvery <= 0 {
		heartbeatEvery = DefaultHeartbeatInterval
	}
	return &CrossProcessCoordinator{
		client:         client,
		registry:       reg,
		processID:      processID,
		heartbeatEvery: heartbeatEvery,
		grace:          time.Duration(DefaultGraceMultiplier) * heartbeatEvery,
		lastSeen:       make(map[string]time.Time),
		stop:           make(chan struct{}),
	}
}

// Start subscribes to peer heartbeats/releases and begins publishing this
// process's own heartbeats until Stop is called.
func (c *CrossProcessCoordinator) Start() error {
	if _, err := c.client.Subscribe(subjectHeartbeat, c.onHeartbeat); err != nil {
		return err
	}
	if _, err := c.client.Subscribe(subjectRelease, c.onRelease); err != nil {
		return err
	}

	go c.heartbeatLoop()
	go c.staleSweepLoop()
	return nil
}

// Stop halts the background loops. It does not unsubscribe the underlying
// NATS client, which callers own.
func (c *CrossProcessCoordinator) Stop() {
	close(c.stop)
}

// AnnounceAssignment publishes a heartbeat for agentID's current assignment
// to branch, to be called right after a local Registry.AssignAgent.
func (c *CrossProcessCoordinator) AnnounceAssignment(agentID, branch string) {
	wire := heartbeatWire{ProcessID: c.processID, AgentID: agentID, Branch: branch, Sent: time.Now()}
	if err := c.client.PublishJSON(subjectHeartbeat, wire); err != nil {
		log.Printf("[BRANCH] cross-process: failed to announce assignment for %s: %v", agentID, err)
	}
}

// AnnounceRelease publishes that agentID has released its assignment.
func (c *CrossProcessCoordinator) AnnounceRelease(agentID string) {
	wire := heartbeatWire{ProcessID: c.processID, AgentID: agentID, Sent: time.Now()}
	if err := c.client.PublishJSON(subjectRelease, wire); err != nil {
		log.Printf("[BRANCH] cross-process: failed to announce release for %s: %v", agentID, err)
	}
}

func (c *CrossProcessCoordinator) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			for _, agentID := range c.localAgentIDs() {
				if a, ok := c.registry.GetAgentAssignment(agentID); ok {
					c.AnnounceAssignment(a.AgentID, a.Branch)
				}
			}
		}
	}
}

func (c *CrossProcessCoordinator) localAgentIDs() []string {
	var ids []string
	for _, b := range c.registry.ActiveBranches() {
		ids = append(ids, c.registry.GetAssignments(b)...)
	}
	return ids
}

func (c *CrossProcessCoordinator) staleSweepLoop() {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepStale()
		}
	}
}

// sweepStale garbage-collects any peer-process agent whose last heartbeat
// is older than the grace window.
func (c *CrossProcessCoordinator) sweepStale() {
	c.mu.Lock()
	now := time.Now()
	var stale []string
	for agentID, seen := range c.lastSeen {
		if now.Sub(seen) > c.grace {
			stale = append(stale, agentID)
		}
	}
	for _, agentID := range stale {
		delete(c.lastSeen, agentID)
	}
	c.mu.Unlock()

	for _, agentID := range stale {
		log.Printf("[BRANCH] cross-process: agent %s missed heartbeat grace window, releasing", agentID)
		c.registry.ReleaseAssignment(agentID)
	}
}

func (c *CrossProcessCoordinator) onHeartbeat(msg *nats.Message) {
	var wire heartbeatWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		log.Printf("[BRANCH] cross-process: malformed heartbeat payload: %v", err)
		return
	}
	if wire.ProcessID == c.processID {
		return
	}

	c.mu.Lock()
	c.lastSeen[wire.AgentID] = wire.Sent
	c.mu.Unlock()

	c.registry.AssignAgent(wire.AgentID, wire.Branch, mtypes.ReadOnlyIntent(), mtypes.ModeCoordinated)
}

func (c *CrossProcessCoordinator) onRelease(msg *nats.Message) {
	var wire heartbeatWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		log.Printf("[BRANCH] cross-process: malformed release payload: %v", err)
		return
	}
	if wire.ProcessID == c.processID {
		return
	}

	c.mu.Lock()
	delete(c.lastSeen, wire.AgentID)
	c.mu.Unlock()

	c.registry.ReleaseAssignment(wire.AgentID)
}
