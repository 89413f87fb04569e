// Command branch-heartbeat publishes a single branch-assignment heartbeat
// to the cross-process coordination subject (spec.md §4.8), for manual
// testing of a running mnemosyned's NATS wiring without spinning up a full
// agent. Grounded on the teacher's cmd/captain-register, adapted from a
// captain-status announcement to a branch-assignment heartbeat matching
// internal/branch.CrossProcessCoordinator's wire format.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// heartbeatWire mirrors internal/branch.heartbeatWire; duplicated here
// rather than imported since that type is unexported (this tool speaks the
// wire subject's JSON contract, not the package's Go API).
type heartbeatWire struct {
	ProcessID string    `json:"process_id"`
	AgentID   string    `json:"agent_id"`
	Branch    string    `json:"branch"`
	Sent      time.Time `json:"sent"`
}

const subjectHeartbeat = "mnemosyne.branches.heartbeat"

func main() {
	natsURL := flag.String("url", "nats://127.0.0.1:4222", "NATS server URL")
	processID := flag.String("process", "manual-probe", "process id to announce as")
	agentID := flag.String("agent", "", "agent id holding the branch")
	branch := flag.String("branch", "", "branch name")
	flag.Parse()

	if *agentID == "" || *branch == "" {
		log.Fatal("branch-heartbeat requires -agent and -branch")
	}

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	wire := heartbeatWire{ProcessID: *processID, AgentID: *agentID, Branch: *branch, Sent: time.Now()}
	data, err := json.Marshal(wire)
	if err != nil {
		log.Fatalf("failed to marshal heartbeat: %v", err)
	}

	if err := nc.Publish(subjectHeartbeat, data); err != nil {
		log.Fatalf("failed to publish: %v", err)
	}
	nc.Flush()
	fmt.Printf("heartbeat published for agent %s on branch %s\n", *agentID, *branch)
}
