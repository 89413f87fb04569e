package mtypes

import "time"

// AgentEventKind is the tagged-variant discriminator (spec.md §3).
type AgentEventKind string

const (
	EventWorkItemAssigned  AgentEventKind = "work_item_assigned"
	EventWorkItemStarted   AgentEventKind = "work_item_started"
	EventWorkItemCompleted AgentEventKind = "work_item_completed"
	EventWorkItemFailed    AgentEventKind = "work_item_failed"
	EventPhaseTransition   AgentEventKind = "phase_transition"
	EventContextCheckpoint AgentEventKind = "context_checkpoint"
	EventDeadlockDetected  AgentEventKind = "deadlock_detected"
	EventDeadlockResolved  AgentEventKind = "deadlock_resolved"
	EventAgentStateChanged AgentEventKind = "agent_state_changed"
	EventSubAgentSpawned   AgentEventKind = "sub_agent_spawned"
	EventMessageSent       AgentEventKind = "message_sent"
	EventReviewFailed      AgentEventKind = "review_failed"
	EventNetworkStateUpdate AgentEventKind = "network_state_update"
)

// eventImportance is the fixed importance-by-kind table from spec.md §4.7.
var eventImportance = map[AgentEventKind]int{
	EventPhaseTransition:    9,
	EventDeadlockDetected:   8,
	EventContextCheckpoint:  8,
	EventWorkItemCompleted:  7,
	EventWorkItemFailed:     7,
	EventWorkItemAssigned:   6,
	EventDeadlockResolved:   6,
	EventAgentStateChanged:  5,
	EventSubAgentSpawned:    5,
	EventWorkItemStarted:    4,
	EventMessageSent:        3,
	EventReviewFailed:       7,
	EventNetworkStateUpdate: 5,
}

// Importance returns the fixed importance for an event kind.
func (k AgentEventKind) Importance() int {
	if v, ok := eventImportance[k]; ok {
		return v
	}
	return 5
}

// AgentEvent is an immutable durable record of an agent action. It is stored
// as a MemoryRecord of kind AgentEvent; Fields carries the kind-specific
// payload as a flat string map so one struct covers every variant without a
// Go sum type (the language has none).
type AgentEvent struct {
	ID        string         `json:"id"`
	Kind      AgentEventKind `json:"kind"`
	Namespace Namespace      `json:"namespace"`
	CreatedAt time.Time      `json:"created_at"`

	WorkItemID string `json:"work_item_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`

	Fields map[string]string `json:"fields,omitempty"`
}

// Summary derives the stable summary string spec.md §4.7 requires for every
// event kind.
func (e *AgentEvent) Summary() string {
	switch e.Kind {
	case EventWorkItemAssigned:
		return "work item " + e.WorkItemID + " assigned to " + e.AgentID
	case EventWorkItemStarted:
		return "work item " + e.WorkItemID + " started by " + e.AgentID
	case EventWorkItemCompleted:
		return "work item " + e.WorkItemID + " completed by " + e.AgentID
	case EventWorkItemFailed:
		return "work item " + e.WorkItemID + " failed: " + e.Fields["error"]
	case EventPhaseTransition:
		return "phase transition " + e.Fields["from"] + " -> " + e.Fields["to"]
	case EventContextCheckpoint:
		return "context checkpoint: " + e.Fields["reason"]
	case EventDeadlockDetected:
		return "deadlock detected among [" + e.Fields["blocked_ids"] + "]"
	case EventDeadlockResolved:
		return "deadlock resolved for [" + e.Fields["blocked_ids"] + "]"
	case EventAgentStateChanged:
		return "agent " + e.AgentID + " state -> " + e.Fields["state"]
	case EventSubAgentSpawned:
		return "agent " + e.ParentID + " spawned sub-agent " + e.AgentID
	case EventMessageSent:
		return "message " + e.Fields["message_type"] + " sent " + e.Fields["from"] + " -> " + e.Fields["to"]
	case EventReviewFailed:
		return "review failed for work item " + e.WorkItemID + " (attempt " + e.Fields["attempt"] + ")"
	case EventNetworkStateUpdate:
		return "network state update from " + e.AgentID
	default:
		return string(e.Kind)
	}
}

// EventTags returns the fixed tag set spec.md §4.7 assigns every event.
func EventTags() []string { return []string{"orchestration", "event_sourcing"} }

// EventKeyword is the fixed keyword spec.md §4.7 assigns every event.
const EventKeyword = "agent_event"
