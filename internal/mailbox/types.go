// Package mailbox implements the typed, priority-ordered message queue every
// Mnemosyne agent actor reads from (spec.md §4.6). Message delivery order is
// fixed by class, not arrival time: system signals before stop requests
// before supervision notifications before ordinary work messages.
package mailbox

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates a Message's payload shape and, combined with
// Priority, its delivery class.
type MessageType string

const (
	// TypeSystemSignal carries runtime-fatal signals (shutdown, supervisor
	// kill) that must preempt everything else in an agent's mailbox.
	TypeSystemSignal MessageType = "system_signal"
	// TypeStopRequest asks an agent to stop its current work item gracefully.
	TypeStopRequest MessageType = "stop_request"
	// TypeSupervision carries restart/health notifications from the
	// supervisor to the agent it owns.
	TypeSupervision MessageType = "supervision"
	// TypeWork carries ordinary work-item assignments and agent-to-agent
	// coordination traffic.
	TypeWork MessageType = "work"
)

// Priority fixes delivery order: lower values are delivered first. Values
// mirror spec.md §4.6's four-class ordering exactly.
type Priority int

const (
	PrioritySystemSignal Priority = 1
	PriorityStopRequest  Priority = 2
	PrioritySupervision  Priority = 3
	PriorityWork         Priority = 4
)

// priorityForType returns the fixed priority for a message type; a mailbox
// never lets a caller pick an arbitrary priority for a system-critical type.
func priorityForType(t MessageType) Priority {
	switch t {
	case TypeSystemSignal:
		return PrioritySystemSignal
	case TypeStopRequest:
		return PriorityStopRequest
	case TypeSupervision:
		return PrioritySupervision
	default:
		return PriorityWork
	}
}

// Message is one typed, prioritized unit of mailbox traffic.
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Priority  Priority               `json:"priority"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewMessage builds a Message with an auto-generated id, timestamp, and the
// priority fixed by its type.
func NewMessage(msgType MessageType, source, target string, payload map[string]interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Priority:  priorityForType(msgType),
		Source:    source,
		Target:    target,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllMessageTypes lists every mailbox message type, in priority order.
func AllMessageTypes() []MessageType {
	return []MessageType{TypeSystemSignal, TypeStopRequest, TypeSupervision, TypeWork}
}
