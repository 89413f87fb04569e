// Package events implements Mnemosyne's event persistence and replay
// (spec.md §4.7): every semantically meaningful agent action becomes an
// AgentEvent, stored as a MemoryRecord, and a namespace's history can be
// folded back into a ReplayedState by chronological replay.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
	"github.com/mnemosyne-ai/mnemosyne/internal/storage"
)

// memoryWriter is the subset of storage.Store that event persistence needs;
// narrowing to an interface keeps this package testable without a real
// SQLite file and matches the teacher's events.EventStore interface shape.
type memoryWriter interface {
	StoreMemory(rec *mtypes.MemoryRecord) error
	ListMemories(ns *mtypes.Namespace, limit int, sort storage.SortOrder) ([]*mtypes.MemoryRecord, error)
}

// Store persists AgentEvents as MemoryRecords of kind AgentEvent.
type Store struct {
	memories memoryWriter
}

// NewStore wraps a storage.Store (or any memoryWriter) for event persistence.
func NewStore(memories memoryWriter) *Store {
	return &Store{memories: memories}
}

const eventsFetchLimit = 10_000

// fieldsKey is the MemoryRecord.Context key under which an event's full
// kind-specific payload round-trips; storing it as embedded JSON inside
// Context (rather than a dedicated column) lets AgentEvent ride entirely on
// top of the existing memories table, per spec.md §4.7: "Events are stored
// as MemoryRecords of kind AgentEvent".
const fieldsKey = "__event_fields__"

// Append persists an event, deriving the MemoryRecord's summary, importance,
// tags and keyword exactly as spec.md §4.7 specifies.
func (s *Store) Append(e *mtypes.AgentEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}

	rec := &mtypes.MemoryRecord{
		ID:           e.ID,
		Namespace:    e.Namespace,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.CreatedAt,
		LastAccessed: e.CreatedAt,
		Content:      encodeEventContent(e),
		Summary:      e.Summary(),
		Keywords:     []string{mtypes.EventKeyword},
		Tags:         mtypes.EventTags(),
		Context:      fieldsKey + "=" + string(fieldsJSON),
		Kind:         mtypes.KindAgentEvent,
		Importance:   e.Kind.Importance(),
		Confidence:   1.0,
		RelatedFiles: nil,
	}
	return s.memories.StoreMemory(rec)
}

// encodeEventContent serializes the event's identifying fields into the
// record's searchable content column.
func encodeEventContent(e *mtypes.AgentEvent) string {
	b, _ := json.Marshal(struct {
		Kind       mtypes.AgentEventKind `json:"kind"`
		WorkItemID string                `json:"work_item_id,omitempty"`
		AgentID    string                `json:"agent_id,omitempty"`
		ParentID   string                `json:"parent_id,omitempty"`
	}{e.Kind, e.WorkItemID, e.AgentID, e.ParentID})
	return string(b)
}

// decodeEvent reconstructs an AgentEvent from its MemoryRecord encoding.
// Deserialization errors are reported to the caller, which (per spec.md §7)
// logs and skips the offending record during replay rather than aborting.
func decodeEvent(rec *mtypes.MemoryRecord) (*mtypes.AgentEvent, error) {
	var content struct {
		Kind       mtypes.AgentEventKind `json:"kind"`
		WorkItemID string                `json:"work_item_id,omitempty"`
		AgentID    string                `json:"agent_id,omitempty"`
		ParentID   string                `json:"parent_id,omitempty"`
	}
	if err := json.Unmarshal([]byte(rec.Content), &content); err != nil {
		return nil, fmt.Errorf("decode event content for %s: %w", rec.ID, err)
	}

	fields := map[string]string{}
	const prefix = fieldsKey + "="
	if len(rec.Context) >= len(prefix) && rec.Context[:len(prefix)] == prefix {
		if err := json.Unmarshal([]byte(rec.Context[len(prefix):]), &fields); err != nil {
			return nil, fmt.Errorf("decode event fields for %s: %w", rec.ID, err)
		}
	}

	return &mtypes.AgentEvent{
		ID:         rec.ID,
		Kind:       content.Kind,
		Namespace:  rec.Namespace,
		CreatedAt:  rec.CreatedAt,
		WorkItemID: content.WorkItemID,
		AgentID:    content.AgentID,
		ParentID:   content.ParentID,
		Fields:     fields,
	}, nil
}

// LoadByNamespace returns every AgentEvent in ns, sorted ascending by
// created_at — the chronological ordering spec.md §4.7's Replay requires.
// Records that fail to decode are skipped (spec.md §7) rather than aborting
// the whole load.
func (s *Store) LoadByNamespace(ns mtypes.Namespace) ([]*mtypes.AgentEvent, error) {
	records, err := s.memories.ListMemories(&ns, eventsFetchLimit, storage.SortRecent)
	if err != nil {
		return nil, err
	}

	var events []*mtypes.AgentEvent
	for _, rec := range records {
		if rec.Kind != mtypes.KindAgentEvent {
			continue
		}
		e, err := decodeEvent(rec)
		if err != nil {
			continue // skip: replay must make progress (spec.md §7)
		}
		events = append(events, e)
	}

	sortEventsChronological(events)
	return events, nil
}

// sortEventsChronological sorts ascending by CreatedAt, ties broken by
// arrival (original slice) order — spec.md §5: "no global total order is
// guaranteed across agents; replay sorts by created_at with ties broken by
// arrival order."
func sortEventsChronological(events []*mtypes.AgentEvent) {
	// Stable insertion sort preserves arrival order on ties without needing
	// a secondary sequence field threaded through every event.
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && events[j].CreatedAt.Before(events[j-1].CreatedAt) {
			events[j], events[j-1] = events[j-1], events[j]
			j--
		}
	}
}
