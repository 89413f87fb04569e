package branch

import (
	"sync"
	"time"
)

// ModificationKind classifies how an agent touched a file.
type ModificationKind string

const (
	ModificationCreate ModificationKind = "create"
	ModificationEdit   ModificationKind = "edit"
	ModificationDelete ModificationKind = "delete"
)

// FileTouch is one {agent, path, kind, timestamp} record.
type FileTouch struct {
	AgentID      string
	Path         string
	Kind         ModificationKind
	Timestamp    time.Time
}

// ActiveConflict reports that two agents have both modified the same path.
type ActiveConflict struct {
	Path   string
	Agents []string
}

// FileTracker records per-file modification ownership across agents and
// surfaces conflicts when two agents touch the same path (spec.md §4.8).
// Grounded on the Registry's RWMutex-guarded map-of-maps shape.
type FileTracker struct {
	mu      sync.RWMutex
	byPath  map[string]map[string]FileTouch // path -> agentID -> latest touch
}

// NewFileTracker creates an empty FileTracker.
func NewFileTracker() *FileTracker {
	return &FileTracker{byPath: make(map[string]map[string]FileTouch)}
}

// Record notes that agentID modified path, returning the resulting
// ActiveConflict if path is now held by more than one agent, or nil if not.
func (f *FileTracker) Record(agentID, path string, kind ModificationKind) *ActiveConflict {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.byPath[path] == nil {
		f.byPath[path] = make(map[string]FileTouch)
	}
	f.byPath[path][agentID] = FileTouch{
		AgentID:   agentID,
		Path:      path,
		Kind:      kind,
		Timestamp: time.Now(),
	}

	holders := f.byPath[path]
	if len(holders) <= 1 {
		return nil
	}
	agents := make([]string, 0, len(holders))
	for id := range holders {
		agents = append(agents, id)
	}
	return &ActiveConflict{Path: path, Agents: agents}
}

// ClearAgent removes every touch recorded for agentID, resolving any
// conflicts it participated in.
func (f *FileTracker) ClearAgent(agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for path, holders := range f.byPath {
		delete(holders, agentID)
		if len(holders) == 0 {
			delete(f.byPath, path)
		}
	}
}

// ActiveConflicts returns every path currently held by more than one agent.
func (f *FileTracker) ActiveConflicts() []ActiveConflict {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []ActiveConflict
	for path, holders := range f.byPath {
		if len(holders) <= 1 {
			continue
		}
		agents := make([]string, 0, len(holders))
		for id := range holders {
			agents = append(agents, id)
		}
		out = append(out, ActiveConflict{Path: path, Agents: agents})
	}
	return out
}
