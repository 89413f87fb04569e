package branch

import "testing"

func TestFileTrackerReportsConflictOnSecondModifier(t *testing.T) {
	ft := NewFileTracker()

	if c := ft.Record("agent-x", "src/a.go", ModificationEdit); c != nil {
		t.Fatalf("expected no conflict for first modifier, got %+v", c)
	}

	c := ft.Record("agent-y", "src/a.go", ModificationEdit)
	if c == nil {
		t.Fatal("expected a conflict when a second agent modifies the same path")
	}
	if len(c.Agents) != 2 {
		t.Fatalf("expected 2 agents in conflict, got %v", c.Agents)
	}
}

func TestClearingAgentFilesResolvesItsConflicts(t *testing.T) {
	ft := NewFileTracker()
	ft.Record("agent-x", "src/a.go", ModificationEdit)
	ft.Record("agent-y", "src/a.go", ModificationEdit)

	if len(ft.ActiveConflicts()) != 1 {
		t.Fatalf("expected 1 active conflict, got %d", len(ft.ActiveConflicts()))
	}

	ft.ClearAgent("agent-y")

	if len(ft.ActiveConflicts()) != 0 {
		t.Fatalf("expected conflict resolved after clearing agent-y, got %v", ft.ActiveConflicts())
	}
}

func TestDisjointPathsNeverConflict(t *testing.T) {
	ft := NewFileTracker()
	if c := ft.Record("agent-x", "src/a.go", ModificationCreate); c != nil {
		t.Fatalf("unexpected conflict: %+v", c)
	}
	if c := ft.Record("agent-y", "src/b.go", ModificationCreate); c != nil {
		t.Fatalf("unexpected conflict: %+v", c)
	}
}
