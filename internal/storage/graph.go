package storage

import (
	"github.com/mnemosyne-ai/mnemosyne/internal/merrors"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// neighbors returns the ids connected to id by a memory_link edge in either
// direction, excluding archived targets — graph traversal treats links as
// undirected per spec.md §3, and an archived node is invisible to traversal
// per spec.md §9's resolution of the archival/traversal open question.
func (s *Store) neighbors(id string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT l.target_id FROM memory_links l
		JOIN memories m ON m.id = l.target_id
		WHERE l.source_id = ? AND m.archived = 0
		UNION
		SELECT l.source_id FROM memory_links l
		JOIN memories m ON m.id = l.source_id
		WHERE l.target_id = ? AND m.archived = 0
	`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// traversalHit is one node discovered by GraphTraverse, with the depth and
// importance used to order results.
type traversalHit struct {
	id         string
	depth      int
	importance int
}

// GraphTraverse performs a bidirectional breadth-first expansion over the
// link table from seedIDs, returning distinct, non-archived records ordered
// by discovery depth then importance, never repeating a memory and never
// exceeding maxHops (spec.md §8).
func (s *Store) GraphTraverse(seedIDs []string, maxHops int) ([]*mtypes.MemoryRecord, error) {
	visited := make(map[string]int) // id -> depth first seen
	order := make([]string, 0)

	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			order = append(order, id)
			frontier = append(frontier, id)
		}
	}

	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			ns, err := s.neighbors(id)
			if err != nil {
				return nil, merrors.NewStorageError("graph_traverse", err)
			}
			for _, n := range ns {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = depth
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	hits := make([]traversalHit, 0, len(order))
	recByID := make(map[string]*mtypes.MemoryRecord, len(order))
	for _, id := range order {
		rec, err := s.GetMemory(id)
		if err != nil {
			continue // skip ids that vanished (archived after discovery, etc.)
		}
		recByID[id] = rec
		hits = append(hits, traversalHit{id: id, depth: visited[id], importance: rec.Importance})
	}

	sortTraversalHits(hits)

	out := make([]*mtypes.MemoryRecord, 0, len(hits))
	for _, h := range hits {
		out = append(out, recByID[h.id])
	}
	return out, nil
}

func sortTraversalHits(hits []traversalHit) {
	// Insertion sort is fine here: traversal result sets are small (bounded
	// by fan-out at depth ≤ 2 in practice) and this keeps the ordering
	// stable without pulling in sort.Slice's reflection overhead for a
	// two-key comparator used once per call.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1]) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

func less(a, b traversalHit) bool {
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	return a.importance > b.importance
}
