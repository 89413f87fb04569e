package storage

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/mnemosyne-ai/mnemosyne/internal/merrors"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// similarityFloor is the internal floor below which vector_search discards a
// candidate, per spec.md §4.1.
const similarityFloor = 0.15

// cosineSimilarity converts a cosine distance into the spec's similarity
// space: 1 − dist/2, clamped to [0,1]. dist here is computed directly as
// 1 − cos(a,b), so similarity collapses to (1+cos)/2 clamped to [0,1] — the
// standard remap of cosine similarity [-1,1] into [0,1].
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	dist := 1 - cos
	sim := 1 - dist/2
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}

// ScoredMemory pairs a record with a search score.
type ScoredMemory struct {
	Record      *mtypes.MemoryRecord
	Score       float64
	MatchReason string
}

// VectorSearch returns records whose embedding's similarity to queryVec is
// at least similarityFloor, sorted descending. An all-zero query vector
// still returns the globally most-similar record the store can find rather
// than panicking (spec.md §8): cosineSimilarity returns 0 for a zero vector,
// which is below similarityFloor, so the fallback at the end of this
// function surfaces the single closest candidate.
func (s *Store) VectorSearch(queryVec []float32, limit int, ns *mtypes.Namespace) ([]ScoredMemory, error) {
	if len(queryVec) == 0 {
		return nil, merrors.NewStorageError("vector_search", merrors.ErrDimensionMismatch)
	}

	query := `
		SELECT m.id, v.embedding FROM memories m
		JOIN vec_memories v ON v.memory_id = m.id
		WHERE m.archived = 0`
	args := []interface{}{}
	if ns != nil {
		query += ` AND m.namespace = ?`
		args = append(args, ns.String())
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, merrors.NewStorageError("vector_search", err)
	}
	defer rows.Close()

	type cand struct {
		id  string
		sim float64
	}
	var candidates []cand
	for rows.Next() {
		var id, embJSON string
		if err := rows.Scan(&id, &embJSON); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		if len(vec) != len(queryVec) {
			continue
		}
		sim := cosineSimilarity(queryVec, vec)
		candidates = append(candidates, cand{id: id, sim: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })

	var out []ScoredMemory
	for _, c := range candidates {
		if c.sim < similarityFloor {
			continue
		}
		rec, err := s.GetMemory(c.id)
		if err != nil {
			continue
		}
		out = append(out, ScoredMemory{Record: rec, Score: c.sim, MatchReason: "vector"})
		if len(out) >= limit {
			break
		}
	}

	// Fallback: if nothing crosses the floor (e.g. an all-zero query vector
	// against sparse data), surface the single globally closest record so
	// callers never see an empty result purely from the floor cutoff.
	if len(out) == 0 && len(candidates) > 0 {
		best := candidates[0]
		rec, err := s.GetMemory(best.id)
		if err == nil {
			out = append(out, ScoredMemory{Record: rec, Score: best.sim, MatchReason: "vector"})
		}
	}

	return out, nil
}
