package storage

import (
	"math"
	"sort"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/merrors"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// KeywordSearch runs a tokenized full-text search against the content/summary
// columns via the memories_fts virtual table, scoped to ns if non-nil.
func (s *Store) KeywordSearch(queryText string, ns *mtypes.Namespace) ([]ScoredMemory, error) {
	query := `
		SELECT m.id, bm25(memories_fts) FROM memories_fts
		JOIN memories m ON m.id = memories_fts.id
		WHERE memories_fts MATCH ? AND m.archived = 0`
	args := []interface{}{ftsQuery(queryText)}
	if ns != nil {
		query += ` AND m.namespace = ?`
		args = append(args, ns.String())
	}
	query += ` ORDER BY bm25(memories_fts) ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, merrors.NewStorageError("keyword_search", err)
	}
	defer rows.Close()

	var out []ScoredMemory
	for rows.Next() {
		var id string
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, err
		}
		rec, err := s.GetMemory(id)
		if err != nil {
			continue
		}
		// bm25() returns a non-positive "lower is better" score; remap to a
		// non-negative, higher-is-better score in roughly [0,1].
		score := 1 / (1 + math.Abs(bm25))
		out = append(out, ScoredMemory{Record: rec, Score: score, MatchReason: "keyword"})
	}
	return out, rows.Err()
}

// ftsQuery escapes queryText for FTS5's MATCH syntax by quoting each token,
// so punctuation in free-form content never breaks the query grammar.
func ftsQuery(queryText string) string {
	fields := splitWords(queryText)
	if len(fields) == 0 {
		return `""`
	}
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " OR "
		}
		out += `"` + f + `"`
	}
	return out
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if isWordChar(r) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			words = append(words, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

const (
	hybridKeywordWeight    = 0.5
	hybridGraphWeight      = 0.2
	hybridImportanceWeight = 0.2
	hybridRecencyWeight    = 0.1
	recencyHalfLife        = 30 * 24 * time.Hour
	maxGraphSeeds          = 5
	graphExpandDepth       = 2
)

// HybridSearch seeds a candidate set from keyword search; if expandGraph, up
// to maxGraphSeeds top seeds feed a bidirectional graph walk of depth
// graphExpandDepth. Each candidate is scored
// 0.5·keyword + 0.2·graph_proximity + 0.2·importance/10 + 0.1·recency,
// recency decaying with a 30-day half-life, ties broken by created_at desc.
func (s *Store) HybridSearch(queryText string, ns *mtypes.Namespace, limit int, expandGraph bool) ([]ScoredMemory, error) {
	seeds, err := s.KeywordSearch(queryText, ns)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		rec          *mtypes.MemoryRecord
		keywordScore float64
		graphDepth   int // -1 = not reached by graph expansion
	}
	byID := make(map[string]*candidate)
	for _, sc := range seeds {
		byID[sc.Record.ID] = &candidate{rec: sc.Record, keywordScore: sc.Score, graphDepth: -1}
	}

	if expandGraph && len(seeds) > 0 {
		seedIDs := make([]string, 0, maxGraphSeeds)
		for i := 0; i < len(seeds) && i < maxGraphSeeds; i++ {
			seedIDs = append(seedIDs, seeds[i].Record.ID)
		}
		expanded, err := s.GraphTraverse(seedIDs, graphExpandDepth)
		if err != nil {
			return nil, err
		}
		// GraphTraverse doesn't expose per-node depth directly; re-derive it
		// by re-walking neighbors so hybrid scoring can weight proximity.
		depths := s.approximateDepths(seedIDs, graphExpandDepth)
		for _, rec := range expanded {
			if c, ok := byID[rec.ID]; ok {
				if d, ok := depths[rec.ID]; ok && (c.graphDepth < 0 || d < c.graphDepth) {
					c.graphDepth = d
				}
				continue
			}
			if ns != nil && !ns.Contains(rec.Namespace) {
				continue
			}
			d := depths[rec.ID]
			byID[rec.ID] = &candidate{rec: rec, keywordScore: 0, graphDepth: d}
		}
	}

	now := time.Now()
	var scored []ScoredMemory
	for _, c := range byID {
		graphProximity := 0.0
		if c.graphDepth == 0 {
			graphProximity = 1.0
		} else if c.graphDepth > 0 {
			graphProximity = 1.0 / float64(c.graphDepth+1)
		}
		age := now.Sub(c.rec.CreatedAt)
		recency := math.Pow(2, -float64(age)/float64(recencyHalfLife))

		score := hybridKeywordWeight*c.keywordScore +
			hybridGraphWeight*graphProximity +
			hybridImportanceWeight*(float64(c.rec.Importance)/10) +
			hybridRecencyWeight*recency

		reason := "keyword"
		if c.keywordScore > 0 && c.graphDepth >= 0 {
			reason = "keyword+graph"
		} else if c.graphDepth >= 0 {
			reason = "graph"
		}

		scored = append(scored, ScoredMemory{Record: c.rec, Score: score, MatchReason: reason})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.CreatedAt.After(scored[j].Record.CreatedAt)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// approximateDepths re-walks the link graph from seedIDs purely to recover
// per-node BFS depth for hybrid scoring (GraphTraverse itself only returns
// an ordered record slice, which is all §4.1 specifies as its contract).
func (s *Store) approximateDepths(seedIDs []string, maxHops int) map[string]int {
	depths := make(map[string]int)
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		depths[id] = 0
		frontier = append(frontier, id)
	}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			ns, err := s.neighbors(id)
			if err != nil {
				continue
			}
			for _, n := range ns {
				if _, seen := depths[n]; seen {
					continue
				}
				depths[n] = depth
				next = append(next, n)
			}
		}
		frontier = next
	}
	return depths
}
