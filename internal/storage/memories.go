package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/merrors"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// memoryRow mirrors the memories table's columns for scanning.
type memoryRow struct {
	id              string
	namespace       string
	createdAt       time.Time
	updatedAt       time.Time
	lastAccessedAt  time.Time
	content         string
	summary         string
	keywords        string
	tags            string
	context         string
	memoryType      string
	importance      int
	confidence      float64
	relatedFiles    string
	relatedEntities string
	accessCount     int
	archived        int
	supersededBy    sql.NullString
	embeddingModel  string
}

func (r *memoryRow) toRecord() (*mtypes.MemoryRecord, error) {
	ns, err := mtypes.ParseNamespace(r.namespace)
	if err != nil {
		return nil, err
	}
	rec := &mtypes.MemoryRecord{
		ID:             r.id,
		Namespace:      ns,
		CreatedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
		LastAccessed:   r.lastAccessedAt,
		Content:        r.content,
		Summary:        r.summary,
		Context:        r.context,
		Kind:           mtypes.MemoryKind(r.memoryType),
		Importance:     r.importance,
		Confidence:     r.confidence,
		AccessCount:    r.accessCount,
		Archived:       r.archived != 0,
		EmbeddingModel: r.embeddingModel,
	}
	if r.supersededBy.Valid {
		rec.SupersededBy = r.supersededBy.String
	}
	if err := json.Unmarshal([]byte(r.keywords), &rec.Keywords); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.tags), &rec.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.relatedFiles), &rec.RelatedFiles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.relatedEntities), &rec.RelatedEntities); err != nil {
		return nil, err
	}
	return rec, nil
}

func marshalOrEmpty(v interface{}) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StoreMemory upserts a record on id (spec.md §4.1). When the store was
// opened WithDuplicatePrevention, storing an id that already exists fails
// with ErrAlreadyExists instead of overwriting.
func (s *Store) StoreMemory(rec *mtypes.MemoryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	for _, l := range rec.Links {
		if l.TargetID == "" {
			return fmt.Errorf("%w: link target id is empty", merrors.ErrInvalidID)
		}
	}
	if len(rec.Embedding) > 0 {
		var dim int
		err := s.db.QueryRow(`SELECT dim FROM vec_memories WHERE memory_id != ? LIMIT 1`, rec.ID).Scan(&dim)
		if err == nil && dim != len(rec.Embedding) {
			return fmt.Errorf("%w: embedding has %d dimensions, stored vectors have %d", merrors.ErrDimensionMismatch, len(rec.Embedding), dim)
		}
	}

	return s.withTx(func(tx *sql.Tx) error {
		if s.dupPrevention {
			var exists int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM memories WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
				return merrors.NewStorageError("store_memory/check", err)
			}
			if exists > 0 {
				return merrors.ErrAlreadyExists
			}
		}

		keywords, err := marshalOrEmpty(rec.Keywords)
		if err != nil {
			return err
		}
		tags, err := marshalOrEmpty(rec.Tags)
		if err != nil {
			return err
		}
		relatedFiles, err := marshalOrEmpty(rec.RelatedFiles)
		if err != nil {
			return err
		}
		relatedEntities, err := marshalOrEmpty(rec.RelatedEntities)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO memories (
				id, namespace, created_at, updated_at, last_accessed_at,
				content, summary, keywords, tags, context, memory_type,
				importance, confidence, related_files, related_entities,
				access_count, archived, superseded_by, embedding_model
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				namespace=excluded.namespace, updated_at=excluded.updated_at,
				last_accessed_at=excluded.last_accessed_at, content=excluded.content,
				summary=excluded.summary, keywords=excluded.keywords, tags=excluded.tags,
				context=excluded.context, memory_type=excluded.memory_type,
				importance=excluded.importance, confidence=excluded.confidence,
				related_files=excluded.related_files, related_entities=excluded.related_entities,
				access_count=excluded.access_count, archived=excluded.archived,
				superseded_by=excluded.superseded_by, embedding_model=excluded.embedding_model
		`,
			rec.ID, rec.Namespace.String(), rec.CreatedAt, rec.UpdatedAt, rec.LastAccessed,
			rec.Content, rec.Summary, keywords, tags, rec.Context, string(rec.Kind),
			rec.Importance, rec.Confidence, relatedFiles, relatedEntities,
			rec.AccessCount, boolToInt(rec.Archived), nullString(rec.SupersededBy), rec.EmbeddingModel,
		)
		if err != nil {
			return merrors.NewStorageError("store_memory/insert", err)
		}

		if _, err := tx.Exec(`DELETE FROM memory_links WHERE source_id = ?`, rec.ID); err != nil {
			return merrors.NewStorageError("store_memory/clear_links", err)
		}
		for _, l := range rec.Links {
			_, err := tx.Exec(`
				INSERT INTO memory_links (source_id, target_id, kind, strength, reason, created_at, last_traversed_at, user_created)
				VALUES (?,?,?,?,?,?,?,?)
				ON CONFLICT(source_id, target_id) DO UPDATE SET
					kind=excluded.kind, strength=excluded.strength, reason=excluded.reason,
					last_traversed_at=excluded.last_traversed_at, user_created=excluded.user_created
			`, rec.ID, l.TargetID, string(l.Kind), l.Strength, l.Reason, l.CreatedAt, nullTime(l.LastTraversedAt), l.UserCreated)
			if err != nil {
				return merrors.NewStorageError("store_memory/link", err)
			}
		}

		if len(rec.Embedding) > 0 {
			embJSON, err := json.Marshal(rec.Embedding)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`
				INSERT INTO vec_memories (memory_id, dim, embedding) VALUES (?,?,?)
				ON CONFLICT(memory_id) DO UPDATE SET dim=excluded.dim, embedding=excluded.embedding
			`, rec.ID, len(rec.Embedding), string(embJSON))
			if err != nil {
				return merrors.NewStorageError("store_memory/vector", err)
			}
		}

		return s.audit(tx, "store_memory", rec.ID, "{}")
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// GetMemory returns a record by id, or ErrNotFound.
func (s *Store) GetMemory(id string) (*mtypes.MemoryRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, namespace, created_at, updated_at, last_accessed_at, content, summary,
		       keywords, tags, context, memory_type, importance, confidence,
		       related_files, related_entities, access_count, archived, superseded_by, embedding_model
		FROM memories WHERE id = ?`, id)

	rec, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, merrors.ErrNotFound
	}
	if err != nil {
		return nil, merrors.NewStorageError("get_memory", err)
	}

	links, err := s.loadLinks(id)
	if err != nil {
		return nil, merrors.NewStorageError("get_memory/links", err)
	}
	rec.Links = links

	if emb, err := s.loadEmbedding(id); err == nil {
		rec.Embedding = emb
	}

	return rec, nil
}

func scanMemoryRow(row *sql.Row) (*mtypes.MemoryRecord, error) {
	var r memoryRow
	if err := row.Scan(
		&r.id, &r.namespace, &r.createdAt, &r.updatedAt, &r.lastAccessedAt, &r.content, &r.summary,
		&r.keywords, &r.tags, &r.context, &r.memoryType, &r.importance, &r.confidence,
		&r.relatedFiles, &r.relatedEntities, &r.accessCount, &r.archived, &r.supersededBy, &r.embeddingModel,
	); err != nil {
		return nil, err
	}
	return r.toRecord()
}

func (s *Store) loadLinks(sourceID string) ([]mtypes.MemoryLink, error) {
	rows, err := s.db.Query(`
		SELECT target_id, kind, strength, reason, created_at, last_traversed_at, user_created
		FROM memory_links WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []mtypes.MemoryLink
	for rows.Next() {
		var l mtypes.MemoryLink
		var lastTraversed sql.NullTime
		var userCreated int
		if err := rows.Scan(&l.TargetID, &l.Kind, &l.Strength, &l.Reason, &l.CreatedAt, &lastTraversed, &userCreated); err != nil {
			return nil, err
		}
		if lastTraversed.Valid {
			l.LastTraversedAt = lastTraversed.Time
		}
		l.UserCreated = userCreated != 0
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) loadEmbedding(id string) ([]float32, error) {
	var embJSON string
	err := s.db.QueryRow(`SELECT embedding FROM vec_memories WHERE memory_id = ?`, id).Scan(&embJSON)
	if err != nil {
		return nil, err
	}
	var emb []float32
	if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
		return nil, err
	}
	return emb, nil
}

// UpdateMemory overwrites all mutable fields and bumps updated_at.
func (s *Store) UpdateMemory(rec *mtypes.MemoryRecord) error {
	rec.Touch(time.Now())
	return s.StoreMemory(rec)
}

// ArchiveMemory sets the archived flag; idempotent, never deletes.
func (s *Store) ArchiveMemory(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE memories SET archived = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
		if err != nil {
			return merrors.NewStorageError("archive_memory", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return merrors.NewStorageError("archive_memory/rows", err)
		}
		if n == 0 {
			return merrors.ErrNotFound
		}
		return s.audit(tx, "archive_memory", id, "{}")
	})
}

// IncrementAccess atomically bumps the access counter and refreshes
// last_accessed_at.
func (s *Store) IncrementAccess(id string) error {
	res, err := s.db.Exec(`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return merrors.NewStorageError("increment_access", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return merrors.NewStorageError("increment_access/rows", err)
	}
	if n == 0 {
		return merrors.ErrNotFound
	}
	return nil
}

// SortOrder selects the ordering for ListMemories.
type SortOrder string

const (
	SortRecent      SortOrder = "recent"
	SortImportance  SortOrder = "importance"
	SortAccessCount SortOrder = "access_count"
)

// ListMemories excludes archived records; ns, if non-nil, scopes the list to
// one namespace.
func (s *Store) ListMemories(ns *mtypes.Namespace, limit int, sort SortOrder) ([]*mtypes.MemoryRecord, error) {
	var orderBy string
	switch sort {
	case SortImportance:
		orderBy = "importance DESC, created_at DESC"
	case SortAccessCount:
		orderBy = "access_count DESC, created_at DESC"
	default:
		orderBy = "created_at DESC"
	}

	query := `
		SELECT id, namespace, created_at, updated_at, last_accessed_at, content, summary,
		       keywords, tags, context, memory_type, importance, confidence,
		       related_files, related_entities, access_count, archived, superseded_by, embedding_model
		FROM memories WHERE archived = 0`
	args := []interface{}{}
	if ns != nil {
		query += ` AND namespace = ?`
		args = append(args, ns.String())
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT ?", orderBy)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, merrors.NewStorageError("list_memories", err)
	}
	defer rows.Close()

	var out []*mtypes.MemoryRecord
	for rows.Next() {
		var r memoryRow
		if err := rows.Scan(
			&r.id, &r.namespace, &r.createdAt, &r.updatedAt, &r.lastAccessedAt, &r.content, &r.summary,
			&r.keywords, &r.tags, &r.context, &r.memoryType, &r.importance, &r.confidence,
			&r.relatedFiles, &r.relatedEntities, &r.accessCount, &r.archived, &r.supersededBy, &r.embeddingModel,
		); err != nil {
			return nil, merrors.NewStorageError("list_memories/scan", err)
		}
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ConsolidationCandidate is a pair of non-archived records whose embeddings
// exceed the similarity threshold.
type ConsolidationCandidate struct {
	A, B       string
	Similarity float64
}

const defaultConsolidationThreshold = 0.85
const maxConsolidationCandidates = 200

// FindConsolidationCandidates returns pairs of non-archived records above the
// similarity threshold, bounded to a per-call cap.
func (s *Store) FindConsolidationCandidates(ns *mtypes.Namespace) ([]ConsolidationCandidate, error) {
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
		return nil, merrors.NewStorageError("find_consolidation_candidates", err)
	}
	defer rows.Close()

	type entry struct {
		id  string
		vec []float32
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var embJSON string
		if err := rows.Scan(&e.id, &embJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(embJSON), &e.vec); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []ConsolidationCandidate
	for i := 0; i < len(entries) && len(out) < maxConsolidationCandidates; i++ {
		for j := i + 1; j < len(entries) && len(out) < maxConsolidationCandidates; j++ {
			sim := cosineSimilarity(entries[i].vec, entries[j].vec)
			if sim >= defaultConsolidationThreshold {
				out = append(out, ConsolidationCandidate{A: entries[i].id, B: entries[j].id, Similarity: sim})
			}
		}
	}
	return out, nil
}
