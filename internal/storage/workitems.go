package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mnemosyne-ai/mnemosyne/internal/merrors"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// StoreWorkItem upserts a work item by id, serializing the full struct as
// JSON while also projecting state/phase/agent into dedicated columns so
// LoadWorkItemsByState can query without deserializing every row.
func (s *Store) StoreWorkItem(item *mtypes.WorkItem) error {
	blob, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO work_items (id, item, state, phase, agent, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			item=excluded.item, state=excluded.state, phase=excluded.phase,
			agent=excluded.agent, updated_at=excluded.updated_at
	`, item.ID, string(blob), string(item.State), string(item.Phase), item.OwningAgent, time.Now())
	if err != nil {
		return merrors.NewStorageError("store_work_item", err)
	}
	return nil
}

// LoadWorkItem returns a work item by id, or ErrNotFound.
func (s *Store) LoadWorkItem(id string) (*mtypes.WorkItem, error) {
	var blob string
	err := s.db.QueryRow(`SELECT item FROM work_items WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, merrors.ErrNotFound
	}
	if err != nil {
		return nil, merrors.NewStorageError("load_work_item", err)
	}
	var item mtypes.WorkItem
	if err := json.Unmarshal([]byte(blob), &item); err != nil {
		return nil, merrors.NewStorageError("load_work_item/decode", err)
	}
	return &item, nil
}

// UpdateWorkItem is an alias for StoreWorkItem's upsert semantics; kept as a
// distinct method name to mirror the spec.md §4.1 operation list, which
// names store_work_item and update_work_item separately even though both
// overwrite the row.
func (s *Store) UpdateWorkItem(item *mtypes.WorkItem) error {
	return s.StoreWorkItem(item)
}

// LoadWorkItemsByState returns every work item whose projected state column
// matches.
func (s *Store) LoadWorkItemsByState(state mtypes.WorkItemState) ([]*mtypes.WorkItem, error) {
	rows, err := s.db.Query(`SELECT item FROM work_items WHERE state = ?`, string(state))
	if err != nil {
		return nil, merrors.NewStorageError("load_work_items_by_state", err)
	}
	defer rows.Close()

	var out []*mtypes.WorkItem
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var item mtypes.WorkItem
		if err := json.Unmarshal([]byte(blob), &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// DeleteWorkItem removes a work item row.
func (s *Store) DeleteWorkItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM work_items WHERE id = ?`, id)
	if err != nil {
		return merrors.NewStorageError("delete_work_item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return merrors.NewStorageError("delete_work_item/rows", err)
	}
	if n == 0 {
		return merrors.ErrNotFound
	}
	return nil
}
