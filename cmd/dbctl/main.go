// Command dbctl is a small operational CLI for inspecting and repairing a
// mnemosyne storage database directly, bypassing the daemon, for use during
// incident response or local debugging. Grounded on the teacher's own
// cmd/dbctl, adapted from its agent_control/heartbeat schema to mnemosyne's
// work_items/audit_log schema.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "data/memory.db", "path to the mnemosyne sqlite database")
	action := flag.String("action", "", "action to perform: get-work-item, set-state, tail-audit")
	workItemID := flag.String("item", "", "work item id")
	state := flag.String("state", "", "new state, for set-state")
	limit := flag.Int("limit", 20, "row limit, for tail-audit")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -db <path> -action <get-work-item|set-state|tail-audit> [-item <id>] [-state <state>] [-limit <n>] [-json]\n")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", *dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *action {
	case "get-work-item":
		if *workItemID == "" {
			fmt.Fprintln(os.Stderr, "get-work-item requires -item")
			os.Exit(1)
		}
		item, err := getWorkItem(db, *workItemID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get work item: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(item)

	case "set-state":
		if *workItemID == "" || *state == "" {
			fmt.Fprintln(os.Stderr, "set-state requires -item and -state")
			os.Exit(1)
		}
		if err := setWorkItemState(db, *workItemID, *state); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set state: %v\n", err)
			os.Exit(1)
		}
		if !*jsonOutput {
			fmt.Printf("work item %s forced to state %s\n", *workItemID, *state)
		} else {
			json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
				"success": true,
				"id":      *workItemID,
				"state":   *state,
			})
		}

	case "tail-audit":
		rows, err := tailAudit(db, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read audit log: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(rows)

	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
}

// WorkItemRow is the flat view of a work_items row this tool reports; it
// does not unmarshal the full mtypes.WorkItem JSON, to stay usable even if
// that shape drifts from what's on disk.
type WorkItemRow struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Phase     string    `json:"phase"`
	Agent     string    `json:"agent"`
	UpdatedAt time.Time `json:"updated_at"`
	Item      string    `json:"item"`
}

func getWorkItem(db *sql.DB, id string) (*WorkItemRow, error) {
	var row WorkItemRow
	query := `SELECT id, item, state, phase, agent, updated_at FROM work_items WHERE id = ?`
	err := db.QueryRow(query, id).Scan(&row.ID, &row.Item, &row.State, &row.Phase, &row.Agent, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// setWorkItemState forces a work item's state column directly, bypassing
// queue.Queue's transition validation. Operators only, for recovering a
// work item stuck after a crash mid-transition.
func setWorkItemState(db *sql.DB, id, state string) error {
	result, err := db.Exec(`UPDATE work_items SET state = ?, updated_at = ? WHERE id = ?`, state, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("work item not found: %s", id)
	}
	return nil
}

type AuditRow struct {
	ID        int64     `json:"id"`
	Operation string    `json:"operation"`
	MemoryID  string    `json:"memory_id,omitempty"`
	Details   string    `json:"details"`
	At        time.Time `json:"at"`
}

func tailAudit(db *sql.DB, limit int) ([]AuditRow, error) {
	rows, err := db.Query(`SELECT id, operation, memory_id, details, at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var memoryID sql.NullString
		if err := rows.Scan(&r.ID, &r.Operation, &memoryID, &r.Details, &r.At); err != nil {
			return nil, err
		}
		if memoryID.Valid {
			r.MemoryID = memoryID.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
