package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// SQLiteStore stores records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		result TEXT NOT NULL,
		root_cause TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_step_results_task ON step_results(task_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append inserts a record.
func (s *SQLiteStore) Append(rec Record) error {
	if rec.TaskID == "" {
		return fmt.Errorf("record has no task id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO step_results (task_id, step_id, step_order, attempt, status, result, root_cause, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID, rec.StepID, rec.Order, rec.Attempt, string(rec.Status), string(resultJSON), rec.RootCause, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// List returns the records of a task in insertion order.
func (s *SQLiteStore) List(taskID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT task_id, step_id, step_order, attempt, status, result, root_cause, timestamp
		FROM step_results WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var status, resultJSON string
		var rootCause sql.NullString
		if err := rows.Scan(&rec.TaskID, &rec.StepID, &rec.Order, &rec.Attempt, &status, &resultJSON, &rootCause, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Status = task.StepStatus(status)
		rec.RootCause = rootCause.String
		if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Tasks lists distinct task ids.
func (s *SQLiteStore) Tasks() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT task_id FROM step_results ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
