// Package results provides the append-only record of step outcomes kept for audit and rollback.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// Record is one appended step outcome.
type Record struct {
	TaskID    string          `json:"task_id"`
	StepID    string          `json:"step_id"`
	Order     int             `json:"order"`
	Attempt   int             `json:"attempt"`
	Status    task.StepStatus `json:"status"`
	Result    task.StepResult `json:"result"`
	RootCause string          `json:"root_cause,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store is an append-only, per-task record of outcomes.
type Store interface {
	Append(rec Record) error
	List(taskID string) ([]Record, error)
	Tasks() ([]string, error)
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

// Append adds a record.
func (s *MemoryStore) Append(rec Record) error {
	if rec.TaskID == "" {
		return fmt.Errorf("record has no task id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TaskID] = append(s.records[rec.TaskID], rec)
	return nil
}

// List returns a copy of the records of a task in append order.
func (s *MemoryStore) List(taskID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records[taskID]))
	copy(out, s.records[taskID])
	return out, nil
}

// Tasks returns the ids of tasks that have records.
func (s *MemoryStore) Tasks() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// FileStore appends JSON lines to one file per task.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".jsonl")
}

// Append writes a record to the task's file.
func (s *FileStore) Append(rec Record) error {
	if rec.TaskID == "" {
		return fmt.Errorf("record has no task id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(rec.TaskID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// List reads the records of a task. Malformed lines are skipped.
func (s *FileStore) List(taskID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Record
	for _, line := range splitLines(data) {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Tasks lists task ids that have a results file.
func (s *FileStore) Tasks() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		ids = append(ids, entry.Name()[:len(entry.Name())-len(".jsonl")])
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op; files are closed after every append.
func (s *FileStore) Close() error { return nil }

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
