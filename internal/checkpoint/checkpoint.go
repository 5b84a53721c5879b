// Package checkpoint persists task snapshots so an interrupted task can be resumed.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// ErrNotFound is returned when no checkpoint exists for a task.
var ErrNotFound = errors.New("checkpoint not found")

// Store keeps one JSON snapshot per task in a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a new checkpoint store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// Save writes a snapshot of t, replacing any previous one.
func (s *Store) Save(t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if strings.ContainsAny(t.ID, `/\`) {
		return fmt.Errorf("invalid task id %q", t.ID)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	final := s.path(t.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads the snapshot of a task.
func (s *Store) Load(taskID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", taskID, err)
	}
	return &t, nil
}

// List returns the ids of every checkpointed task.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a task's snapshot. Missing snapshots are not an error.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PrepareResume resets every step that did not complete so the engine runs it
// again. Completed and skipped steps are kept and counted. Approvals are
// cleared so risky steps are asked again.
func PrepareResume(t *task.Task) int {
	remaining := 0
	for _, s := range t.Steps {
		switch s.Status {
		case task.StepCompleted, task.StepSkipped:
			continue
		}
		s.Status = task.StepPending
		s.Approved = nil
		s.RetryCount = 0
		s.Result = nil
		s.Error = ""
		remaining++
	}
	t.Status = task.StatusPlanning
	t.Error = ""
	return remaining
}
