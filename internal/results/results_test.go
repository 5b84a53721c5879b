package results

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/taskrunner/internal/task"
)

func sampleRecords(taskID string) []Record {
	return []Record{
		{TaskID: taskID, StepID: "s1", Order: 1, Attempt: 1, Status: task.StepFailed,
			Result: task.StepResult{Success: false, Message: "boom"}, RootCause: "missing file"},
		{TaskID: taskID, StepID: "s1", Order: 1, Attempt: 2, Status: task.StepCompleted,
			Result: task.StepResult{Success: true, Message: "ok", FilesCreated: []string{"a.txt"}}},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	for _, rec := range sampleRecords("task-1") {
		if err := store.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(Record{TaskID: "task-2", StepID: "x", Order: 1, Attempt: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recs, err := store.List("task-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Attempt != 1 || recs[1].Attempt != 2 {
		t.Errorf("records out of order: %+v", recs)
	}
	if recs[0].RootCause != "missing file" {
		t.Errorf("root cause lost: %q", recs[0].RootCause)
	}
	if !recs[1].Result.Success || len(recs[1].Result.FilesCreated) != 1 {
		t.Errorf("result not preserved: %+v", recs[1].Result)
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}

	ids, err := store.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "task-1" || ids[1] != "task-2" {
		t.Errorf("unexpected task ids: %v", ids)
	}

	empty, err := store.List("nope")
	if err != nil {
		t.Fatalf("List on unknown task failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no records, got %d", len(empty))
	}

	if err := store.Append(Record{StepID: "orphan"}); err == nil {
		t.Error("expected error for record without task id")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	exerciseStore(t, store)

	if _, err := os.Stat(filepath.Join(dir, "task-1.jsonl")); err != nil {
		t.Errorf("results file not written: %v", err)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	store.Append(Record{TaskID: "t", StepID: "a", Attempt: 1})

	f, _ := os.OpenFile(filepath.Join(dir, "t.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	f.WriteString("not json\n")
	f.Close()
	store.Append(Record{TaskID: "t", StepID: "b", Attempt: 1})

	recs, err := store.List("t")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(recs))
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}
