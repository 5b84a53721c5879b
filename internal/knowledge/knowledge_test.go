package knowledge

import (
	"context"
	"testing"
)

type recordingStore interface {
	Store
	MistakeStore
	Recaller
}

func exerciseStore(t *testing.T, s recordingStore) {
	t.Helper()
	ctx := context.Background()

	if err := s.AddKnowledge(ctx, Entry{
		TaskID:     "t1",
		StepID:     "s1",
		ActionType: "file.write",
		Approach:   "write the config atomically",
		Summary:    "Writing configuration through a temp file avoids partial writes",
	}); err != nil {
		t.Fatalf("AddKnowledge failed: %v", err)
	}
	if err := s.LogMistake(ctx, Mistake{
		TaskID:     "t1",
		StepID:     "s2",
		ActionType: "shell",
		Attempt:    1,
		Approach:   "run migrations directly",
		Error:      "database locked",
		RootCause:  "another migration process held the database lock",
	}); err != nil {
		t.Fatalf("LogMistake failed: %v", err)
	}

	hits, err := s.Recall(ctx, "database migration lock", 5)
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Kind != KindMistake {
		t.Errorf("expected mistake first, got %+v", hits[0])
	}

	hits, err = s.Recall(ctx, "configuration temp file", 5)
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(hits) == 0 || hits[0].Kind != KindKnowledge {
		t.Errorf("expected knowledge hit, got %+v", hits)
	}

	if hits, _ := s.Recall(ctx, "a an", 5); len(hits) != 0 {
		t.Errorf("stop-word query should recall nothing, got %d", len(hits))
	}

	if err := s.AddKnowledge(ctx, Entry{}); err == nil {
		t.Error("expected error for empty entry")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	if len(s.Entries()) != 1 || len(s.Mistakes()) != 1 {
		t.Errorf("unexpected counts: %d entries, %d mistakes", len(s.Entries()), len(s.Mistakes()))
	}
	if s.Entries()[0].ID == "" || s.Entries()[0].CreatedAt.IsZero() {
		t.Error("id and timestamp should be filled in")
	}
}

func TestBleveStore_Memory(t *testing.T) {
	s, err := NewBleveStore("")
	if err != nil {
		t.Fatalf("NewBleveStore failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestBleveStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBleveStore(dir)
	if err != nil {
		t.Fatalf("NewBleveStore failed: %v", err)
	}
	if err := s.AddKnowledge(ctx, Entry{ActionType: "git.commit", Summary: "sign commits with the project key"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewBleveStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	n, err := s.Count()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 document after reopen, got %d (%v)", n, err)
	}
	hits, err := s.Recall(ctx, "sign commits", 3)
	if err != nil || len(hits) != 1 {
		t.Errorf("expected 1 hit, got %v (%v)", hits, err)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("The build FAILED: missing go.sum, missing go.sum")
	want := []string{"build", "failed", "missing", "sum"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d = %q, want %q", i, got[i], want[i])
		}
	}
}
