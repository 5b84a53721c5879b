package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/checkpoint"
	"github.com/vinayprograms/taskrunner/internal/config"
	"github.com/vinayprograms/taskrunner/internal/plan"
	"github.com/vinayprograms/taskrunner/internal/results"
	"github.com/vinayprograms/taskrunner/internal/task"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.Results = "memory"
	cfg.Knowledge.Backend = "memory"
	return cfg
}

func setupRuntime(t *testing.T, cfg *config.Config, ws string, out *bytes.Buffer) *runtime {
	t.Helper()
	rt := newRuntime(cfg, nil, ws, out)
	if err := rt.setup(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(rt.close)
	return rt
}

func writeTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := plan.Parse([]byte(`
request: write a greeting and read it back
steps:
  - title: write greeting
    action:
      type: file.write
      params:
        path: hello.txt
        content: hi there
  - title: read greeting
    action:
      type: file.read
      params:
        path: hello.txt
`), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.Normalize(tk, plan.DefaultMaxRetries); err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestRuntime_SetupWithoutModel(t *testing.T) {
	var out bytes.Buffer
	rt := setupRuntime(t, testConfig(t), t.TempDir(), &out)

	if rt.provider != nil {
		t.Error("no provider without a configured model")
	}
	if rt.collaborator() != nil {
		t.Error("collaborator must be nil without a provider")
	}
	if rt.inbox == nil {
		t.Error("expected an approval inbox")
	}
	if rt.newEngine() == rt.newEngine() {
		t.Error("each call must build a separate engine")
	}
}

func TestExecuteTask_AutoApprove(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.AutoApprove = true
	ws := t.TempDir()
	var out bytes.Buffer
	rt := setupRuntime(t, cfg, ws, &out)

	tk := writeTask(t)
	eng := rt.newEngine()
	done, err := executeTask(context.Background(), rt, eng, tk, nil, true)
	if err != nil {
		t.Fatalf("executeTask failed: %v", err)
	}
	if done.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s)\n%s", done.Status, done.Error, out.String())
	}

	data, err := os.ReadFile(filepath.Join(ws, "hello.txt"))
	if err != nil || string(data) != "hi there" {
		t.Errorf("file = %q, %v", data, err)
	}

	recs, err := rt.results.List(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 result records, got %d", len(recs))
	}
	if !strings.Contains(out.String(), "cycle 1") {
		t.Errorf("expected cycle output:\n%s", out.String())
	}
}

func TestExecuteTask_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.AutoApprove = true
	cfg.Engine.DryRun = true
	ws := t.TempDir()
	var out bytes.Buffer
	rt := setupRuntime(t, cfg, ws, &out)

	done, err := executeTask(context.Background(), rt, rt.newEngine(), writeTask(t), nil, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range done.Steps {
		if s.Status != task.StepSkipped {
			t.Errorf("step %s = %s", s.ID, s.Status)
		}
	}
	if _, err := os.Stat(filepath.Join(ws, "hello.txt")); !os.IsNotExist(err) {
		t.Error("dry run must not write files")
	}
}

func TestExecuteTask_InboxRejection(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	rt := setupRuntime(t, cfg, t.TempDir(), &out)

	tk := writeTask(t)
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if rt.broker.IsPending(tk.ID, tk.Steps[0].ID) {
				approval.WriteDecision(cfg.InboxPath(), approval.DecisionFile{
					TaskID: tk.ID,
					StepID: tk.Steps[0].ID,
					Reason: "not in this repo",
				})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := executeTask(ctx, rt, rt.newEngine(), tk, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != task.StatusCancelled || done.Steps[0].Status != task.StepRejected {
		t.Errorf("status = %s step = %s", done.Status, done.Steps[0].Status)
	}
	if done.Steps[1].Status != task.StepPending {
		t.Errorf("step 2 = %s", done.Steps[1].Status)
	}
	if !strings.Contains(out.String(), "taskrunner approve "+tk.ID) {
		t.Errorf("expected approval hint:\n%s", out.String())
	}
}

func TestExecuteTask_CheckpointAndResume(t *testing.T) {
	cfg := testConfig(t)
	ws := t.TempDir()
	var out bytes.Buffer
	rt := setupRuntime(t, cfg, ws, &out)

	tk := writeTask(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.broker.OnRequest(func(req task.ApprovalRequest) {
		go rt.broker.Resolve(req.TaskID, req.StepID, false, "later")
	})
	if _, err := executeTask(ctx, rt, rt.newEngine(), tk, nil, false); err != nil {
		t.Fatal(err)
	}

	saved, err := rt.checkpoints.Load(tk.ID)
	if err != nil {
		t.Fatalf("checkpoint not saved: %v", err)
	}
	if saved.Status != task.StatusCancelled || saved.Steps[0].Status != task.StepRejected {
		t.Fatalf("saved status = %s step = %s", saved.Status, saved.Steps[0].Status)
	}
	if n := checkpoint.PrepareResume(saved); n != 2 {
		t.Fatalf("remaining = %d", n)
	}

	cfg.Engine.AutoApprove = true
	rt2 := setupRuntime(t, cfg, ws, &out)
	done, err := executeTask(ctx, rt2, rt2.newEngine(), saved, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != task.StatusCompleted || done.CompletedSteps != 2 {
		t.Errorf("status = %s completed = %d", done.Status, done.CompletedSteps)
	}
}

func TestOpenResultStore(t *testing.T) {
	tests := []struct {
		backend string
		check   func(results.Store) bool
	}{
		{"memory", func(s results.Store) bool { _, ok := s.(*results.MemoryStore); return ok }},
		{"file", func(s results.Store) bool { _, ok := s.(*results.FileStore); return ok }},
		{"sqlite", func(s results.Store) bool { _, ok := s.(*results.SQLiteStore); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.New()
			cfg.Storage.Path = t.TempDir()
			cfg.Storage.Results = tt.backend
			store, err := openResultStore(cfg)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			defer store.Close()
			if !tt.check(store) {
				t.Errorf("unexpected store type %T", store)
			}
		})
	}
}

func TestParseRetryConfig(t *testing.T) {
	cfg := parseRetryConfig(4, "30s")
	if cfg.MaxRetries != 4 || cfg.MaxBackoff != 30*time.Second {
		t.Errorf("config = %+v", cfg)
	}
	if cfg := parseRetryConfig(0, "soon"); cfg.MaxBackoff != 0 {
		t.Errorf("invalid backoff should be ignored, got %s", cfg.MaxBackoff)
	}
}
