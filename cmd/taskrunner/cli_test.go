package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/vinayprograms/taskrunner/internal/checkpoint"
	"github.com/vinayprograms/taskrunner/internal/task"
)

func writePlanFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCmd_Parse(t *testing.T) {
	dir := t.TempDir()
	planPath := writePlanFile(t, dir, "plan.yaml", "steps: []\n")

	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{"-c", "custom.toml", "run", planPath, "--dry-run", "--auto-approve", "--max-retries", "5", "--show-cycles"})
	if err != nil {
		t.Fatal(err)
	}
	if cli.Run.Plan != planPath {
		t.Errorf("plan = %q", cli.Run.Plan)
	}
	if !cli.Run.DryRun || !cli.Run.AutoApprove || !cli.Run.ShowCycles || cli.Run.MaxRetries != 5 {
		t.Errorf("flags = %+v", cli.Run)
	}
	if filepath.Base(cli.Globals.Config) != "custom.toml" {
		t.Errorf("config = %q", cli.Globals.Config)
	}
}

func TestRunCmd_MissingPlan(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"run", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing plan file")
	}
}

func TestSubmitCmd_Parse(t *testing.T) {
	dir := t.TempDir()
	a := writePlanFile(t, dir, "a.yaml", "steps: []\n")
	b := writePlanFile(t, dir, "b.yaml", "steps: []\n")

	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"submit", a, b, "-p", "7", "--concurrency", "2"}); err != nil {
		t.Fatal(err)
	}
	if len(cli.Submit.Plans) != 2 || cli.Submit.Priority != 7 || cli.Submit.Concurrency != 2 {
		t.Errorf("submit = %+v", cli.Submit)
	}
}

func TestApproveCmd_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"approve", "task-1", "step-2", "--reject", "--reason", "too risky"}); err != nil {
		t.Fatal(err)
	}
	if cli.Approve.Task != "task-1" || cli.Approve.Step != "step-2" || !cli.Approve.Reject || cli.Approve.Reason != "too risky" {
		t.Errorf("approve = %+v", cli.Approve)
	}
}

func TestHistoryCmd_OptionalTask(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"history"}); err != nil {
		t.Fatal(err)
	}
	if cli.History.Task != "" {
		t.Errorf("task = %q", cli.History.Task)
	}
}

func TestResumeCmd_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"resume", "task-9", "--auto-approve"}); err != nil {
		t.Fatal(err)
	}
	if cli.Resume.Task != "task-9" || !cli.Resume.AutoApprove {
		t.Errorf("resume = %+v", cli.Resume)
	}
}

func TestHistoryCmd_ParseFollow(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"history", "task-1", "-f"}); err != nil {
		t.Fatal(err)
	}
	if !cli.History.Follow {
		t.Error("expected follow")
	}
}

func TestHistoryCmd_FollowNeedsPersistentStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writePlanFile(t, dir, "taskrunner.toml", "[storage]\npath = \""+dir+"\"\nresults = \"memory\"\n")
	if err := (&HistoryCmd{Task: "t1", Follow: true}).Run(&Globals{Config: cfgPath}); err == nil {
		t.Error("expected error when following the memory store")
	}
}

func TestResumeCmd_MissingCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writePlanFile(t, dir, "taskrunner.toml", "[storage]\npath = \""+dir+"\"\n")
	err := (&ResumeCmd{Task: "nope"}).Run(&Globals{Config: cfgPath})
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeCmd_NothingLeft(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writePlanFile(t, dir, "taskrunner.toml", "[storage]\npath = \""+dir+"\"\n")
	store, err := checkpoint.NewStore(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}
	store.Save(&task.Task{
		ID:     "done",
		Status: task.StatusCompleted,
		Steps:  []*task.Step{{ID: "s1", Order: 1, Status: task.StepCompleted}},
	})
	if err := (&ResumeCmd{Task: "done"}).Run(&Globals{Config: cfgPath}); err != nil {
		t.Errorf("resuming a finished task should be a no-op: %v", err)
	}
}

func TestApproveCmd_WritesDecision(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writePlanFile(t, dir, "taskrunner.toml", "[storage]\npath = \""+dir+"\"\n")

	cmd := &ApproveCmd{Task: "t1", Step: "s1", Reject: true, Reason: "no"}
	if err := cmd.Run(&Globals{Config: cfgPath}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "inbox", "t1_s1.json")); err != nil {
		t.Errorf("decision file not written: %v", err)
	}
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := writePlanFile(t, dir, "good.yaml", `
request: tidy up
steps:
  - title: list files
    action:
      type: file.list
  - title: remove scratch
    action:
      type: file.delete
      params:
        path: scratch.txt
`)
	bad := writePlanFile(t, dir, "bad.yaml", "request: nothing\nsteps: []\n")

	if err := (&ValidateCmd{Plan: good}).Run(&Globals{}); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	if err := (&ValidateCmd{Plan: bad}).Run(&Globals{}); err == nil {
		t.Error("expected error for plan without steps")
	}
}
