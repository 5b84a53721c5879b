package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/taskrunner/internal/task"
)

const yamlPlan = `
request: tidy the build directory
default_max_retries: 2
steps:
  - title: List build output
    action:
      type: file.list
      params:
        path: build/
  - title: Remove stale artifacts
    max_retries: 5
    skippable: true
    action:
      type: file.delete
      params:
        files: [build/a.o, build/b.o]
`

func TestParseYAML(t *testing.T) {
	tk, err := Parse([]byte(yamlPlan), "yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tk.ID == "" || tk.Request != "tidy the build directory" {
		t.Errorf("task header: %+v", tk)
	}
	if tk.Status != task.StatusPlanning {
		t.Errorf("status = %s", tk.Status)
	}
	if len(tk.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(tk.Steps))
	}

	s1, s2 := tk.Steps[0], tk.Steps[1]
	if s1.Order != 1 || s2.Order != 2 {
		t.Errorf("orders = %d, %d", s1.Order, s2.Order)
	}
	if s1.ID != "step-1" || s2.ID != "step-2" {
		t.Errorf("ids = %q, %q", s1.ID, s2.ID)
	}
	if s1.MaxRetries != 2 || s2.MaxRetries != 5 {
		t.Errorf("retries = %d, %d", s1.MaxRetries, s2.MaxRetries)
	}
	if !s2.Skippable || s1.Skippable {
		t.Error("skippable flag not decoded")
	}
	if s1.Status != task.StepPending {
		t.Errorf("step status = %s", s1.Status)
	}
	files, ok := s2.Action.Params["files"].([]interface{})
	if !ok || len(files) != 2 {
		t.Errorf("params not decoded: %#v", s2.Action.Params)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{"id":"fixed","request":"r","steps":[
		{"id":"a","order":10,"title":"A","action":{"type":"read"}},
		{"id":"b","order":20,"title":"B","action":{"type":"write"}}]}`
	tk, err := Parse([]byte(doc), "json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tk.ID != "fixed" || tk.Steps[1].Order != 20 {
		t.Errorf("unexpected task: %+v", tk)
	}
	if tk.Steps[0].MaxRetries != DefaultMaxRetries {
		t.Errorf("default retries not applied: %d", tk.Steps[0].MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		steps []*task.Step
		want  string
	}{
		{"empty", nil, "no steps"},
		{"duplicate ids", []*task.Step{
			{ID: "a", Order: 1, Action: task.Action{Type: "x"}},
			{ID: "a", Order: 2, Action: task.Action{Type: "x"}},
		}, "duplicate step id"},
		{"order not increasing", []*task.Step{
			{ID: "a", Order: 2, Action: task.Action{Type: "x"}},
			{ID: "b", Order: 2, Action: task.Action{Type: "x"}},
		}, "does not increase"},
		{"missing action", []*task.Step{
			{ID: "a", Order: 1},
		}, "no action type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&task.Task{Steps: tt.steps})
			if !errors.Is(err, ErrInvalidPlan) {
				t.Fatalf("expected ErrInvalidPlan, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	ok := &task.Task{Steps: []*task.Step{{ID: "a", Order: 1, Action: task.Action{Type: "x"}}}}
	if err := Validate(ok); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
}

func TestLoadAndFilePlanner(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plan.yaml"), []byte(yamlPlan), 0644); err != nil {
		t.Fatal(err)
	}

	p := FilePlanner{Dir: dir}
	tk, err := p.Plan(context.Background(), Request{Request: "plan.yaml"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(tk.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(tk.Steps))
	}

	tk, err = p.Plan(context.Background(), Request{Request: "plan.yaml", Workspace: dir})
	if err != nil {
		t.Fatalf("Plan with workspace failed: %v", err)
	}
	if tk.Workspace != dir {
		t.Errorf("workspace = %q", tk.Workspace)
	}

	if _, err := p.Plan(context.Background(), Request{Request: "missing.yaml"}); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(filepath.Join(dir, "plan.toml")); err == nil {
		t.Error("expected error for unknown extension")
	}
}

func TestStaticPlanner(t *testing.T) {
	base := &task.Task{Request: "base", Steps: []*task.Step{{ID: "a", Order: 1, Action: task.Action{Type: "x"}}}}
	p := Static{Task: base}

	t1, err := p.Plan(context.Background(), Request{Request: "first"})
	if err != nil {
		t.Fatal(err)
	}
	t2, _ := p.Plan(context.Background(), Request{})

	if t1.ID == t2.ID {
		t.Error("each plan should get its own id")
	}
	if t1.Request != "first" || t2.Request != "base" {
		t.Errorf("requests = %q, %q", t1.Request, t2.Request)
	}
	t1.Steps[0].Status = task.StepCompleted
	if t2.Steps[0].Status == task.StepCompleted || base.Steps[0].Status == task.StepCompleted {
		t.Error("plans must not share steps")
	}
}
