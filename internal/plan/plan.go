// Package plan loads and validates the ordered step lists the engine executes.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// ErrInvalidPlan is wrapped by every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// DefaultMaxRetries is applied to steps that do not set a budget.
const DefaultMaxRetries = 3

// Request asks a planner for a task.
type Request struct {
	Kind      string            `json:"kind"`
	Request   string            `json:"request"`
	Workspace string            `json:"workspace,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Planner turns a request into an ordered task.
type Planner interface {
	Plan(ctx context.Context, req Request) (*task.Task, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req Request) (*task.Task, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, req Request) (*task.Task, error) {
	return f(ctx, req)
}

// Document is the on-disk plan format.
type Document struct {
	ID                string       `json:"id,omitempty" yaml:"id,omitempty"`
	Request           string       `json:"request" yaml:"request"`
	Workspace         string       `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	DefaultMaxRetries int          `json:"default_max_retries,omitempty" yaml:"default_max_retries,omitempty"`
	Steps             []*task.Step `json:"steps" yaml:"steps"`
}

// Parse decodes a plan document. format is "yaml" or "json".
func Parse(data []byte, format string) (*task.Task, error) {
	var doc Document
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}

	t := &task.Task{
		ID:        doc.ID,
		Request:   doc.Request,
		Workspace: doc.Workspace,
		Steps:     doc.Steps,
	}
	retries := doc.DefaultMaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	if err := Normalize(t, retries); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads a plan file, choosing the format from its extension.
func Load(path string) (*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return Parse(data, format)
}

// Normalize fills in ids, orders, budgets and initial statuses, then validates.
func Normalize(t *task.Task, defaultMaxRetries int) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt
	t.Status = task.StatusPlanning

	unordered := true
	for _, s := range t.Steps {
		if s != nil && s.Order != 0 {
			unordered = false
			break
		}
	}
	for i, s := range t.Steps {
		if s == nil {
			continue
		}
		if unordered {
			s.Order = i + 1
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", s.Order)
		}
		if s.Title == "" {
			s.Title = s.Action.Type
		}
		if s.MaxRetries <= 0 {
			s.MaxRetries = defaultMaxRetries
		}
		s.Status = task.StepPending
		s.RetryCount = 0
		s.Result = nil
		s.Error = ""
	}
	return Validate(t)
}

// Validate checks the structural rules the engine relies on.
func Validate(t *task.Task) error {
	var errs []error
	if t == nil {
		return fmt.Errorf("%w: no task", ErrInvalidPlan)
	}
	if len(t.Steps) == 0 {
		errs = append(errs, fmt.Errorf("plan has no steps"))
	}

	ids := make(map[string]bool)
	prev := 0
	for i, s := range t.Steps {
		if s == nil {
			errs = append(errs, fmt.Errorf("step %d is empty", i+1))
			continue
		}
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("step %d has no id", i+1))
		} else if ids[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
		if i > 0 && s.Order <= prev {
			errs = append(errs, fmt.Errorf("step %q order %d does not increase (previous %d)", s.ID, s.Order, prev))
		}
		prev = s.Order
		if strings.TrimSpace(s.Action.Type) == "" {
			errs = append(errs, fmt.Errorf("step %q has no action type", s.ID))
		}
		if s.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("step %q has negative max_retries", s.ID))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
}

// FilePlanner treats the request text as a path to a plan file.
type FilePlanner struct {
	// Dir resolves relative paths when the request has no workspace.
	Dir string
}

// Plan loads the plan file named by req.Request.
func (p FilePlanner) Plan(ctx context.Context, req Request) (*task.Task, error) {
	path := strings.TrimSpace(req.Request)
	if path == "" {
		return nil, fmt.Errorf("%w: empty plan path", ErrInvalidPlan)
	}
	if !filepath.IsAbs(path) {
		base := req.Workspace
		if base == "" {
			base = p.Dir
		}
		path = filepath.Join(base, path)
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	if req.Workspace != "" && t.Workspace == "" {
		t.Workspace = req.Workspace
	}
	return t, nil
}

// Static returns a fresh copy of a fixed task for every request.
type Static struct {
	Task *task.Task
}

// Plan clones the fixed task under a new id.
func (s Static) Plan(ctx context.Context, req Request) (*task.Task, error) {
	if s.Task == nil {
		return nil, fmt.Errorf("%w: no task", ErrInvalidPlan)
	}
	t := s.Task.Clone()
	t.ID = ""
	t.CreatedAt = time.Time{}
	if req.Request != "" {
		t.Request = req.Request
	}
	if req.Workspace != "" {
		t.Workspace = req.Workspace
	}
	if err := Normalize(t, DefaultMaxRetries); err != nil {
		return nil, err
	}
	return t, nil
}
