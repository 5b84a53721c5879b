// Package task defines the task, step and cycle records driven by the execution engine.
package task

import (
	"fmt"
	"time"
)

// Status is the overall status of a task.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the status of a single step.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepApprovalRequired StepStatus = "approval_required"
	StepApproved         StepStatus = "approved"
	StepRejected         StepStatus = "rejected"
	StepInProgress       StepStatus = "in_progress"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
)

// Terminal reports whether the step has resolved.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepRejected, StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Action is the planned operation of a step.
type Action struct {
	Type   string                 `json:"type" yaml:"type"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// String renders the action for prompts and logs.
func (a Action) String() string {
	if len(a.Params) == 0 {
		return a.Type
	}
	return fmt.Sprintf("%s %v", a.Type, a.Params)
}

// Step is one planned action within a task.
type Step struct {
	ID          string      `json:"id" yaml:"id"`
	Order       int         `json:"order" yaml:"order"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Action      Action      `json:"action" yaml:"action"`
	Status      StepStatus  `json:"status" yaml:"status,omitempty"`
	Approved    *bool       `json:"approved,omitempty" yaml:"approved,omitempty"` // nil = unset
	RetryCount  int         `json:"retry_count" yaml:"retry_count,omitempty"`
	MaxRetries  int         `json:"max_retries" yaml:"max_retries,omitempty"`
	Skippable   bool        `json:"skippable,omitempty" yaml:"skippable,omitempty"`
	Result      *StepResult `json:"result,omitempty" yaml:"-"`
	Error       string      `json:"error,omitempty" yaml:"-"`
}

// SetApproved records an approval decision.
func (s *Step) SetApproved(v bool) {
	s.Approved = &v
}

// IsApproved reports whether the step carries an explicit approval.
func (s *Step) IsApproved() bool {
	return s.Approved != nil && *s.Approved
}

// RetriesLeft returns how many further retries the budget allows.
func (s *Step) RetriesLeft() int {
	if n := s.MaxRetries - s.RetryCount; n > 0 {
		return n
	}
	return 0
}

// Task is a unit of work composed of ordered steps.
type Task struct {
	ID             string    `json:"id" yaml:"id"`
	Request        string    `json:"request" yaml:"request"`
	Workspace      string    `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Steps          []*Step   `json:"steps" yaml:"steps"`
	Status         Status    `json:"status" yaml:"status,omitempty"`
	CompletedSteps int       `json:"completed_steps" yaml:"-"`
	Error          string    `json:"error,omitempty" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Step returns the step with the given id, or nil.
func (t *Task) Step(id string) *Step {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy suitable for status snapshots.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Steps = make([]*Step, len(t.Steps))
	for i, s := range t.Steps {
		sc := *s
		if s.Approved != nil {
			v := *s.Approved
			sc.Approved = &v
		}
		if s.Result != nil {
			r := *s.Result
			sc.Result = &r
		}
		c.Steps[i] = &sc
	}
	return &c
}
