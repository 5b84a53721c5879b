package task

import "testing"

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPlanning, false},
		{StatusExecuting, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStepApproved(t *testing.T) {
	s := &Step{ID: "s1"}
	if s.IsApproved() {
		t.Error("unset approval should not count as approved")
	}
	s.SetApproved(false)
	if s.Approved == nil || s.IsApproved() {
		t.Error("expected explicit false approval")
	}
	s.SetApproved(true)
	if !s.IsApproved() {
		t.Error("expected approval")
	}
}

func TestRetriesLeft(t *testing.T) {
	s := &Step{MaxRetries: 3, RetryCount: 1}
	if got := s.RetriesLeft(); got != 2 {
		t.Errorf("RetriesLeft() = %d, want 2", got)
	}
	s.RetryCount = 3
	if got := s.RetriesLeft(); got != 0 {
		t.Errorf("RetriesLeft() = %d, want 0", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Task{
		ID: "t1",
		Steps: []*Step{
			{ID: "s1", Result: &StepResult{Success: true}},
		},
	}
	orig.Steps[0].SetApproved(true)

	c := orig.Clone()
	c.Steps[0].Status = StepFailed
	*c.Steps[0].Approved = false
	c.Steps[0].Result.Success = false

	if orig.Steps[0].Status == StepFailed {
		t.Error("clone shares step with original")
	}
	if !orig.Steps[0].IsApproved() {
		t.Error("clone shares approval pointer with original")
	}
	if !orig.Steps[0].Result.Success {
		t.Error("clone shares result with original")
	}
	if orig.Step("s1") == nil || orig.Step("missing") != nil {
		t.Error("Step lookup mismatch")
	}
}
