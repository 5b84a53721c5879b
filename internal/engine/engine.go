// Package engine drives a task's steps through approval, execution and retry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/events"
	"github.com/vinayprograms/taskrunner/internal/react"
	"github.com/vinayprograms/taskrunner/internal/results"
	"github.com/vinayprograms/taskrunner/internal/task"
)

var (
	// ErrAlreadyRunning is returned when ExecuteTask is called on a busy engine.
	ErrAlreadyRunning = errors.New("engine is already running a task")
	// ErrApprovalRejected marks a step whose action was not approved.
	ErrApprovalRejected = errors.New("approval rejected")
	// ErrCancelled marks a task stopped before all steps ran.
	ErrCancelled = errors.New("task cancelled")
	// ErrStepFailed marks a step that failed after its retries.
	ErrStepFailed = errors.New("step failed")
	// ErrNoApprover is returned when a step needs approval and nobody can give it.
	ErrNoApprover = errors.New("no approval handler configured")
)

// CycleRunner runs ReAct cycles and owns their history.
type CycleRunner interface {
	ExecuteReActCycle(ctx context.Context, step *task.Step, t *task.Task, exec react.ActionExecutor) *task.ReActCycle
	GetCycleHistory(stepID string) []*task.ReActCycle
	ClearStepHistory(stepID string)
	ResetAllHistory()
}

// Callbacks are invoked on the engine's goroutine. Every field is optional.
type Callbacks struct {
	OnStepStart    func(step *task.Step)
	OnStepComplete func(step *task.Step, cycle *task.ReActCycle)
	OnStepError    func(step *task.Step, err error)
	// OnStepApprovalRequired resolves an approval. When nil the engine
	// waits on the approval broker instead.
	OnStepApprovalRequired func(ctx context.Context, step *task.Step, req task.ApprovalRequest) (bool, error)
	OnStepStatusChange     func(step *task.Step)
	OnTaskProgress         func(completed, total int)
	OnTaskComplete         func(t *task.Task)
	OnTaskError            func(t *task.Task, err error)
}

// Config wires an engine to its collaborators.
type Config struct {
	Cycles    CycleRunner
	Actions   react.ActionExecutor
	Results   results.Store
	Approvals *approval.Broker
	Publisher events.Publisher

	// RetainHistory keeps cycle history after a step completes.
	RetainHistory bool

	Logger *logging.Logger
}

// Engine executes one task at a time, strictly in step order.
type Engine struct {
	cycles    CycleRunner
	actions   react.ActionExecutor
	results   results.Store
	approvals *approval.Broker
	publisher events.Publisher
	retain    bool
	logger    *logging.Logger

	mu       sync.Mutex
	running  bool
	paused   bool
	stopped  bool
	resumeCh chan struct{}
	stopCh   chan struct{}
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New().WithComponent("engine")
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		cycles:    cfg.Cycles,
		actions:   cfg.Actions,
		results:   cfg.Results,
		approvals: cfg.Approvals,
		publisher: pub,
		retain:    cfg.RetainHistory,
		logger:    logger,
	}
}

// Cycles returns the engine's cycle runner.
func (e *Engine) Cycles() CycleRunner {
	return e.cycles
}

// Pause holds the engine at the next step boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.resumeCh = make(chan struct{})
}

// Resume releases a paused engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.resumeCh)
}

// Stop cancels the running task at the next step boundary. On an idle engine
// the stop is held for the next ExecuteTask, which then ends cancelled before
// its first step; that task consumes it.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.stopCh == nil {
		e.stopped = true
		return
	}
	e.stopped = true
	close(e.stopCh)
}

// Cancel is Stop.
func (e *Engine) Cancel() {
	e.Stop()
}

// IsPaused reports whether Pause is in effect.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// IsRunning reports whether a task is executing.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.running = true
	e.stopCh = make(chan struct{})
	if e.stopped {
		// Stop arrived before the task started.
		close(e.stopCh)
	}
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.stopped = false
	e.stopCh = nil
}

func (e *Engine) stopSignal() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh
}

func (e *Engine) isStopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// waitIfPaused blocks while paused. It returns false if the task was stopped meanwhile.
func (e *Engine) waitIfPaused(ctx context.Context) bool {
	e.mu.Lock()
	paused, resume, stop := e.paused, e.resumeCh, e.stopCh
	e.mu.Unlock()
	if !paused {
		return true
	}

	e.logger.Info("paused", nil)
	select {
	case <-resume:
		e.logger.Info("resumed", nil)
		return !e.isStopped(ctx)
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// ExecuteTask runs every step of t and returns it in a terminal state. The
// error is non-nil only when the task could not be started.
func (e *Engine) ExecuteTask(ctx context.Context, t *task.Task, cb Callbacks) (*task.Task, error) {
	if t == nil {
		return nil, fmt.Errorf("task is required")
	}
	if e.cycles == nil {
		return nil, fmt.Errorf("engine has no cycle runner")
	}
	if err := e.begin(); err != nil {
		return t, err
	}
	defer e.end()

	start := time.Now()
	e.logger.ExecutionStart(t.ID)
	ctx, span := e.startTaskSpan(ctx, t)

	e.cycles.ResetAllHistory()
	t.Status = task.StatusExecuting
	t.CompletedSteps = 0
	t.Error = ""
	t.UpdatedAt = time.Now()

	outcome := e.runSteps(ctx, t, cb)

	t.UpdatedAt = time.Now()
	switch {
	case outcome == nil:
		t.Status = task.StatusCompleted
		if cb.OnTaskComplete != nil {
			cb.OnTaskComplete(t)
		}
	case errors.Is(outcome, ErrCancelled) || errors.Is(outcome, ErrApprovalRejected):
		t.Status = task.StatusCancelled
		t.Error = outcome.Error()
		if cb.OnTaskError != nil {
			cb.OnTaskError(t, outcome)
		}
	default:
		t.Status = task.StatusFailed
		t.Error = outcome.Error()
		if cb.OnTaskError != nil {
			cb.OnTaskError(t, outcome)
		}
	}

	e.endTaskSpan(span, t, outcome)
	e.logger.ExecutionComplete(t.ID, time.Since(start), string(t.Status))
	return t, nil
}

// runSteps returns nil when every step completed or was skipped.
func (e *Engine) runSteps(ctx context.Context, t *task.Task, cb Callbacks) error {
	total := len(t.Steps)

	for _, step := range t.Steps {
		if e.isStopped(ctx) || !e.waitIfPaused(ctx) {
			return ErrCancelled
		}

		switch step.Status {
		case task.StepCompleted, task.StepSkipped:
			t.CompletedSteps++
			continue
		}

		if approval.RequiresApproval(step.Action) && !step.IsApproved() {
			approved, err := e.awaitApproval(ctx, t, step, cb)
			if err != nil && e.isStopped(ctx) {
				return ErrCancelled
			}
			if !approved {
				step.SetApproved(false)
				reason := "rejected"
				if err != nil {
					reason = err.Error()
				}
				step.Error = "approval " + reason
				e.setStatus(t, step, task.StepRejected, cb)
				e.logger.Info("approval rejected", map[string]interface{}{
					"task": t.ID,
					"step": step.ID,
				})
				stepErr := fmt.Errorf("%w: step %s (%s)", ErrApprovalRejected, step.ID, step.Title)
				if cb.OnStepError != nil {
					cb.OnStepError(step, stepErr)
				}
				return stepErr
			}
			step.SetApproved(true)
			e.setStatus(t, step, task.StepApproved, cb)
		}

		done, err := e.runStep(ctx, t, step, cb)
		if err != nil {
			return err
		}
		if done {
			t.CompletedSteps++
			if cb.OnTaskProgress != nil {
				cb.OnTaskProgress(t.CompletedSteps, total)
			}
			e.publisher.Publish(events.New(events.ProgressUpdated, t.ID, map[string]interface{}{
				"completed": t.CompletedSteps,
				"total":     total,
			}))
		}
	}
	return nil
}

// runStep executes one step. It reports whether the step counts as completed,
// which skipped steps do; a non-nil error ends the task.
func (e *Engine) runStep(ctx context.Context, t *task.Task, step *task.Step, cb Callbacks) (bool, error) {
	ctx, span := e.startStepSpan(ctx, step)

	e.setStatus(t, step, task.StepInProgress, cb)
	e.publisher.Publish(stepEvent(events.StepStarted, t, step))
	if cb.OnStepStart != nil {
		cb.OnStepStart(step)
	}

	cycle := e.cycles.ExecuteReActCycle(ctx, step, t, e.actions)
	if cycle == nil {
		cycle = &task.ReActCycle{StepID: step.ID, Result: task.StepResult{Message: "no cycle produced"}}
	}
	result := cycle.Result
	step.Result = &result
	e.record(t, step, cycle)

	if result.Success {
		status := task.StepCompleted
		if result.Skipped {
			status = task.StepSkipped
		}
		step.Error = ""
		e.setStatus(t, step, status, cb)
		e.publisher.Publish(stepEvent(events.StepCompleted, t, step))
		if cb.OnStepComplete != nil {
			cb.OnStepComplete(step, cycle)
		}
		e.forget(step)
		e.endStepSpan(span, step, nil)
		return true, nil
	}

	rootCause := cycle.Reflection.RootCause
	if rootCause == "" {
		rootCause = result.Message
	}
	step.Error = result.Message
	e.setStatus(t, step, task.StepFailed, cb)
	stepErr := fmt.Errorf("%w: step %s (%s) after %d retries: %s", ErrStepFailed, step.ID, step.Title, step.RetryCount, rootCause)
	e.publisher.Publish(stepEvent(events.StepFailed, t, step))
	if cb.OnStepError != nil {
		cb.OnStepError(step, stepErr)
	}
	e.endStepSpan(span, step, stepErr)

	if e.isStopped(ctx) {
		return false, fmt.Errorf("%w: %v", ErrCancelled, stepErr)
	}
	if step.Skippable {
		e.logger.Warn("skipping failed step", map[string]interface{}{"task": t.ID, "step": step.ID})
		e.setStatus(t, step, task.StepSkipped, cb)
		e.forget(step)
		return true, nil
	}
	return false, stepErr
}

func (e *Engine) awaitApproval(ctx context.Context, t *task.Task, step *task.Step, cb Callbacks) (bool, error) {
	req := approval.NewRequest(t, step)
	e.setStatus(t, step, task.StepApprovalRequired, cb)
	e.publisher.Publish(events.Event{
		Type:   events.ApprovalRequired,
		TaskID: t.ID,
		StepID: step.ID,
		Data: map[string]interface{}{
			"action":     step.Action.Type,
			"risk":       string(req.Impact.RiskLevel),
			"reversible": req.Impact.Reversible,
			"files":      req.Impact.FilesAffected,
		},
		Time: time.Now(),
	})

	if cb.OnStepApprovalRequired != nil {
		return cb.OnStepApprovalRequired(ctx, step, req)
	}
	if e.approvals == nil {
		return false, ErrNoApprover
	}

	decisions, err := e.approvals.Request(req)
	if err != nil {
		return false, err
	}
	select {
	case d := <-decisions:
		if !d.Approved && d.Reason != "" {
			return false, fmt.Errorf("rejected: %s", d.Reason)
		}
		return d.Approved, nil
	case <-e.stopSignal():
		e.approvals.Withdraw(t.ID, step.ID)
		return false, ErrCancelled
	case <-ctx.Done():
		e.approvals.Withdraw(t.ID, step.ID)
		return false, ctx.Err()
	}
}

func (e *Engine) setStatus(t *task.Task, step *task.Step, status task.StepStatus, cb Callbacks) {
	step.Status = status
	t.UpdatedAt = time.Now()
	if cb.OnStepStatusChange != nil {
		cb.OnStepStatusChange(step)
	}
}

// record appends every attempt of the step to the result store.
func (e *Engine) record(t *task.Task, step *task.Step, final *task.ReActCycle) {
	if e.results == nil {
		return
	}
	cycles := e.cycles.GetCycleHistory(step.ID)
	if len(cycles) == 0 {
		cycles = []*task.ReActCycle{final}
	}
	for _, c := range cycles {
		status := task.StepFailed
		if c.Result.Success {
			status = task.StepCompleted
			if c.Result.Skipped {
				status = task.StepSkipped
			}
		}
		err := e.results.Append(results.Record{
			TaskID:    t.ID,
			StepID:    step.ID,
			Order:     step.Order,
			Attempt:   c.Number,
			Status:    status,
			Result:    c.Result,
			RootCause: c.Reflection.RootCause,
		})
		if err != nil {
			e.logger.Warn("failed to record step result", map[string]interface{}{
				"task":  t.ID,
				"step":  step.ID,
				"error": err.Error(),
			})
		}
	}
}

func (e *Engine) forget(step *task.Step) {
	if !e.retain {
		e.cycles.ClearStepHistory(step.ID)
	}
}

func stepEvent(typ events.Type, t *task.Task, step *task.Step) events.Event {
	data := map[string]interface{}{
		"order":       step.Order,
		"title":       step.Title,
		"status":      string(step.Status),
		"retry_count": step.RetryCount,
	}
	if step.Error != "" {
		data["error"] = step.Error
	}
	return events.Event{Type: typ, TaskID: t.ID, StepID: step.ID, Data: data, Time: time.Now()}
}
