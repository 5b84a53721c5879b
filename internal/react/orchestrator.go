// Package react runs Thought -> Action -> Observation -> Reflection cycles for a step.
package react

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/taskrunner/internal/knowledge"
	"github.com/vinayprograms/taskrunner/internal/reasoning"
	"github.com/vinayprograms/taskrunner/internal/task"
)

// ActionExecutor performs a step's action. It is the only place side effects happen.
type ActionExecutor interface {
	Execute(ctx context.Context, action task.Action) (task.StepResult, error)
}

// ActionFunc adapts a function to ActionExecutor.
type ActionFunc func(ctx context.Context, action task.Action) (task.StepResult, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, action task.Action) (task.StepResult, error) {
	return f(ctx, action)
}

// DefaultClarifyAttempts is how many times a malformed reply is re-asked.
const DefaultClarifyAttempts = 1

// DefaultRecallLimit is how many past experiences are recalled per thought.
const DefaultRecallLimit = 3

// Config configures an Orchestrator. Only Reasoning is required.
type Config struct {
	Reasoning reasoning.Collaborator
	Knowledge knowledge.Store
	Mistakes  knowledge.MistakeStore
	Recall    knowledge.Recaller

	// RecallLimit caps recalled entries per thought prompt. Zero uses DefaultRecallLimit.
	RecallLimit int

	// ClarifyAttempts re-asks after a contract violation. Zero uses the
	// default; negative disables re-asking.
	ClarifyAttempts int

	// RetryDelay is waited between attempts of the same step.
	RetryDelay time.Duration

	Logger *logging.Logger
}

// Orchestrator runs ReAct cycles and owns the per-step cycle history.
type Orchestrator struct {
	reasoning reasoning.Collaborator
	knowledge knowledge.Store
	mistakes  knowledge.MistakeStore
	recall    knowledge.Recaller
	limit     int
	clarify   int
	delay     time.Duration
	defaults  Defaults
	logger    *logging.Logger

	mu      sync.Mutex
	history map[string][]*task.ReActCycle
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	clarify := cfg.ClarifyAttempts
	switch {
	case clarify == 0:
		clarify = DefaultClarifyAttempts
	case clarify < 0:
		clarify = 0
	}
	limit := cfg.RecallLimit
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New().WithComponent("react")
	}
	return &Orchestrator{
		reasoning: cfg.Reasoning,
		knowledge: cfg.Knowledge,
		mistakes:  cfg.Mistakes,
		recall:    cfg.Recall,
		limit:     limit,
		clarify:   clarify,
		delay:     cfg.RetryDelay,
		logger:    logger,
		history:   make(map[string][]*task.ReActCycle),
	}
}

// Attempts returns how many cycles a step may run: max(1, maxRetries).
func Attempts(step *task.Step) int {
	if step.MaxRetries < 1 {
		return 1
	}
	return step.MaxRetries
}

// ExecuteReActCycle runs cycles for step until one succeeds, reflection
// declines a retry, or the budget is spent. It returns the final cycle and
// never fails: reasoning faults fall back to defaults and action errors
// become failed results.
func (o *Orchestrator) ExecuteReActCycle(ctx context.Context, step *task.Step, t *task.Task, exec ActionExecutor) *task.ReActCycle {
	attempts := Attempts(step)
	taskID := ""
	if t != nil {
		taskID = t.ID
	}

	for attempt := 1; ; attempt++ {
		cycle := o.runCycle(ctx, t, step, exec, attempt, attempts)
		o.appendHistory(cycle)

		if cycle.Result.Success {
			o.offerKnowledge(ctx, taskID, step, cycle)
			return cycle
		}
		if !cycle.Reflection.ShouldRetry || attempt >= attempts {
			return cycle
		}

		step.RetryCount++
		o.logMistake(ctx, taskID, step, cycle)
		o.logger.Info("retrying step", map[string]interface{}{
			"step":       step.ID,
			"attempt":    attempt + 1,
			"attempts":   attempts,
			"root_cause": cycle.Reflection.RootCause,
		})

		if !o.wait(ctx) {
			return cycle
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context) bool {
	if o.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(o.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) runCycle(ctx context.Context, t *task.Task, step *task.Step, exec ActionExecutor, attempt, attempts int) *task.ReActCycle {
	start := time.Now()
	previous := o.GetCycleHistory(step.ID)

	cycle := &task.ReActCycle{
		ID:     uuid.New().String(),
		StepID: step.ID,
		Number: len(previous) + 1,
		Action: step.Action,
	}

	cycle.Thought = o.think(ctx, t, step, previous, attempt, attempts)

	phaseStart := time.Now()
	o.logger.PhaseStart("ACTION", step.Title, step.ID)
	cycle.Result = runAction(ctx, exec, step.Action)
	cycle.ActionTime = time.Since(phaseStart)
	o.logger.PhaseComplete("ACTION", step.Title, step.ID, cycle.ActionTime, outcome(cycle.Result.Success))

	cycle.Observation = o.observe(ctx, step, cycle.Thought, cycle.Result)
	cycle.Reflection = o.reflect(ctx, step, cycle.Thought, cycle.Observation, cycle.Result, attempt, attempts)
	cycle.Duration = time.Since(start)
	return cycle
}

// runAction calls the executor, turning errors and panics into failed results.
func runAction(ctx context.Context, exec ActionExecutor, action task.Action) (result task.StepResult) {
	if exec == nil {
		return task.StepResult{Success: false, Message: "no action executor configured"}
	}
	defer func() {
		if r := recover(); r != nil {
			result = task.StepResult{Success: false, Message: fmt.Sprintf("action panicked: %v", r)}
		}
	}()

	res, err := exec.Execute(ctx, action)
	if err != nil {
		res.Success = false
		if res.Message == "" {
			res.Message = err.Error()
		} else {
			res.Message = res.Message + ": " + err.Error()
		}
	}
	return res
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (o *Orchestrator) think(ctx context.Context, t *task.Task, step *task.Step, previous []*task.ReActCycle, attempt, attempts int) task.Thought {
	start := time.Now()
	o.logger.PhaseStart("THOUGHT", step.Title, step.ID)

	recalled := o.recallFor(ctx, step)
	prompt := buildThoughtPrompt(t, step, previous, recalled, attempt, attempts)

	var reply thoughtReply
	if err := o.ask(ctx, "thought", prompt, thoughtKeys, &reply); err != nil {
		o.fallback("THOUGHT", step, err)
		o.logger.PhaseComplete("THOUGHT", step.Title, step.ID, time.Since(start), "default")
		return o.defaults.Thought(step)
	}

	th := task.Thought{
		Reasoning:       reply.Reasoning,
		Approach:        reply.Approach,
		Alternatives:    reply.Alternatives,
		Confidence:      clampConfidence(reply.Confidence),
		Risks:           reply.Risks,
		ExpectedOutcome: reply.ExpectedOutcome,
		Timestamp:       time.Now(),
	}
	if th.Approach == "" {
		th.Approach = step.Action.Type
	}
	o.logger.PhaseComplete("THOUGHT", step.Title, step.ID, time.Since(start), fmt.Sprintf("confidence=%d", th.Confidence))
	return th
}

func (o *Orchestrator) observe(ctx context.Context, step *task.Step, thought task.Thought, result task.StepResult) task.Observation {
	start := time.Now()
	o.logger.PhaseStart("OBSERVATION", step.Title, step.ID)

	var reply observationReply
	if err := o.ask(ctx, "observation", buildObservationPrompt(step, thought, result), observationKeys, &reply); err != nil {
		o.fallback("OBSERVATION", step, err)
		o.logger.PhaseComplete("OBSERVATION", step.Title, step.ID, time.Since(start), "default")
		return o.defaults.Observation(result)
	}

	obs := task.Observation{
		ActualOutcome: reply.ActualOutcome,
		Success:       result.Success,
		Differences:   reply.Differences,
		Learnings:     reply.Learnings,
		Unexpected:    reply.Unexpected,
		Timestamp:     time.Now(),
	}
	if obs.ActualOutcome == "" {
		obs.ActualOutcome = result.Message
	}
	o.logger.PhaseComplete("OBSERVATION", step.Title, step.ID, time.Since(start), outcome(obs.Success))
	return obs
}

func (o *Orchestrator) reflect(ctx context.Context, step *task.Step, thought task.Thought, obs task.Observation, result task.StepResult, attempt, attempts int) task.Reflection {
	start := time.Now()
	o.logger.PhaseStart("REFLECTION", step.Title, step.ID)
	budgetLeft := attempt < attempts

	var reply reflectionReply
	if err := o.ask(ctx, "reflection", buildReflectionPrompt(step, thought, obs, attempt, attempts), reflectionKeys, &reply); err != nil {
		o.fallback("REFLECTION", step, err)
		ref := o.defaults.Reflection(result, budgetLeft)
		o.logger.PhaseComplete("REFLECTION", step.Title, step.ID, time.Since(start), fmt.Sprintf("default retry=%v", ref.ShouldRetry))
		return ref
	}

	ref := task.Reflection{
		WhatWorked:      reply.WhatWorked,
		WhatFailed:      reply.WhatFailed,
		RootCause:       reply.RootCause,
		ShouldRetry:     reply.ShouldRetry && !result.Success && budgetLeft,
		Changes:         reply.Changes,
		KnowledgeGained: reply.KnowledgeGained,
		Timestamp:       time.Now(),
	}
	if !result.Success && ref.RootCause == "" {
		ref.RootCause = result.Message
	}
	o.logger.PhaseComplete("REFLECTION", step.Title, step.ID, time.Since(start), fmt.Sprintf("retry=%v", ref.ShouldRetry))
	return ref
}

// ask sends prompt and decodes the reply under the phase contract. A contract
// violation is re-asked with a clarifying prompt; a call error is not. A
// panicking collaborator is reported as an error.
func (o *Orchestrator) ask(ctx context.Context, phase, prompt string, required []string, out interface{}) (err error) {
	if o.reasoning == nil {
		return fmt.Errorf("no reasoning collaborator configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reasoning collaborator panicked during %s: %v", phase, r)
		}
	}()

	current := prompt
	var lastErr error
	for try := 0; try <= o.clarify; try++ {
		reply, err := o.reasoning.SendContextualMessage(ctx, current)
		if err != nil {
			return err
		}
		if reply == nil {
			lastErr = &ParseError{Phase: phase}
		} else if lastErr = decodeStrict(phase, reply.Content, required, out); lastErr == nil {
			return nil
		}
		current = buildClarifyPrompt(prompt, lastErr)
	}
	return lastErr
}

func (o *Orchestrator) fallback(phase string, step *task.Step, err error) {
	o.logger.Warn("reasoning fallback", map[string]interface{}{
		"phase": phase,
		"step":  step.ID,
		"error": err.Error(),
	})
}

func (o *Orchestrator) recallFor(ctx context.Context, step *task.Step) []knowledge.Hit {
	if o.recall == nil {
		return nil
	}
	query := strings.Join([]string{step.Action.Type, step.Title, step.Description}, " ")
	hits, err := o.recall.Recall(ctx, query, o.limit)
	if err != nil {
		o.logger.Warn("knowledge recall failed", map[string]interface{}{"step": step.ID, "error": err.Error()})
		return nil
	}
	return hits
}

func (o *Orchestrator) offerKnowledge(ctx context.Context, taskID string, step *task.Step, cycle *task.ReActCycle) {
	if o.knowledge == nil {
		return
	}
	summary := cycle.Reflection.KnowledgeGained
	if summary == "" {
		summary = fmt.Sprintf("%s succeeded for %q", step.Action.Type, step.Title)
	}
	err := o.knowledge.AddKnowledge(ctx, knowledge.Entry{
		TaskID:     taskID,
		StepID:     step.ID,
		ActionType: step.Action.Type,
		Approach:   cycle.Thought.Approach,
		Summary:    summary,
		Learnings:  cycle.Observation.Learnings,
	})
	if err != nil {
		o.logger.Warn("failed to record knowledge", map[string]interface{}{"step": step.ID, "error": err.Error()})
	}
}

func (o *Orchestrator) logMistake(ctx context.Context, taskID string, step *task.Step, cycle *task.ReActCycle) {
	if o.mistakes == nil {
		return
	}
	err := o.mistakes.LogMistake(ctx, knowledge.Mistake{
		TaskID:     taskID,
		StepID:     step.ID,
		ActionType: step.Action.Type,
		Attempt:    cycle.Number,
		Approach:   cycle.Thought.Approach,
		Error:      cycle.Result.Message,
		RootCause:  cycle.Reflection.RootCause,
		Changes:    cycle.Reflection.Changes,
	})
	if err != nil {
		o.logger.Warn("failed to record mistake", map[string]interface{}{"step": step.ID, "error": err.Error()})
	}
}

func (o *Orchestrator) appendHistory(cycle *task.ReActCycle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history[cycle.StepID] = append(o.history[cycle.StepID], cycle)
}

// GetCycleHistory returns the cycles recorded for a step, oldest first.
func (o *Orchestrator) GetCycleHistory(stepID string) []*task.ReActCycle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*task.ReActCycle(nil), o.history[stepID]...)
}

// ClearStepHistory forgets the cycles for one step.
func (o *Orchestrator) ClearStepHistory(stepID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.history, stepID)
}

// ResetAllHistory forgets every step's cycles.
func (o *Orchestrator) ResetAllHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = make(map[string][]*task.ReActCycle)
}
