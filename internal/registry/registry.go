// Package registry runs submitted tasks in the background, each on its own engine.
package registry

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"golang.org/x/sync/semaphore"

	"github.com/vinayprograms/taskrunner/internal/engine"
	"github.com/vinayprograms/taskrunner/internal/events"
	"github.com/vinayprograms/taskrunner/internal/plan"
	"github.com/vinayprograms/taskrunner/internal/task"
)

// DefaultMaxConcurrent bounds running tasks when the config leaves it unset.
const DefaultMaxConcurrent = 4

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("task not found")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("registry is shut down")
	// ErrInvalidState is returned when a control does not apply to the task's state.
	ErrInvalidState = errors.New("invalid task state")
)

// State is the lifecycle state of a background task.
type State string

const (
	StateQueued    State = "queued"
	StatePlanning  State = "planning"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the task has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Options tune how a submission is scheduled.
type Options struct {
	// Priority admits higher values first. Equal priorities run in submission order.
	Priority int
}

// SubmitRequest describes work to plan and run.
type SubmitRequest struct {
	Kind      string
	Request   string
	Workspace string
	Context   map[string]string
	Options   Options
}

// Status is a point-in-time view of a background task.
type Status struct {
	ID             string
	Kind           string
	Request        string
	State          State
	Priority       int
	Task           *task.Task // nil until planned
	CompletedSteps int
	TotalSteps     int
	Error          string
	SubmittedAt    time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
}

// EngineFactory builds a fresh engine for one task.
type EngineFactory func() *engine.Engine

// Config wires a registry.
type Config struct {
	Planner           plan.Planner
	NewEngine         EngineFactory
	MaxConcurrent     int
	DefaultMaxRetries int
	Publisher         events.Publisher
	Logger            *logging.Logger
}

type entry struct {
	id       string
	req      plan.Request
	priority int
	seq      uint64
	index    int

	state     State
	snapshot  *task.Task
	err       string
	submitted time.Time
	started   time.Time
	finished  time.Time

	engine          *engine.Engine
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// Registry accepts tasks and supervises their execution.
type Registry struct {
	planner    plan.Planner
	newEngine  EngineFactory
	maxRetries int
	publisher  events.Publisher
	logger     *logging.Logger
	sem        *semaphore.Weighted

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	waiting queue
	seq     uint64
	closed  bool
}

// New creates a registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.NewEngine == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	retries := cfg.DefaultMaxRetries
	if retries <= 0 {
		retries = plan.DefaultMaxRetries
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New().WithComponent("registry")
	}

	base, stop := context.WithCancel(context.Background())
	return &Registry{
		planner:    cfg.Planner,
		newEngine:  cfg.NewEngine,
		maxRetries: retries,
		publisher:  pub,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(limit)),
		base:       base,
		stopBase:   stop,
		entries:    make(map[string]*entry),
	}, nil
}

// Submit queues a request and returns its task id without waiting for it to run.
func (r *Registry) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.seq++
	e := &entry{
		id: uuid.New().String(),
		req: plan.Request{
			Kind:      req.Kind,
			Request:   req.Request,
			Workspace: req.Workspace,
			Context:   req.Context,
		},
		priority:  req.Options.Priority,
		seq:       r.seq,
		state:     StateQueued,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
	r.entries[e.id] = e
	heap.Push(&r.waiting, e)
	r.mu.Unlock()

	r.logger.Info("task submitted", map[string]interface{}{
		"task":     e.id,
		"kind":     req.Kind,
		"priority": req.Options.Priority,
	})
	r.publisher.Publish(events.New(events.TaskQueued, e.id, map[string]interface{}{
		"kind":     req.Kind,
		"priority": req.Options.Priority,
	}))

	r.dispatch()
	return e.id, nil
}

// dispatch admits waiting tasks while capacity allows.
func (r *Registry) dispatch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.waiting.Len() > 0 && !r.closed {
		if !r.sem.TryAcquire(1) {
			return
		}
		e := heap.Pop(&r.waiting).(*entry)
		ctx, cancel := context.WithCancel(r.base)
		e.cancel = cancel
		e.state = StatePlanning
		e.started = time.Now()
		r.wg.Add(1)
		go r.run(ctx, e)
	}
}

func (r *Registry) run(ctx context.Context, e *entry) {
	defer r.wg.Done()
	defer func() {
		r.sem.Release(1)
		r.dispatch()
	}()

	r.publisher.Publish(events.New(events.TaskPlanning, e.id, nil))
	t, err := r.planner.Plan(ctx, e.req)
	if err == nil && t == nil {
		err = fmt.Errorf("planner returned no task")
	}
	if err == nil {
		t.ID = e.id
		err = plan.Normalize(t, r.maxRetries)
	}
	if err != nil {
		if ctx.Err() != nil {
			r.finish(e, StateCancelled, t, fmt.Errorf("%w: %v", engine.ErrCancelled, err))
			return
		}
		r.finish(e, StateFailed, t, fmt.Errorf("planning failed: %w", err))
		return
	}

	eng := r.newEngine()
	r.mu.Lock()
	if e.cancelRequested {
		r.mu.Unlock()
		r.finish(e, StateCancelled, t, engine.ErrCancelled)
		return
	}
	e.engine = eng
	e.state = StateRunning
	e.snapshot = t.Clone()
	r.mu.Unlock()

	r.publisher.Publish(events.New(events.TaskStarted, e.id, map[string]interface{}{
		"steps": len(t.Steps),
	}))

	refresh := func() {
		snap := t.Clone()
		r.mu.Lock()
		e.snapshot = snap
		r.mu.Unlock()
	}
	out, err := eng.ExecuteTask(ctx, t, engine.Callbacks{
		OnStepStatusChange: func(*task.Step) { refresh() },
		OnTaskProgress:     func(int, int) { refresh() },
	})
	if err != nil {
		r.finish(e, StateFailed, t, err)
		return
	}

	switch out.Status {
	case task.StatusCompleted:
		r.finish(e, StateCompleted, out, nil)
	case task.StatusCancelled:
		r.finish(e, StateCancelled, out, errors.New(out.Error))
	default:
		r.finish(e, StateFailed, out, errors.New(out.Error))
	}
}

func (r *Registry) finish(e *entry, state State, t *task.Task, err error) {
	r.mu.Lock()
	if e.state.Terminal() {
		r.mu.Unlock()
		return
	}
	e.state = state
	if t != nil {
		e.snapshot = t.Clone()
	}
	if err != nil {
		e.err = err.Error()
	}
	e.finished = time.Now()
	e.engine = nil
	cancel := e.cancel
	r.mu.Unlock()

	defer close(e.done)
	if cancel != nil {
		cancel()
	}

	fields := map[string]interface{}{"task": e.id, "state": string(state)}
	data := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
		data["error"] = err.Error()
	}
	typ := events.TaskCompleted
	switch state {
	case StateFailed:
		typ = events.TaskFailed
		r.logger.Warn("task finished", fields)
	case StateCancelled:
		typ = events.TaskCancelled
		r.logger.Info("task finished", fields)
	default:
		r.logger.Info("task finished", fields)
	}
	r.publisher.Publish(events.New(typ, e.id, data))
}

// Status returns a snapshot of the task.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

// status must be called with r.mu held.
func (e *entry) status() Status {
	s := Status{
		ID:          e.id,
		Kind:        e.req.Kind,
		Request:     e.req.Request,
		State:       e.state,
		Priority:    e.priority,
		Error:       e.err,
		SubmittedAt: e.submitted,
		StartedAt:   e.started,
		FinishedAt:  e.finished,
	}
	if e.snapshot != nil {
		s.Task = e.snapshot.Clone()
		s.CompletedSteps = e.snapshot.CompletedSteps
		s.TotalSteps = len(e.snapshot.Steps)
	}
	return s
}

// List returns every known task in submission order.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]Status, len(all))
	for i, e := range all {
		out[i] = e.status()
	}
	return out
}

// Cancel removes a queued task or stops a running one at its next step boundary.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	switch e.state {
	case StateQueued:
		r.waiting.remove(e)
		r.mu.Unlock()
		r.finish(e, StateCancelled, nil, engine.ErrCancelled)
		return nil
	case StatePlanning:
		e.cancelRequested = true
		cancel := e.cancel
		r.mu.Unlock()
		cancel()
		return nil
	case StateRunning, StatePaused:
		eng := e.engine
		r.mu.Unlock()
		eng.Stop()
		r.logger.Info("cancel requested", map[string]interface{}{"task": id})
		return nil
	}
	r.mu.Unlock()
	return fmt.Errorf("%w: task %s is %s", ErrInvalidState, id, e.state)
}

// Pause holds a running task at its next step boundary.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.state != StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrInvalidState, id, e.state)
	}
	e.state = StatePaused
	eng := e.engine
	r.mu.Unlock()

	eng.Pause()
	r.publisher.Publish(events.New(events.TaskPaused, id, nil))
	return nil
}

// Resume releases a paused task.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.state != StatePaused {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrInvalidState, id, e.state)
	}
	e.state = StateRunning
	eng := e.engine
	r.mu.Unlock()

	eng.Resume()
	r.publisher.Publish(events.New(events.TaskResumed, id, nil))
	return nil
}

// Wait blocks until the task finishes or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (Status, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return Status{}, ErrNotFound
	}

	select {
	case <-e.done:
		st, _ := r.Status(id)
		return st, nil
	case <-ctx.Done():
		st, _ := r.Status(id)
		return st, ctx.Err()
	}
}

// Shutdown refuses new work, cancels everything outstanding and waits for
// running tasks to stop. If ctx expires first, in-flight calls are interrupted
// and Shutdown returns without waiting further.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var queued []*entry
	for r.waiting.Len() > 0 {
		queued = append(queued, heap.Pop(&r.waiting).(*entry))
	}
	var engines []*engine.Engine
	var cancels []context.CancelFunc
	for _, e := range r.entries {
		switch e.state {
		case StatePlanning:
			e.cancelRequested = true
			cancels = append(cancels, e.cancel)
		case StateRunning, StatePaused:
			engines = append(engines, e.engine)
		}
	}
	r.mu.Unlock()

	for _, e := range queued {
		r.finish(e, StateCancelled, nil, engine.ErrCancelled)
	}
	for _, cancel := range cancels {
		cancel()
	}
	for _, eng := range engines {
		eng.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.stopBase()
		return nil
	case <-ctx.Done():
		r.stopBase()
		return ctx.Err()
	}
}
