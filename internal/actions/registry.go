// Package actions dispatches step actions to registered handlers.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// ErrUnknownAction is returned for action types with no handler.
var ErrUnknownAction = errors.New("unknown action type")

// Handler performs one kind of action.
type Handler interface {
	Execute(ctx context.Context, params map[string]interface{}) (task.StepResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (task.StepResult, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, params map[string]interface{}) (task.StepResult, error) {
	return f(ctx, params)
}

// Registry maps action types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	dryRun   bool
	logger   *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDryRun reports every known action as successful without running it.
func WithDryRun(enabled bool) Option {
	return func(r *Registry) { r.dryRun = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   logging.New().WithComponent("actions"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a handler to an action type, replacing any previous one.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Types lists the registered action types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Has reports whether actionType has a handler.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Execute runs the handler for action.Type.
func (r *Registry) Execute(ctx context.Context, action task.Action) (task.StepResult, error) {
	r.mu.RLock()
	h, ok := r.handlers[action.Type]
	dry := r.dryRun
	r.mu.RUnlock()

	if !ok {
		return task.StepResult{Success: false, Message: fmt.Sprintf("no handler for %q", action.Type)},
			fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}
	if dry {
		r.logger.Info("dry run", map[string]interface{}{"action": action.String()})
		return task.StepResult{Success: true, Message: "dry run: " + action.String(), Skipped: true}, nil
	}
	return h.Execute(ctx, action.Params)
}
