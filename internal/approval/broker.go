package approval

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/taskrunner/internal/task"
)

var (
	// ErrNoPending is returned when resolving a request that is not waiting.
	ErrNoPending = errors.New("no pending approval")
	// ErrDuplicate is returned when a step already has a pending request.
	ErrDuplicate = errors.New("approval already pending")
)

// Decision resolves an approval request.
type Decision struct {
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type pendingEntry struct {
	req task.ApprovalRequest
	ch  chan Decision
}

// Broker holds approval requests until an external caller resolves them.
// Each request gets its own buffered channel; resolution is a single send.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]*pendingEntry
	listeners []func(task.ApprovalRequest)
	logger    *logging.Logger
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		pending: make(map[string]*pendingEntry),
		logger:  logging.New().WithComponent("approval"),
	}
}

func key(taskID, stepID string) string {
	return taskID + "/" + stepID
}

// OnRequest registers fn to be called whenever a new request is registered.
func (b *Broker) OnRequest(fn func(task.ApprovalRequest)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Request registers req and returns the channel its decision will be delivered on.
func (b *Broker) Request(req task.ApprovalRequest) (<-chan Decision, error) {
	k := key(req.TaskID, req.StepID)

	b.mu.Lock()
	if _, ok := b.pending[k]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s step %s", ErrDuplicate, req.TaskID, req.StepID)
	}
	entry := &pendingEntry{req: req, ch: make(chan Decision, 1)}
	b.pending[k] = entry
	listeners := append([]func(task.ApprovalRequest){}, b.listeners...)
	b.mu.Unlock()

	b.logger.Info("approval requested", map[string]interface{}{
		"task": req.TaskID,
		"step": req.StepID,
		"risk": string(req.Impact.RiskLevel),
	})
	for _, fn := range listeners {
		fn(req)
	}
	return entry.ch, nil
}

// Resolve delivers a decision to the waiting request.
func (b *Broker) Resolve(taskID, stepID string, approved bool, reason string) error {
	k := key(taskID, stepID)

	b.mu.Lock()
	entry, ok := b.pending[k]
	if ok {
		delete(b.pending, k)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: task %s step %s", ErrNoPending, taskID, stepID)
	}

	entry.ch <- Decision{Approved: approved, Reason: reason, ResolvedAt: time.Now()}
	b.logger.Info("approval resolved", map[string]interface{}{
		"task":     taskID,
		"step":     stepID,
		"approved": approved,
	})
	return nil
}

// Withdraw drops a pending request without delivering a decision.
func (b *Broker) Withdraw(taskID, stepID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key(taskID, stepID))
}

// Pending returns the outstanding requests, oldest first.
func (b *Broker) Pending() []task.ApprovalRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]task.ApprovalRequest, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsPending reports whether a step is waiting for a decision.
func (b *Broker) IsPending(taskID, stepID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key(taskID, stepID)]
	return ok
}
