// Package events fans out task lifecycle events to subscribers.
package events

import (
	"sync"
	"time"
)

// AllTasks subscribes to events for every task.
const AllTasks = "*"

// Type names a lifecycle transition.
type Type string

const (
	TaskQueued       Type = "task.queued"
	TaskPlanning     Type = "task.planning"
	TaskStarted      Type = "task.started"
	TaskPaused       Type = "task.paused"
	TaskResumed      Type = "task.resumed"
	TaskCompleted    Type = "task.completed"
	TaskFailed       Type = "task.failed"
	TaskCancelled    Type = "task.cancelled"
	StepStarted      Type = "step.started"
	StepCompleted    Type = "step.completed"
	StepFailed       Type = "step.failed"
	ApprovalRequired Type = "step.approval_required"
	ProgressUpdated  Type = "task.progress"
)

// Event is one lifecycle notification.
type Event struct {
	Type   Type                   `json:"type"`
	TaskID string                 `json:"task_id"`
	StepID string                 `json:"step_id,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Time   time.Time              `json:"time"`
}

// New builds an event stamped with the current time.
func New(typ Type, taskID string, data map[string]interface{}) Event {
	return Event{Type: typ, TaskID: taskID, Data: data, Time: time.Now()}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(e Event)
	Subscribe(taskID string) <-chan Event
	Unsubscribe(taskID string, ch <-chan Event)
	Close()
}

// MemoryPublisher delivers events in process. Slow subscribers miss events
// rather than block publishers.
type MemoryPublisher struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	buffer int
	closed bool
}

// Option configures a MemoryPublisher.
type Option func(*MemoryPublisher)

// WithBuffer sets each subscriber channel's capacity.
func WithBuffer(n int) Option {
	return func(p *MemoryPublisher) { p.buffer = n }
}

// NewMemoryPublisher creates an in-process publisher.
func NewMemoryPublisher(opts ...Option) *MemoryPublisher {
	p := &MemoryPublisher{subs: make(map[string][]chan Event), buffer: 64}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends e to subscribers of its task and to AllTasks subscribers.
func (p *MemoryPublisher) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	deliver(p.subs[e.TaskID], e)
	if e.TaskID != AllTasks {
		deliver(p.subs[AllTasks], e)
	}
}

func deliver(chans []chan Event, e Event) {
	for _, ch := range chans {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel receiving events for taskID.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Event, p.buffer)
	if p.closed {
		close(ch)
		return ch
	}
	p.subs[taskID] = append(p.subs[taskID], ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.subs[taskID]
	for i, c := range list {
		if c == ch {
			close(c)
			p.subs[taskID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.subs[taskID]) == 0 {
		delete(p.subs, taskID)
	}
}

// Close closes every subscription. Later publishes are dropped.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, list := range p.subs {
		for _, c := range list {
			close(c)
		}
		delete(p.subs, id)
	}
}

// Subscribers returns the number of subscriptions for taskID.
func (p *MemoryPublisher) Subscribers(taskID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[taskID])
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (Nop) Unsubscribe(string, <-chan Event) {}

func (Nop) Close() {}
