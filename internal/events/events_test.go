package events

import (
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryPublisher_TaskAndGlobal(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	taskCh := p.Subscribe("t1")
	allCh := p.Subscribe(AllTasks)
	otherCh := p.Subscribe("t2")

	p.Publish(New(TaskStarted, "t1", nil))

	if e := receive(t, taskCh); e.Type != TaskStarted {
		t.Errorf("task subscriber got %s", e.Type)
	}
	if e := receive(t, allCh); e.TaskID != "t1" {
		t.Errorf("global subscriber got %+v", e)
	}
	select {
	case e := <-otherCh:
		t.Errorf("unrelated subscriber received %+v", e)
	default:
	}
}

func TestMemoryPublisher_NonBlocking(t *testing.T) {
	p := NewMemoryPublisher(WithBuffer(1))
	defer p.Close()
	ch := p.Subscribe("t")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(New(ProgressUpdated, "t", map[string]interface{}{"i": i}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if e := receive(t, ch); e.Data["i"] != 0 {
		t.Errorf("expected first event to be kept, got %v", e.Data)
	}
}

func TestMemoryPublisher_UnsubscribeAndClose(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe("t")
	p.Unsubscribe("t", ch)
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if p.Subscribers("t") != 0 {
		t.Error("subscription not removed")
	}

	ch2 := p.Subscribe("t")
	p.Close()
	if _, ok := <-ch2; ok {
		t.Error("close should close subscriptions")
	}
	p.Publish(New(TaskFailed, "t", nil))

	if _, ok := <-p.Subscribe("t"); ok {
		t.Error("subscribe after close should return a closed channel")
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Type: TaskCompleted, TaskID: "abc"}, "taskrunner.events.abc.task.completed"},
		{Event{Type: StepStarted, TaskID: "a.b c"}, "taskrunner.events.a_b_c.step.started"},
		{Event{Type: TaskQueued}, "taskrunner.events._.task.queued"},
	}
	for _, tt := range tests {
		if got := Subject(DefaultSubjectPrefix, tt.event); got != tt.want {
			t.Errorf("Subject(%+v) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	e := New(StepFailed, "t1", map[string]interface{}{"error": "disk full"})
	e.StepID = "s2"

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"step.failed"`) {
		t.Errorf("unexpected wire form: %s", data)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.StepID != "s2" || got.Data["error"] != "disk full" {
		t.Errorf("decoded %+v", got)
	}
}

func TestNATSPublisher_LocalDeliveryWithoutConnection(t *testing.T) {
	p := newNATSPublisher(nil, "")
	defer p.Close()

	ch := p.Subscribe("t")
	p.Publish(New(TaskCancelled, "t", nil))
	if e := receive(t, ch); e.Type != TaskCancelled {
		t.Errorf("got %s", e.Type)
	}
}
