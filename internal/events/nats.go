package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// DefaultSubjectPrefix roots every published subject.
const DefaultSubjectPrefix = "taskrunner.events"

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSPublisher forwards events to a NATS subject tree and to local subscribers.
// Subjects are <prefix>.<task>.<type>, so "prefix.*.task.completed" or "prefix.<task>.>"
// select by type or by task.
type NATSPublisher struct {
	local  *MemoryPublisher
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewNATSPublisher connects to the server at cfg.URL.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "taskrunner"
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return newNATSPublisher(conn, cfg.SubjectPrefix), nil
}

func newNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		local:  NewMemoryPublisher(),
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logging.New().WithComponent("events"),
	}
}

// Subject returns the subject an event is published on.
func Subject(prefix string, e Event) string {
	return prefix + "." + token(e.TaskID) + "." + string(e.Type)
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Encode serialises an event for the wire.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire event.
func Decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publish delivers locally and forwards to NATS. Wire failures are logged.
func (p *NATSPublisher) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.local.Publish(e)

	if p.conn == nil {
		return
	}
	data, err := Encode(e)
	if err != nil {
		p.logger.Warn("failed to encode event", map[string]interface{}{"type": string(e.Type), "error": err.Error()})
		return
	}
	if err := p.conn.Publish(Subject(p.prefix, e), data); err != nil {
		p.logger.Warn("failed to publish event", map[string]interface{}{"type": string(e.Type), "error": err.Error()})
	}
}

// Subscribe returns local events for taskID.
func (p *NATSPublisher) Subscribe(taskID string) <-chan Event {
	return p.local.Subscribe(taskID)
}

// Unsubscribe removes a local subscription.
func (p *NATSPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.local.Unsubscribe(taskID, ch)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	p.local.Close()
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
