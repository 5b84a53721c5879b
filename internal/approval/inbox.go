package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// DecisionFile is the on-disk form of an approval decision dropped into the inbox.
type DecisionFile struct {
	TaskID   string `json:"task_id"`
	StepID   string `json:"step_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Inbox resolves broker requests from decision files written into a directory.
// Files are consumed (removed) once they resolve a pending request.
type Inbox struct {
	dir    string
	broker *Broker
	logger *logging.Logger
	rescan chan struct{}
}

// NewInbox creates the inbox directory if needed and attaches it to broker.
func NewInbox(dir string, broker *Broker) (*Inbox, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create approval inbox: %w", err)
	}
	in := &Inbox{
		dir:    dir,
		broker: broker,
		logger: logging.New().WithComponent("approval-inbox"),
		rescan: make(chan struct{}, 1),
	}
	// A decision may already be waiting when the request arrives.
	broker.OnRequest(func(task.ApprovalRequest) { in.notify() })
	return in, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Run watches the inbox until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}

	in.Scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-in.rescan:
			in.Scan()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if isDecisionFile(event.Name) {
				in.consume(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("inbox watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Scan applies every decision file currently in the inbox.
func (in *Inbox) Scan() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("failed to read inbox", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if isDecisionFile(path) {
			in.consume(path)
		}
	}
}

func (in *Inbox) notify() {
	select {
	case in.rescan <- struct{}{}:
	default:
	}
}

// consume resolves the request named by path. Files for steps that are not
// pending yet are left in place for a later scan.
func (in *Inbox) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var d DecisionFile
	if err := json.Unmarshal(data, &d); err != nil {
		in.logger.Warn("ignoring malformed decision file", map[string]interface{}{
			"file":  filepath.Base(path),
			"error": err.Error(),
		})
		return
	}
	if !in.broker.IsPending(d.TaskID, d.StepID) {
		return
	}
	if err := in.broker.Resolve(d.TaskID, d.StepID, d.Approved, d.Reason); err != nil {
		return
	}
	os.Remove(path)
}

func isDecisionFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}

// WriteDecision atomically drops a decision file into dir.
func WriteDecision(dir string, d DecisionFile) (string, error) {
	if d.TaskID == "" || d.StepID == "" {
		return "", fmt.Errorf("task id and step id are required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}

	name := sanitize(d.TaskID) + "_" + sanitize(d.StepID) + ".json"
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return final, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, s)
}
