package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/task"
)

// consoleApprover asks the user on the terminal. Prompts are serialised so
// concurrent tasks never interleave their questions.
type consoleApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsoleApprover(in io.Reader, out io.Writer) *consoleApprover {
	return &consoleApprover{in: bufio.NewReader(in), out: out}
}

// Decide is the engine callback form.
func (c *consoleApprover) Decide(ctx context.Context, step *task.Step, req task.ApprovalRequest) (bool, error) {
	approved, _, err := c.ask(ctx, step.Title, req)
	return approved, err
}

// Serve answers broker requests until ctx is done.
func (c *consoleApprover) Serve(ctx context.Context, broker *approval.Broker) {
	requests := make(chan task.ApprovalRequest, 16)
	broker.OnRequest(func(req task.ApprovalRequest) {
		select {
		case requests <- req:
		case <-ctx.Done():
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			if !broker.IsPending(req.TaskID, req.StepID) {
				continue
			}
			approved, reason, err := c.ask(ctx, req.StepID, req)
			if err != nil {
				return
			}
			err = broker.Resolve(req.TaskID, req.StepID, approved, reason)
			if err != nil && !errors.Is(err, approval.ErrNoPending) {
				fmt.Fprintf(c.out, "approval not recorded: %v\n", err)
			}
		}
	}
}

func (c *consoleApprover) ask(ctx context.Context, title string, req task.ApprovalRequest) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, renderApproval(title, req))
	fmt.Fprint(c.out, "Approve? [y/N] ")

	type line struct {
		text string
		err  error
	}
	answer := make(chan line, 1)
	go func() {
		s, err := c.in.ReadString('\n')
		answer <- line{s, err}
	}()

	select {
	case <-ctx.Done():
		return false, "", ctx.Err()
	case a := <-answer:
		if a.err != nil && a.text == "" {
			return false, "", fmt.Errorf("reading approval: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.text)) {
		case "y", "yes":
			return true, "", nil
		}
		return false, "declined at console", nil
	}
}
