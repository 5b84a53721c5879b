package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/checkpoint"
	"github.com/vinayprograms/taskrunner/internal/config"
	"github.com/vinayprograms/taskrunner/internal/engine"
	"github.com/vinayprograms/taskrunner/internal/events"
	"github.com/vinayprograms/taskrunner/internal/plan"
	"github.com/vinayprograms/taskrunner/internal/registry"
	"github.com/vinayprograms/taskrunner/internal/task"
)

// shutdownTimeout bounds how long submit waits for stopped tasks.
const shutdownTimeout = 30 * time.Second

// Run executes the plan in the foreground.
func (c *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	c.apply(cfg)

	t, err := plan.Load(c.Plan)
	if err != nil {
		return err
	}
	ws, err := c.workspace(t)
	if err != nil {
		return err
	}
	if err := plan.Normalize(t, cfg.Engine.DefaultMaxRetries); err != nil {
		return err
	}
	t.Workspace = ws

	return runForeground(cfg, t, ws, c.ShowCycles)
}

// runForeground executes t in this process and reports failure as an error.
func runForeground(cfg *config.Config, t *task.Task, ws string, showCycles bool) error {
	rt := newRuntime(cfg, globalCreds, ws, os.Stdout)
	if err := rt.setup(); err != nil {
		rt.close()
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := rt.newEngine()
	go interruptHandler(ctx, rt.out, eng, cancel)

	var approver *consoleApprover
	if cfg.Approval.Prompt && !cfg.Engine.AutoApprove && isTerminal(os.Stdin) {
		approver = newConsoleApprover(os.Stdin, rt.out)
	}

	out, err := executeTask(ctx, rt, eng, t, approver, showCycles)
	if err != nil {
		return err
	}
	if out.Status != task.StatusCompleted {
		return fmt.Errorf("task %s (resume with: taskrunner resume %s)", out.Status, out.ID)
	}
	return nil
}

// Run continues a checkpointed task from its first unfinished step.
func (c *ResumeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	if c.AutoApprove {
		cfg.Engine.AutoApprove = true
	}
	store, err := checkpoint.NewStore(cfg.CheckpointPath())
	if err != nil {
		return err
	}
	t, err := store.Load(c.Task)
	if err != nil {
		return err
	}
	if checkpoint.PrepareResume(t) == 0 {
		fmt.Println(successStyle.Render("nothing to resume: every step already finished"))
		return nil
	}
	ws := c.Workspace
	if ws == "" {
		ws = t.Workspace
	}
	if ws == "" {
		return fmt.Errorf("checkpoint has no workspace, pass --workspace")
	}
	return runForeground(cfg, t, ws, c.ShowCycles)
}

func (c *RunCmd) apply(cfg *config.Config) {
	if c.MaxRetries > 0 {
		cfg.Engine.DefaultMaxRetries = c.MaxRetries
	}
	if c.DryRun {
		cfg.Engine.DryRun = true
	}
	if c.AutoApprove {
		cfg.Engine.AutoApprove = true
	}
}

func (c *RunCmd) workspace(t *task.Task) (string, error) {
	ws := c.Workspace
	if ws == "" {
		ws = t.Workspace
	}
	if ws == "" {
		ws = filepath.Dir(c.Plan)
	}
	return filepath.Abs(ws)
}

// interruptHandler stops the engine at the next step boundary on the first
// signal and aborts in-flight calls on the second.
func interruptHandler(ctx context.Context, out io.Writer, eng *engine.Engine, abort context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		fmt.Fprintln(out, warnStyle.Render("stopping after the current step (interrupt again to abort)"))
		eng.Stop()
	case <-ctx.Done():
		return
	}
	select {
	case <-sigs:
		abort()
	case <-ctx.Done():
	}
}

// executeTask runs t on eng, printing progress to rt.out.
func executeTask(ctx context.Context, rt *runtime, eng *engine.Engine, t *task.Task, approver *consoleApprover, showCycles bool) (*task.Task, error) {
	w := rt.out
	printCycles := func(step *task.Step) {
		if !showCycles {
			return
		}
		for _, c := range eng.Cycles().GetCycleHistory(step.ID) {
			printCycle(w, c)
		}
	}

	save := func() {
		if rt.checkpoints == nil {
			return
		}
		if err := rt.checkpoints.Save(t); err != nil {
			rt.logger.Warn("failed to save checkpoint", map[string]interface{}{"task": t.ID, "error": err.Error()})
		}
	}

	cb := engine.Callbacks{
		OnStepStatusChange: func(*task.Step) { save() },
		OnStepStart: func(step *task.Step) {
			fmt.Fprintf(w, "%s %2d. %s %s\n", stepIcon(task.StepInProgress), step.Order, step.Title, dimStyle.Render("("+step.Action.Type+")"))
		},
		OnStepComplete: func(step *task.Step, cycle *task.ReActCycle) {
			fmt.Fprintln(w, renderStep(step))
			printCycles(step)
		},
		OnStepError: func(step *task.Step, err error) {
			fmt.Fprintln(w, renderStep(step))
			printCycles(step)
		},
	}
	if approver != nil {
		cb.OnStepApprovalRequired = approver.Decide
	} else if rt.inbox != nil {
		rt.broker.OnRequest(func(req task.ApprovalRequest) {
			fmt.Fprintln(w, renderApproval(req.StepID, req))
			fmt.Fprintf(w, "waiting for: taskrunner approve %s %s [--reject]\n", req.TaskID, req.StepID)
		})
	}

	fmt.Fprintf(w, "%s %s %s\n", titleStyle.Render("Running"), dimStyle.Render(t.ID), t.Request)
	out, err := eng.ExecuteTask(ctx, t, cb)
	if err != nil {
		return nil, err
	}
	save()
	printTaskSummary(w, out)
	return out, nil
}

// Run submits every plan to the background registry and waits for all of them.
func (c *SubmitCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	if c.Concurrency > 0 {
		cfg.Registry.MaxConcurrent = c.Concurrency
	}
	if c.DryRun {
		cfg.Engine.DryRun = true
	}
	if c.AutoApprove {
		cfg.Engine.AutoApprove = true
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	ws := c.Workspace
	if ws == "" {
		ws = cwd
	}
	if ws, err = filepath.Abs(ws); err != nil {
		return err
	}

	rt := newRuntime(cfg, globalCreds, ws, os.Stdout)
	if err := rt.setup(); err != nil {
		rt.close()
		return err
	}
	defer rt.close()

	reg, err := registry.New(registry.Config{
		Planner:           plan.FilePlanner{Dir: cwd},
		NewEngine:         rt.newEngine,
		MaxConcurrent:     cfg.Registry.MaxConcurrent,
		DefaultMaxRetries: cfg.Engine.DefaultMaxRetries,
		Publisher:         rt.publisher,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Approval.Prompt && !cfg.Engine.AutoApprove && isTerminal(os.Stdin) {
		go newConsoleApprover(os.Stdin, rt.out).Serve(ctx, rt.broker)
	}

	feed := rt.publisher.Subscribe(events.AllTasks)
	go printEvents(ctx, rt.out, feed)

	ids, err := submitPlans(ctx, reg, c.Plans, ws, c.Priority)
	if err != nil {
		return err
	}
	failed := waitAll(ctx, rt.out, reg, ids)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reg.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(ids))
	}
	return nil
}

func submitPlans(ctx context.Context, reg *registry.Registry, plans []string, ws string, priority int) ([]string, error) {
	var ids []string
	for _, p := range plans {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ids, err
		}
		id, err := reg.Submit(ctx, registry.SubmitRequest{
			Kind:      "plan",
			Request:   abs,
			Workspace: ws,
			Options:   registry.Options{Priority: priority},
		})
		if err != nil {
			return ids, fmt.Errorf("submitting %s: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// waitAll waits for every task and prints its final state. It returns how
// many did not complete.
func waitAll(ctx context.Context, w io.Writer, reg *registry.Registry, ids []string) int {
	failed := 0
	for _, id := range ids {
		st, err := reg.Wait(ctx, id)
		if err != nil || st.State != registry.StateCompleted {
			failed++
		}
		if err != nil {
			continue
		}
		printRegistryStatus(w, st)
	}
	return failed
}

func printEvents(ctx context.Context, w io.Writer, feed <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-feed:
			if !ok {
				return
			}
			line := fmt.Sprintf("%s %s %s", dimStyle.Render(e.Time.Format("15:04:05")), dimStyle.Render(shortID(e.TaskID)), e.Type)
			if e.StepID != "" {
				line += " " + e.StepID
			}
			fmt.Fprintln(w, line)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run writes a decision file into the approval inbox.
func (c *ApproveCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	path, err := approval.WriteDecision(cfg.InboxPath(), approval.DecisionFile{
		TaskID:   c.Task,
		StepID:   c.Step,
		Approved: !c.Reject,
		Reason:   c.Reason,
	})
	if err != nil {
		return fmt.Errorf("writing decision: %w", err)
	}
	verdict := successStyle.Render("approved")
	if c.Reject {
		verdict = errorStyle.Render("rejected")
	}
	fmt.Printf("%s %s/%s %s\n", verdict, c.Task, c.Step, dimStyle.Render(path))
	return nil
}

// Run loads and validates the plan, then prints it.
func (c *ValidateCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	t, err := plan.Load(c.Plan)
	if err != nil {
		return err
	}
	if err := plan.Normalize(t, cfg.Engine.DefaultMaxRetries); err != nil {
		return err
	}
	printPlan(os.Stdout, t)
	fmt.Println(successStyle.Render("✓ plan is valid"))
	return nil
}

// Run prints results recorded for a task, or the list of recorded tasks.
func (c *HistoryCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	store, err := openResultStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Task == "" {
		ids, err := store.Tasks()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	render := func() (string, error) {
		recs, err := store.List(c.Task)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		printHistory(&b, c.Task, recs)
		return b.String(), nil
	}

	if c.Follow {
		watch := resultsPath(cfg, c.Task)
		if watch == "" {
			return errors.New("--follow needs a file or sqlite results store")
		}
		return runPager("taskrunner history "+c.Task, render, watch)
	}

	recs, err := store.List(c.Task)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.New("no results recorded for " + c.Task)
	}
	if c.Pager && isTerminal(os.Stdout) {
		return runPager("taskrunner history "+c.Task, render, "")
	}
	printHistory(os.Stdout, c.Task, recs)
	return nil
}

// Run prints version information.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("taskrunner %s (commit %s, built %s)\n", version, commit, buildTime)
	return nil
}
