// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" type:"path" help:"Config file path (default ./taskrunner.toml)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Run a plan in the foreground"`
	Resume   ResumeCmd   `cmd:"" help:"Continue an interrupted task from its checkpoint"`
	Submit   SubmitCmd   `cmd:"" help:"Run plans in the background and wait for them"`
	Approve  ApproveCmd  `cmd:"" help:"Approve or reject a step waiting in the inbox"`
	Validate ValidateCmd `cmd:"" help:"Validate a plan file"`
	History  HistoryCmd  `cmd:"" help:"Show recorded step results"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd executes one plan and blocks until it finishes.
type RunCmd struct {
	Plan        string `arg:"" type:"existingfile" help:"Plan file (YAML or JSON)"`
	Workspace   string `short:"w" type:"path" help:"Workspace directory (default: plan workspace or plan directory)"`
	MaxRetries  int    `help:"Default retry budget for steps that set none"`
	DryRun      bool   `help:"Skip every action instead of running it"`
	AutoApprove bool   `help:"Approve risky steps without asking"`
	ShowCycles  bool   `help:"Print every reasoning cycle"`
}

// ResumeCmd reruns the unfinished steps of a checkpointed task.
type ResumeCmd struct {
	Task        string `arg:"" help:"Task id"`
	Workspace   string `short:"w" type:"path" help:"Workspace directory (default: the task's workspace)"`
	AutoApprove bool   `help:"Approve risky steps without asking"`
	ShowCycles  bool   `help:"Print every reasoning cycle"`
}

// SubmitCmd hands plans to the background registry.
type SubmitCmd struct {
	Plans       []string `arg:"" type:"existingfile" help:"Plan files"`
	Workspace   string   `short:"w" type:"path" help:"Workspace directory (default: current directory)"`
	Priority    int      `short:"p" help:"Priority for every submitted plan"`
	Concurrency int      `help:"Maximum tasks running at once (overrides config)"`
	DryRun      bool     `help:"Skip every action instead of running it"`
	AutoApprove bool     `help:"Approve risky steps without asking"`
}

// ApproveCmd drops a decision file into the approval inbox.
type ApproveCmd struct {
	Task   string `arg:"" help:"Task id"`
	Step   string `arg:"" help:"Step id"`
	Reject bool   `help:"Reject instead of approving"`
	Reason string `help:"Reason recorded with the decision"`
}

// ValidateCmd checks a plan without running it.
type ValidateCmd struct {
	Plan string `arg:"" type:"existingfile" help:"Plan file"`
}

// HistoryCmd prints stored results.
type HistoryCmd struct {
	Task   string `arg:"" optional:"" help:"Task id (omit to list tasks)"`
	Pager  bool   `help:"Browse the history in an interactive pager"`
	Follow bool   `short:"f" help:"Keep the pager open and reload as results arrive"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
