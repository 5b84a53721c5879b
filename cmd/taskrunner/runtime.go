package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/taskrunner/internal/actions"
	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/checkpoint"
	"github.com/vinayprograms/taskrunner/internal/config"
	"github.com/vinayprograms/taskrunner/internal/engine"
	"github.com/vinayprograms/taskrunner/internal/events"
	"github.com/vinayprograms/taskrunner/internal/knowledge"
	"github.com/vinayprograms/taskrunner/internal/react"
	"github.com/vinayprograms/taskrunner/internal/reasoning"
	"github.com/vinayprograms/taskrunner/internal/results"
	"github.com/vinayprograms/taskrunner/internal/task"
)

// knowledgeBackend is what both knowledge stores provide.
type knowledgeBackend interface {
	knowledge.Store
	knowledge.MistakeStore
	knowledge.Recaller
}

// runtime holds everything a command needs to execute tasks.
type runtime struct {
	cfg       *config.Config
	creds     *credentials.Credentials
	workspace string
	out       io.Writer
	logger    *logging.Logger

	provider    llm.Provider
	telem       telemetry.Exporter
	results     results.Store
	knowledge   knowledgeBackend
	publisher   events.Publisher
	broker      *approval.Broker
	inbox       *approval.Inbox
	actions     *actions.Registry
	checkpoints *checkpoint.Store

	stopInbox context.CancelFunc
}

// newRuntime creates a runtime; call setup before use.
func newRuntime(cfg *config.Config, creds *credentials.Credentials, workspace string, out io.Writer) *runtime {
	if out == nil {
		out = os.Stdout
	}
	return &runtime{
		cfg:       cfg,
		creds:     creds,
		workspace: workspace,
		out:       out,
		logger:    logging.New().WithComponent("runtime"),
	}
}

// setup creates all runtime components.
func (rt *runtime) setup() error {
	if err := rt.createProvider(); err != nil {
		return err
	}
	if err := rt.createTelemetry(); err != nil {
		return err
	}
	if err := rt.openResults(); err != nil {
		return err
	}
	if err := rt.openKnowledge(); err != nil {
		return err
	}
	if err := rt.openEvents(); err != nil {
		return err
	}
	if err := rt.createApprovals(); err != nil {
		return err
	}
	rt.createActions()
	return rt.openCheckpoints()
}

// createProvider creates the reasoning LLM provider. Without a configured
// model, cycles run on default reasoning.
func (rt *runtime) createProvider() error {
	llmProvider := rt.cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if llmProvider == "" && rt.cfg.LLM.Model == "" {
		rt.logger.Warn("LLM model not configured, using default reasoning", nil)
		return nil
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:    llmProvider,
		Model:       rt.cfg.LLM.Model,
		APIKey:      rt.apiKey(llmProvider),
		MaxTokens:   rt.cfg.LLM.MaxTokens,
		BaseURL:     rt.cfg.LLM.BaseURL,
		Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(rt.cfg.LLM.Thinking)},
		RetryConfig: parseRetryConfig(rt.cfg.LLM.MaxRetries, rt.cfg.LLM.RetryBackoff),
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// apiKey prefers the credentials file over the environment.
func (rt *runtime) apiKey(provider string) string {
	if rt.creds != nil {
		if key := rt.creds.GetAPIKey(provider); key != "" {
			return key
		}
	}
	return rt.cfg.GetAPIKey()
}

// parseRetryConfig converts config values to RetryConfig.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	cfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			cfg.MaxBackoff = d
		}
	}
	return cfg
}

func (rt *runtime) createTelemetry() error {
	if !rt.cfg.Telemetry.Enabled {
		rt.telem = telemetry.NewNoopExporter()
		return nil
	}
	var err error
	rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("creating telemetry exporter: %w", err)
	}
	return nil
}

func (rt *runtime) openResults() error {
	store, err := openResultStore(rt.cfg)
	if err != nil {
		return err
	}
	rt.results = store
	return nil
}

// openResultStore opens the configured step result store.
func openResultStore(cfg *config.Config) (results.Store, error) {
	base := cfg.StoragePath()
	switch cfg.Storage.Results {
	case "memory":
		return results.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(base, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		return results.NewSQLiteStore(resultsPath(cfg, ""))
	default:
		return results.NewFileStore(filepath.Join(base, "results"))
	}
}

// resultsPath returns the file that receives taskID's records, or "" for the
// memory store.
func resultsPath(cfg *config.Config, taskID string) string {
	base := cfg.StoragePath()
	switch cfg.Storage.Results {
	case "sqlite":
		return filepath.Join(base, "results.db")
	case "file":
		return filepath.Join(base, "results", taskID+".jsonl")
	}
	return ""
}

func (rt *runtime) openKnowledge() error {
	if !rt.cfg.Knowledge.Enabled {
		return nil
	}
	if rt.cfg.Knowledge.Backend == "memory" {
		rt.knowledge = knowledge.NewMemoryStore()
		return nil
	}
	store, err := knowledge.NewBleveStore(filepath.Join(rt.cfg.StoragePath(), "knowledge"))
	if err != nil {
		return err
	}
	rt.knowledge = store
	return nil
}

func (rt *runtime) openEvents() error {
	if rt.cfg.Events.Backend != "nats" {
		rt.publisher = events.NewMemoryPublisher()
		return nil
	}
	pub, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           rt.cfg.Events.NATSURL,
		SubjectPrefix: rt.cfg.Events.SubjectPrefix,
		Name:          "taskrunner",
	})
	if err != nil {
		return err
	}
	rt.publisher = pub
	return nil
}

func (rt *runtime) createApprovals() error {
	rt.broker = approval.NewBroker()
	if rt.cfg.Engine.AutoApprove {
		broker := rt.broker
		broker.OnRequest(func(req task.ApprovalRequest) {
			go broker.Resolve(req.TaskID, req.StepID, true, "auto-approved")
		})
		return nil
	}

	inbox, err := approval.NewInbox(rt.cfg.InboxPath(), rt.broker)
	if err != nil {
		return err
	}
	rt.inbox = inbox

	ctx, cancel := context.WithCancel(context.Background())
	rt.stopInbox = cancel
	go func() {
		if err := inbox.Run(ctx); err != nil {
			rt.logger.Warn("approval inbox stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

func (rt *runtime) openCheckpoints() error {
	store, err := checkpoint.NewStore(rt.cfg.CheckpointPath())
	if err != nil {
		return err
	}
	rt.checkpoints = store
	return nil
}

func (rt *runtime) createActions() {
	rt.actions = actions.NewRegistry(actions.WithDryRun(rt.cfg.Engine.DryRun))
	actions.RegisterBuiltins(rt.actions, actions.Workspace{Root: rt.workspace})
}

// collaborator returns the reasoning collaborator, or nil without a provider.
func (rt *runtime) collaborator() reasoning.Collaborator {
	if rt.provider == nil {
		return nil
	}
	opts := []reasoning.Option{reasoning.WithTimeout(rt.cfg.ReasoningTimeout())}
	if rt.cfg.Reasoning.SystemPrompt != "" {
		opts = append(opts, reasoning.WithSystemPrompt(rt.cfg.Reasoning.SystemPrompt))
	}
	return reasoning.NewProviderCollaborator(rt.provider, opts...)
}

// newEngine builds an engine with its own orchestrator.
func (rt *runtime) newEngine() *engine.Engine {
	cycles := react.Config{
		Reasoning:       rt.collaborator(),
		ClarifyAttempts: rt.cfg.Reasoning.ClarifyAttempts,
		RetryDelay:      rt.cfg.RetryDelay(),
		RecallLimit:     rt.cfg.Knowledge.Limit,
	}
	if rt.knowledge != nil {
		cycles.Knowledge = rt.knowledge
		cycles.Mistakes = rt.knowledge
		cycles.Recall = rt.knowledge
	}
	return engine.New(engine.Config{
		Cycles:        react.New(cycles),
		Actions:       rt.actions,
		Results:       rt.results,
		Approvals:     rt.broker,
		Publisher:     rt.publisher,
		RetainHistory: rt.cfg.Engine.RetainHistory,
	})
}

// close releases runtime resources.
func (rt *runtime) close() {
	if rt.stopInbox != nil {
		rt.stopInbox()
	}
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	if c, ok := rt.knowledge.(io.Closer); ok {
		c.Close()
	}
	if rt.results != nil {
		rt.results.Close()
	}
	if rt.telem != nil {
		rt.telem.Close()
	}
}
