// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file looked up by LoadDefault.
const DefaultFile = "taskrunner.toml"

// Config represents the taskrunner configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	Engine    EngineConfig    `toml:"engine"`
	Registry  RegistryConfig  `toml:"registry"`
	Storage   StorageConfig   `toml:"storage"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Events    EventsConfig    `toml:"events"`
	Approval  ApprovalConfig  `toml:"approval"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	Thinking     string `toml:"thinking"`      // Thinking level: auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`   // Provider-level retry attempts
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (e.g. "60s")
}

// ReasoningConfig bounds calls to the reasoning model.
type ReasoningConfig struct {
	Timeout         string `toml:"timeout"`          // Per-call wall clock (default "60s", "0" disables)
	ClarifyAttempts int    `toml:"clarify_attempts"` // Re-asks after a malformed reply (default 1, -1 disables)
	SystemPrompt    string `toml:"system_prompt"`    // Overrides the built-in system prompt
}

// EngineConfig tunes step execution.
type EngineConfig struct {
	DefaultMaxRetries int    `toml:"default_max_retries"` // Applied to steps without a budget
	RetryDelay        string `toml:"retry_delay"`         // Pause between attempts of one step
	RetainHistory     bool   `toml:"retain_history"`      // Keep cycle history after a step completes
	DryRun            bool   `toml:"dry_run"`             // Skip every action instead of running it
	AutoApprove       bool   `toml:"auto_approve"`        // Approve risky steps without asking
}

// RegistryConfig tunes background execution.
type RegistryConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

// StorageConfig selects the step result store.
type StorageConfig struct {
	Path    string `toml:"path"`    // Base directory for all persistent data
	Results string `toml:"results"` // memory | file | sqlite
}

// KnowledgeConfig selects the knowledge and mistake store.
type KnowledgeConfig struct {
	Enabled bool   `toml:"enabled"`
	Backend string `toml:"backend"` // memory | bleve
	Limit   int    `toml:"limit"`   // Recalled entries per prompt
}

// EventsConfig selects where lifecycle events go.
type EventsConfig struct {
	Backend       string `toml:"backend"` // memory | nats
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// ApprovalConfig controls how risky steps are confirmed.
type ApprovalConfig struct {
	Inbox  string `toml:"inbox"`  // Directory watched for decision files
	Prompt bool   `toml:"prompt"` // Ask on the console when attached to a terminal
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // otlp, file, noop
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Reasoning: ReasoningConfig{
			Timeout:         "60s",
			ClarifyAttempts: 1,
		},
		Engine: EngineConfig{
			DefaultMaxRetries: 3,
		},
		Registry: RegistryConfig{
			MaxConcurrent: 4,
		},
		Storage: StorageConfig{
			Path:    "~/.local/taskrunner",
			Results: "file",
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			Backend: "bleve",
			Limit:   3,
		},
		Events: EventsConfig{
			Backend:       "memory",
			SubjectPrefix: "taskrunner.events",
		},
		Approval: ApprovalConfig{
			Prompt: true,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads taskrunner.toml from the current directory, falling back
// to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks enumerated and duration fields.
func (c *Config) Validate() error {
	if _, err := parseDuration(c.Reasoning.Timeout); err != nil {
		return fmt.Errorf("reasoning.timeout: %w", err)
	}
	if _, err := parseDuration(c.Engine.RetryDelay); err != nil {
		return fmt.Errorf("engine.retry_delay: %w", err)
	}
	if err := oneOf("storage.results", c.Storage.Results, "memory", "file", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("knowledge.backend", c.Knowledge.Backend, "memory", "bleve"); err != nil {
		return err
	}
	if err := oneOf("events.backend", c.Events.Backend, "memory", "nats"); err != nil {
		return err
	}
	if c.Events.Backend == "nats" && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required for the nats backend")
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return fmt.Errorf("engine.default_max_retries must not be negative")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// ReasoningTimeout returns the per-call budget. Zero means unbounded.
func (c *Config) ReasoningTimeout() time.Duration {
	d, _ := parseDuration(c.Reasoning.Timeout)
	return d
}

// RetryDelay returns the pause between attempts of a step.
func (c *Config) RetryDelay() time.Duration {
	d, _ := parseDuration(c.Engine.RetryDelay)
	return d
}

// StoragePath returns the storage directory with a leading ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Storage.Path)
}

// InboxPath returns the approval inbox, defaulting to <storage>/inbox.
func (c *Config) InboxPath() string {
	if c.Approval.Inbox != "" {
		return ExpandHome(c.Approval.Inbox)
	}
	return filepath.Join(c.StoragePath(), "inbox")
}

// CheckpointPath returns the directory holding task snapshots.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.StoragePath(), "checkpoints")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
