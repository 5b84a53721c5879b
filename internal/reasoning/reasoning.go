// Package reasoning adapts a language model to the text-in/text-out contract used by the ReAct cycle.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// DefaultTimeout bounds a single reasoning call.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when a call exceeds its wall-clock budget.
var ErrTimeout = errors.New("reasoning call timed out")

// Reply is the collaborator's response.
type Reply struct {
	Content string
}

// Collaborator answers a prompt with free text expected to contain one JSON object.
type Collaborator interface {
	SendContextualMessage(ctx context.Context, prompt string) (*Reply, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, prompt string) (*Reply, error)

// SendContextualMessage calls f.
func (f CollaboratorFunc) SendContextualMessage(ctx context.Context, prompt string) (*Reply, error) {
	return f(ctx, prompt)
}

// ChatProvider is the subset of llm.Provider used here.
type ChatProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ProviderCollaborator sends prompts to an agentkit provider.
type ProviderCollaborator struct {
	provider     ChatProvider
	systemPrompt string
	timeout      time.Duration
	logger       *logging.Logger
}

// Option configures a ProviderCollaborator.
type Option func(*ProviderCollaborator)

// WithTimeout sets the per-call budget. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *ProviderCollaborator) { p.timeout = d }
}

// WithSystemPrompt overrides the system message.
func WithSystemPrompt(s string) Option {
	return func(p *ProviderCollaborator) { p.systemPrompt = s }
}

// NewProviderCollaborator wraps provider.
func NewProviderCollaborator(provider ChatProvider, opts ...Option) *ProviderCollaborator {
	p := &ProviderCollaborator{
		provider:     provider,
		systemPrompt: SystemPrompt,
		timeout:      DefaultTimeout,
		logger:       logging.New().WithComponent("reasoning"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SendContextualMessage sends prompt as a user message and returns the reply text.
func (p *ProviderCollaborator) SendContextualMessage(ctx context.Context, prompt string) (*Reply, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("no reasoning provider configured")
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.provider.Chat(callCtx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: p.systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			p.logger.Warn("reasoning call timed out", map[string]interface{}{
				"timeout": p.timeout.String(),
			})
			return nil, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
		}
		return nil, fmt.Errorf("reasoning LLM error: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("reasoning LLM returned no response")
	}

	p.logger.Debug("reasoning call complete", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
		"chars":       len(resp.Content),
	})
	return &Reply{Content: resp.Content}, nil
}

// SystemPrompt frames every reasoning call.
const SystemPrompt = `You are the reasoning component of an autonomous task executor.
You think before each action, observe its result, and reflect on what to do next.
Always answer with exactly one JSON object using the keys you are asked for. No prose outside the JSON.`
