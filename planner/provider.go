package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/cartpry/pentestorch/features/model/middleware"
	"github.com/cartpry/pentestorch/runtime/agent/model"
	"github.com/cartpry/pentestorch/telemetry"
)

// wrapClient layers the adaptive rate limiter and the gateway logging
// instrumentation around a provider's raw model.Client, in that order: the
// limiter throttles before a call is even logged as attempted. A nil limiter
// or logger skips that layer.
func wrapClient(name string, client model.Client, limiter *middleware.AdaptiveRateLimiter, logger telemetry.Logger) model.Client {
	if limiter != nil {
		client = limiter.Middleware()(client)
	}
	if logger != nil {
		client = instrument(name, client, logger)
	}
	return client
}

// Provider is the thin text-in/text-out collaborator interface the planner
// needs (spec.md §6 "Large-language-model provider ... input is the
// assembled prompt; output is a text block containing a JSON object"). It
// is implemented by adapting a full runtime/agent/model.Client so the
// planner can sit on top of the teacher's Anthropic, OpenAI, and Bedrock
// adapters without depending on their richer streaming/tool-call surface.
type Provider interface {
	// Name identifies the provider for decision-log metadata.
	Name() string
	// Complete sends systemPrompt + userPrompt and returns the raw
	// response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// clientProvider adapts a model.Client into a Provider using a single
// system + user message turn.
type clientProvider struct {
	name   string
	client model.Client
	model  string
	class  model.ModelClass
}

// NewClientProvider wraps client as a Provider labeled name, using the given
// default model identifier or class.
func NewClientProvider(name string, client model.Client, modelID string, class model.ModelClass) Provider {
	return &clientProvider{name: name, client: client, model: modelID, class: class}
}

func (p *clientProvider) Name() string { return p.name }

func (p *clientProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := &model.Request{
		Model:      p.model,
		ModelClass: p.class,
		MaxTokens:  4096,
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: systemPrompt}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: userPrompt}}},
		},
	}
	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	var text string
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				text += tp.Text
			}
		}
	}
	if text == "" {
		return "", fmt.Errorf("%s: empty response", p.name)
	}
	return text, nil
}

// TimeoutProvider wraps a Provider with a hard request deadline (spec.md §6
// "Latency is bounded by a configurable timeout (default 30s)").
type TimeoutProvider struct {
	Provider
	Timeout time.Duration
}

// Complete enforces Timeout around the wrapped Provider's call.
func (t TimeoutProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Provider.Complete(ctx, systemPrompt, userPrompt)
}

// Chain tries providers in order, falling through to the next on error.
// This backs SPEC_FULL.md's primary/backup fallback chain, layered above
// the deterministic fallback strategy that fires when every provider in
// the chain fails.
type Chain struct {
	Providers []Provider
}

// Name identifies the chain by its primary provider.
func (c Chain) Name() string {
	if len(c.Providers) == 0 {
		return "none"
	}
	return c.Providers[0].Name()
}

// Complete tries each provider in order, returning the first success.
func (c Chain) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for _, p := range c.Providers {
		text, err := p.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return "", lastErr
}
