package planner

import (
	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cartpry/pentestorch/features/model/anthropic"
	"github.com/cartpry/pentestorch/features/model/middleware"
	"github.com/cartpry/pentestorch/telemetry"
)

// NewAnthropicProvider builds a Provider backed by the Anthropic Claude
// Messages API (spec.md SPEC_FULL §3 domain stack: anthropic-sdk-go).
// limiter enforces every Strategy's mandated "rate limit all requests"
// safety consideration (spec.md §4.3) at the provider boundary; pass nil to
// run unthrottled. logger records per-call latency and outcome; pass nil to
// skip that layer.
func NewAnthropicProvider(apiKey, defaultModel string, limiter *middleware.AdaptiveRateLimiter, logger telemetry.Logger) (Provider, error) {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	adapted, err := anthropic.New(&client.Messages, anthropic.Options{
		DefaultModel: defaultModel,
		MaxTokens:    4096,
		Temperature:  0.2,
	})
	if err != nil {
		return nil, err
	}
	return NewClientProvider("anthropic", wrapClient("anthropic", adapted, limiter, logger), "", ""), nil
}
