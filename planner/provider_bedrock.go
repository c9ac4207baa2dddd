package planner

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/cartpry/pentestorch/features/model/bedrock"
	"github.com/cartpry/pentestorch/features/model/middleware"
	"github.com/cartpry/pentestorch/telemetry"
)

// NewBedrockProvider builds a Provider backed by the AWS Bedrock Converse
// API, loading credentials from the default AWS configuration chain
// (SPEC_FULL §3 domain stack: aws-sdk-go-v2/bedrockruntime). limiter and
// logger are applied the same way as NewAnthropicProvider's.
func NewBedrockProvider(ctx context.Context, defaultModel string, limiter *middleware.AdaptiveRateLimiter, logger telemetry.Logger) (Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	runtime := bedrockruntime.NewFromConfig(cfg)
	adapted, err := bedrock.New(runtime, bedrock.Options{DefaultModel: defaultModel}, nil)
	if err != nil {
		return nil, err
	}
	return NewClientProvider("bedrock", wrapClient("bedrock", adapted, limiter, logger), "", ""), nil
}
