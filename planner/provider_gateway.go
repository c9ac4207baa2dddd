package planner

import (
	"context"
	"time"

	"github.com/cartpry/pentestorch/features/model/gateway"
	"github.com/cartpry/pentestorch/runtime/agent/model"
	"github.com/cartpry/pentestorch/telemetry"
)

// instrument wraps client in a gateway.Server configured with a unary
// logging middleware, then adapts the Server back into a model.Client for
// NewClientProvider. This is the teacher's composable request-handler
// pattern (features/model/gateway) applied to every planner provider so
// each LLM call is logged the same way regardless of which provider served
// it.
func instrument(name string, client model.Client, logger telemetry.Logger) model.Client {
	srv, err := gateway.NewServer(
		gateway.WithProvider(client),
		gateway.WithUnary(loggingMiddleware(name, logger)),
	)
	if err != nil {
		// WithProvider was supplied above, so ErrProviderRequired cannot
		// occur; fall back to the unwrapped client rather than panic.
		return client
	}
	return &gatewayClient{name: name, server: srv}
}

// loggingMiddleware logs the latency and outcome of every unary completion.
func loggingMiddleware(name string, logger telemetry.Logger) gateway.UnaryMiddleware {
	return func(next gateway.UnaryHandler) gateway.UnaryHandler {
		return func(ctx context.Context, req *model.Request) (*model.Response, error) {
			started := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn(ctx, "planner completion failed", "provider", name, "elapsed", time.Since(started), "error", err)
				return resp, err
			}
			logger.Debug(ctx, "planner completion", "provider", name, "elapsed", time.Since(started), "inputTokens", resp.Usage.InputTokens, "outputTokens", resp.Usage.OutputTokens)
			return resp, err
		}
	}
}

// gatewayClient adapts a *gateway.Server back into a model.Client. The
// gateway's Stream method uses a send-callback shape incompatible with
// model.Streamer; the planner never streams, so Stream reports
// ErrStreamingUnsupported.
type gatewayClient struct {
	name   string
	server *gateway.Server
}

func (c *gatewayClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.server.Complete(ctx, req)
}

func (c *gatewayClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}
