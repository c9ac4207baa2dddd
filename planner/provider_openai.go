package planner

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cartpry/pentestorch/features/model/middleware"
	"github.com/cartpry/pentestorch/runtime/agent/model"
	"github.com/cartpry/pentestorch/telemetry"
)

// openAIClient implements model.Client on top of the official OpenAI Go SDK
// Chat Completions API. It mirrors the structure of the teacher's Anthropic
// and Bedrock adapters (features/model/anthropic, features/model/bedrock):
// a thin struct wrapping the SDK's message service, translating the
// provider-agnostic model.Request/Response shapes one text turn at a time.
// Streaming and tool calls are not needed by the planner and are left
// unimplemented.
type openAIClient struct {
	chat         openaisdk.ChatCompletionService
	defaultModel string
}

// NewOpenAIProvider builds a Provider backed by the OpenAI Chat Completions
// API (SPEC_FULL §3 domain stack: openai-go). limiter and logger are
// applied the same way as NewAnthropicProvider's.
func NewOpenAIProvider(apiKey, defaultModel string, limiter *middleware.AdaptiveRateLimiter, logger telemetry.Logger) (Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai default model is required")
	}
	client := openaisdk.NewClient(option.WithAPIKey(apiKey))
	adapted := &openAIClient{chat: client.Chat.Completions, defaultModel: defaultModel}
	return NewClientProvider("openai", wrapClient("openai", adapted, limiter, logger), "", ""), nil
}

func (c *openAIClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := flattenText(m)
		switch m.Role {
		case model.ConversationRoleSystem:
			messages = append(messages, openaisdk.SystemMessage(text))
		case model.ConversationRoleAssistant:
			messages = append(messages, openaisdk.AssistantMessage(text))
		default:
			messages = append(messages, openaisdk.UserMessage(text))
		}
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}
	out := &model.Response{
		Content: []model.Message{{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: resp.Choices[0].Message.Content}},
		}},
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(resp.Choices[0].FinishReason),
	}
	return out, nil
}

func (c *openAIClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func flattenText(m *model.Message) string {
	var out string
	for _, part := range m.Parts {
		if tp, ok := part.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
