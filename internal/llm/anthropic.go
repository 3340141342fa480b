package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicProvider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *anthropic.Client
}

func NewAnthropicProvider(config *core.LLMConfig, logger *zap.Logger) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (a *AnthropicProvider) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	ctx, cancel := callContext(ctx, a.config, req)
	defer cancel()

	model := a.config.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		System: []anthropic.TextBlockParam{{
			Type: "text",
			Text: req.System,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	})
	if err != nil {
		return nil, core.WrapError(core.KindRetryable, "llm",
			fmt.Errorf("Anthropic API call failed: %w", err))
	}

	if len(message.Content) == 0 {
		return nil, core.WrapError(core.KindSchemaViolation, "llm",
			fmt.Errorf("no response from Anthropic"))
	}

	completion := &core.Completion{
		Text:             message.Content[0].Text,
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	completion.CostUSD = cost(a.config, completion.PromptTokens, completion.CompletionTokens)

	logCompletion(a.logger, "anthropic", completion, time.Since(start))
	return completion, nil
}
