package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIProvider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client *openai.Client
}

func NewOpenAIProvider(config *core.LLMConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(config.APIKey))

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		config: config,
		logger: logger,
		client: &client,
	}, nil
}

func (o *OpenAIProvider) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	ctx, cancel := callContext(ctx, o.config, req)
	defer cancel()

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Model:       o.model(),
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return nil, core.WrapError(core.KindRetryable, "llm",
			fmt.Errorf("OpenAI API call failed: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, core.WrapError(core.KindSchemaViolation, "llm",
			fmt.Errorf("no response from OpenAI"))
	}

	completion := &core.Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	completion.CostUSD = cost(o.config, completion.PromptTokens, completion.CompletionTokens)

	logCompletion(o.logger, "openai", completion, time.Since(start))
	return completion, nil
}

func (o *OpenAIProvider) model() shared.ChatModel {
	if o.config.Model != "" {
		return o.config.Model
	}
	return defaultOpenAIModel
}
