package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

// New builds the configured LLM provider. The "none" provider returns nil so
// callers run their deterministic fallbacks without attempting calls.
func New(config *core.LLMConfig, logger *zap.Logger) (core.LLMProvider, error) {
	switch config.Provider {
	case "openai":
		return NewOpenAIProvider(config, logger)
	case "anthropic":
		return NewAnthropicProvider(config, logger)
	case "ollama":
		return NewOllamaProvider(config, logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}

// cost converts token counts to USD using the configured per-million rates.
func cost(config *core.LLMConfig, promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*config.InputCostPerMTok +
		float64(completionTokens)/1e6*config.OutputCostPerMTok
}

// callContext applies the request timeout, preferring the per-request value.
func callContext(ctx context.Context, config *core.LLMConfig, req core.CompletionRequest) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = config.CallTimeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func logCompletion(logger *zap.Logger, provider string, completion *core.Completion, elapsed time.Duration) {
	logger.Debug("completion finished",
		zap.String("provider", provider),
		zap.Int("prompt_tokens", completion.PromptTokens),
		zap.Int("completion_tokens", completion.CompletionTokens),
		zap.Float64("cost_usd", completion.CostUSD),
		zap.Duration("elapsed", elapsed))
}
