package llm

import (
	"context"

	"moodlist/internal/core"
)

// CallMetrics counts LLM calls by provider and outcome.
type CallMetrics interface {
	RecordLLMCall(provider, status string)
}

// Instrument wraps a provider so every call is counted. A nil provider or
// nil metrics sink passes through unchanged.
func Instrument(p core.LLMProvider, provider string, metrics CallMetrics) core.LLMProvider {
	if p == nil || metrics == nil {
		return p
	}
	return &instrumented{inner: p, provider: provider, metrics: metrics}
}

type instrumented struct {
	inner    core.LLMProvider
	provider string
	metrics  CallMetrics
}

func (i *instrumented) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	completion, err := i.inner.Complete(ctx, req)
	if err != nil {
		i.metrics.RecordLLMCall(i.provider, core.KindOf(err).String())
		return nil, err
	}
	i.metrics.RecordLLMCall(i.provider, "ok")
	return completion, nil
}
