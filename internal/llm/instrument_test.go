package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"moodlist/internal/core"
)

type countingMetrics struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingMetrics) RecordLLMCall(provider, status string) {
	c.mu.Lock()
	c.calls[provider+":"+status]++
	c.mu.Unlock()
}

type scriptedProvider struct {
	err error
}

func (s *scriptedProvider) Complete(_ context.Context, _ core.CompletionRequest) (*core.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.Completion{Text: "{}"}, nil
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	metrics := &countingMetrics{calls: make(map[string]int)}

	ok := Instrument(&scriptedProvider{}, "openai", metrics)
	if _, err := ok.Complete(context.Background(), core.CompletionRequest{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	failing := Instrument(&scriptedProvider{
		err: core.WrapError(core.KindRetryable, "llm", errors.New("rate limited")),
	}, "openai", metrics)
	if _, err := failing.Complete(context.Background(), core.CompletionRequest{}); err == nil {
		t.Fatal("wrapped provider must propagate the error")
	}

	if metrics.calls["openai:ok"] != 1 {
		t.Errorf("ok calls = %d, want 1", metrics.calls["openai:ok"])
	}
	if metrics.calls["openai:retryable"] != 1 {
		t.Errorf("retryable calls = %d, want 1", metrics.calls["openai:retryable"])
	}
}

func TestInstrumentPassesThroughNil(t *testing.T) {
	if Instrument(nil, "none", &countingMetrics{calls: map[string]int{}}) != nil {
		t.Error("a nil provider must stay nil so callers keep their fallbacks")
	}
	p := &scriptedProvider{}
	if Instrument(p, "openai", nil) != core.LLMProvider(p) {
		t.Error("missing metrics must return the provider unchanged")
	}
}
