package llm

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

func TestNewProviderSelection(t *testing.T) {
	logger := zap.NewNop()

	provider, err := New(&core.LLMConfig{Provider: "none"}, logger)
	if err != nil || provider != nil {
		t.Errorf("none provider = (%v, %v), want (nil, nil)", provider, err)
	}

	provider, err = New(&core.LLMConfig{Provider: ""}, logger)
	if err != nil || provider != nil {
		t.Errorf("empty provider = (%v, %v), want (nil, nil)", provider, err)
	}

	if _, err := New(&core.LLMConfig{Provider: "skynet"}, logger); err == nil {
		t.Error("unknown provider must be rejected")
	}

	provider, err = New(&core.LLMConfig{Provider: "openai", APIKey: "sk-test"}, logger)
	if err != nil {
		t.Fatalf("openai provider: %v", err)
	}
	if provider == nil {
		t.Fatal("openai provider is nil")
	}

	provider, err = New(&core.LLMConfig{Provider: "anthropic", APIKey: "sk-test"}, logger)
	if err != nil {
		t.Fatalf("anthropic provider: %v", err)
	}
	if provider == nil {
		t.Fatal("anthropic provider is nil")
	}

	provider, err = New(&core.LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434"}, logger)
	if err != nil {
		t.Fatalf("ollama provider: %v", err)
	}
	if provider == nil {
		t.Fatal("ollama provider is nil")
	}
}

func TestCostAccounting(t *testing.T) {
	config := &core.LLMConfig{
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}

	got := cost(config, 1_000_000, 200_000)
	want := 3.0 + 0.2*15.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}

	if cost(&core.LLMConfig{}, 1000, 1000) != 0 {
		t.Error("unconfigured rates must cost nothing")
	}
}
