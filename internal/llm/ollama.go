package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

const defaultOllamaModel = "llama3.2"

// OllamaProvider talks to a local Ollama server. Useful for development
// without burning API credits; cost accounting reports zero.
type OllamaProvider struct {
	config     *core.LLMConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func NewOllamaProvider(config *core.LLMConfig, logger *zap.Logger) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}, nil
}

func (o *OllamaProvider) Complete(ctx context.Context, req core.CompletionRequest) (*core.Completion, error) {
	ctx, cancel := callContext(ctx, o.config, req)
	defer cancel()

	model := o.config.Model
	if model == "" {
		model = defaultOllamaModel
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.WrapError(core.KindRetryable, "llm",
			fmt.Errorf("Ollama API call failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.WrapError(core.KindRetryable, "llm",
			fmt.Errorf("Ollama API returned status %d", resp.StatusCode))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, core.WrapError(core.KindSchemaViolation, "llm",
			fmt.Errorf("failed to decode Ollama response: %w", err))
	}

	completion := &core.Completion{
		Text:             parsed.Response,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}

	logCompletion(o.logger, "ollama", completion, time.Since(start))
	return completion, nil
}
