// Package llm implements the tier-2 deep analysis provider. It speaks the
// OpenAI chat completion protocol against any compatible endpoint (OpenAI,
// DeepSeek, Gemini, Anthropic, local Ollama) and enforces a daily budget.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// Provider runs deep analyses with a primary model and an optional fallback.
type Provider struct {
	cfg   config.LLMConfig
	costs *CostTracker
}

// NewProvider creates a provider from the resolved config. Returns an error
// when the primary model names an unknown provider or its API key is not set.
func NewProvider(cfg config.LLMConfig) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("no LLM model configured")
	}
	for _, id := range []string{cfg.Model, cfg.FallbackModel} {
		if id == "" {
			continue
		}
		if _, _, err := resolveClient(id, cfg.APIKeyEnv); err != nil {
			return nil, err
		}
	}
	return &Provider{cfg: cfg, costs: NewCostTracker(cfg.DailyBudgetUSD)}, nil
}

// Costs exposes the budget tracker for the cost API.
func (p *Provider) Costs() *CostTracker { return p.costs }

// Model returns the primary model identifier.
func (p *Provider) Model() string { return p.cfg.Model }

// resolveClient builds an OpenAI-compatible client for a model identifier.
// keyEnvOverride, when set, names the environment variable holding the key
// regardless of provider.
func resolveClient(id, keyEnvOverride string) (*openai.Client, string, error) {
	ep, model, ok := resolveEndpoint(id)
	if !ok {
		provider, _ := splitModel(id)
		return nil, "", fmt.Errorf("unknown LLM provider %q in model %q", provider, id)
	}

	keyEnv := ep.DefaultKeyEnv
	if keyEnvOverride != "" {
		keyEnv = keyEnvOverride
	}
	apiKey := ""
	if keyEnv != "" {
		apiKey = os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, "", fmt.Errorf("API key environment variable %s is not set for model %q", keyEnv, id)
		}
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = ep.BaseURL
	return openai.NewClientWithConfig(clientCfg), model, nil
}

// Analyze performs a deep analysis of one checker report. When the daily
// budget is exhausted it returns a synthetic skipped analysis instead of an
// error, so callers can surface the condition to clients.
func (p *Provider) Analyze(ctx context.Context, checkerName string, report map[string]any, evidence map[string]any) (*models.LLMAnalysis, error) {
	if !p.costs.CanSpend(0.01) {
		slog.Warn("LLM daily budget exhausted, skipping analysis",
			"checker", checkerName, "budget_usd", p.cfg.DailyBudgetUSD)
		return &models.LLMAnalysis{
			RequestID:       "budget_exceeded",
			CheckerName:     checkerName,
			ModelUsed:       p.cfg.Model,
			AnalysisText:    "Daily budget exceeded. Analysis skipped.",
			EvidenceSummary: map[string]any{"budget_exceeded": true},
			Timestamp:       time.Now(),
		}, nil
	}

	prompt, err := buildAnalysisPrompt(checkerName, report, evidence)
	if err != nil {
		return nil, err
	}

	regressionsCount := 0
	if evidence != nil {
		if regs, ok := evidence["regressions"].([]map[string]any); ok {
			regressionsCount = len(regs)
		}
	}

	resp, modelUsed, err := p.complete(ctx, prompt, p.cfg.Temperature, p.cfg.MaxTokens, p.cfg.Timeout())
	if err != nil {
		return nil, err
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	parsed := parseAnalysisResponse(text)

	cost := estimateCost(modelUsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.costs.Record(modelUsed, cost)

	fixes := make([]models.FixSuggestion, 0, len(parsed.FixSuggestions))
	for _, action := range parsed.FixSuggestions {
		fixes = append(fixes, models.FixSuggestion{Action: action})
	}

	return &models.LLMAnalysis{
		RequestID:        uuid.NewString(),
		CheckerName:      checkerName,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          cost,
		ModelUsed:        modelUsed,
		AnalysisText:     text,
		RootCauses:       parsed.RootCauses,
		FixSuggestions:   fixes,
		EvidenceSummary: map[string]any{
			"prompt_length":        len(prompt),
			"has_evidence_context": evidence != nil,
			"regressions_count":    regressionsCount,
		},
		Timestamp: time.Now(),
	}, nil
}

// GenerateReport produces a free-form markdown report. It uses a longer
// token allowance and timeout than per-checker analyses.
func (p *Provider) GenerateReport(ctx context.Context, prompt string) (string, float64, error) {
	maxTokens := p.cfg.MaxTokens
	if maxTokens < 4000 {
		maxTokens = 4000
	}
	timeout := p.cfg.Timeout()
	if timeout < 60*time.Second {
		timeout = 60 * time.Second
	}

	resp, modelUsed, err := p.complete(ctx, prompt, 0.4, maxTokens, timeout)
	if err != nil {
		return "", 0, err
	}
	cost := estimateCost(modelUsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.costs.Record(modelUsed, cost)

	if len(resp.Choices) == 0 {
		return "", cost, nil
	}
	return resp.Choices[0].Message.Content, cost, nil
}

// complete calls the primary model, falling back once to the configured
// fallback on failure. The returned model identifier is whichever answered.
func (p *Provider) complete(ctx context.Context, prompt string, temperature float32, maxTokens int, timeout time.Duration) (*openai.ChatCompletionResponse, string, error) {
	resp, err := p.callModel(ctx, p.cfg.Model, prompt, temperature, maxTokens, timeout)
	if err == nil {
		return resp, p.cfg.Model, nil
	}

	if p.cfg.FallbackModel == "" {
		return nil, "", fmt.Errorf("LLM call failed for %s: %w", p.cfg.Model, err)
	}

	slog.Warn("Primary LLM model failed, trying fallback",
		"primary", p.cfg.Model, "fallback", p.cfg.FallbackModel, "error", err)

	resp, fbErr := p.callModel(ctx, p.cfg.FallbackModel, prompt, temperature, maxTokens, timeout)
	if fbErr != nil {
		return nil, "", fmt.Errorf("both primary (%s) and fallback (%s) failed: %w",
			p.cfg.Model, p.cfg.FallbackModel, fbErr)
	}
	return resp, p.cfg.FallbackModel, nil
}

func (p *Provider) callModel(ctx context.Context, id, prompt string, temperature float32, maxTokens int, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
	client, model, err := resolveClient(id, p.cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
