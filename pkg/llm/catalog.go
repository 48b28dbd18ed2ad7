package llm

import "strings"

// endpoint describes how to reach one OpenAI-compatible provider.
type endpoint struct {
	BaseURL       string
	DefaultKeyEnv string
}

// catalog maps the provider prefix of a "provider/model" identifier to its
// OpenAI-compatible endpoint. Ollama runs locally and needs no key.
var catalog = map[string]endpoint{
	"openai":    {BaseURL: "https://api.openai.com/v1", DefaultKeyEnv: "OPENAI_API_KEY"},
	"deepseek":  {BaseURL: "https://api.deepseek.com/v1", DefaultKeyEnv: "DEEPSEEK_API_KEY"},
	"gemini":    {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", DefaultKeyEnv: "GEMINI_API_KEY"},
	"anthropic": {BaseURL: "https://api.anthropic.com/v1", DefaultKeyEnv: "ANTHROPIC_API_KEY"},
	"ollama":    {BaseURL: "http://localhost:11434/v1"},
}

// modelPricing holds USD cost per 1M tokens.
type modelPricing struct {
	PromptPerM     float64
	CompletionPerM float64
}

// pricing is a best-effort estimate table. Unknown models fall back to a
// conservative default so budget enforcement still works.
var pricing = map[string]modelPricing{
	"gpt-4o":           {PromptPerM: 2.50, CompletionPerM: 10.00},
	"gpt-4o-mini":      {PromptPerM: 0.15, CompletionPerM: 0.60},
	"gpt-4.1":          {PromptPerM: 2.00, CompletionPerM: 8.00},
	"gpt-4.1-mini":     {PromptPerM: 0.40, CompletionPerM: 1.60},
	"deepseek-chat":    {PromptPerM: 0.27, CompletionPerM: 1.10},
	"gemini-2.0-flash": {PromptPerM: 0.10, CompletionPerM: 0.40},
}

var defaultPricing = modelPricing{PromptPerM: 1.00, CompletionPerM: 4.00}

// splitModel splits "provider/model" into its parts. A bare model name is
// treated as an OpenAI model.
func splitModel(id string) (provider, model string) {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "openai", id
}

// resolveEndpoint looks up the endpoint for a model identifier.
func resolveEndpoint(id string) (endpoint, string, bool) {
	provider, model := splitModel(id)
	ep, ok := catalog[provider]
	return ep, model, ok
}

// estimateCost computes the USD cost of one call from token counts. Local
// models cost nothing.
func estimateCost(id string, promptTokens, completionTokens int) float64 {
	provider, model := splitModel(id)
	if provider == "ollama" {
		return 0
	}
	p, ok := pricing[model]
	if !ok {
		p = defaultPricing
	}
	return float64(promptTokens)/1e6*p.PromptPerM + float64(completionTokens)/1e6*p.CompletionPerM
}
