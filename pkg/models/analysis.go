package models

import "time"

// FixSuggestion is one actionable item from an LLM fix plan.
type FixSuggestion struct {
	Action string `json:"action"`
}

// LLMAnalysis is the result of a tier-2 deep analysis of a checker report.
type LLMAnalysis struct {
	RequestID        string          `json:"request_id"`
	CheckerName      string          `json:"checker_name"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	CostUSD          float64         `json:"cost_usd"`
	ModelUsed        string          `json:"model_used"`
	AnalysisText     string          `json:"analysis_text"`
	RootCauses       []string        `json:"root_causes"`
	FixSuggestions   []FixSuggestion `json:"fix_suggestions"`
	EvidenceSummary  map[string]any  `json:"evidence_summary"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Insight is a cross-checker observation produced by rule-based reasoning.
type Insight struct {
	Type     string         `json:"type"` // "regression", "correlation", "improvement"
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Checkers []string       `json:"checkers,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}
