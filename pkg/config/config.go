// Package config loads and validates per-workspace configuration.
package config

import "time"

// Config is the fully resolved configuration for one workspace.
type Config struct {
	Project ProjectConfig
	Agent   AgentConfig
	LLM     LLMConfig
	Storage StorageConfig
	Checks  map[string]CheckConfig
}

// ProjectConfig identifies the workspace being watched.
type ProjectConfig struct {
	Name string
	Root string
}

// AgentConfig controls the observe-reason-act loop.
type AgentConfig struct {
	Enabled               bool
	WatchDirs             []string
	Debounce              time.Duration
	ScanCooldown          time.Duration
	ManualScanMinInterval time.Duration
	AutoScanOnChange      bool
	AutoLLMOnCritical     bool
	// FullScanThreshold is the fraction of known checkers above which a
	// partial scan is promoted to a full scan.
	FullScanThreshold float64
	SSEReplayLimit    int
	PurgeInterval     time.Duration
	SingletonMaxAge   time.Duration
	IgnorePatterns    []string
	IgnoreExtensions  []string
	Retention         RetentionConfig
}

// RetentionConfig bounds durable history growth.
type RetentionConfig struct {
	EventMaxRows    int `yaml:"event_max_rows"`
	EventMaxDays    int `yaml:"event_max_days"`
	AnalysisMaxDays int `yaml:"analysis_max_days"`
}

// LLMConfig configures the tier-2 analysis provider.
type LLMConfig struct {
	Model          string  `yaml:"model"`
	FallbackModel  string  `yaml:"fallback_model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
}

// Timeout returns the per-call LLM timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig locates the embedded store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CheckConfig is the per-checker toggle block.
type CheckConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// CheckerEnabled reports whether the named checker is enabled. Checkers
// without an explicit block default to enabled.
func (c *Config) CheckerEnabled(name string) bool {
	cc, ok := c.Checks[name]
	if !ok || cc.Enabled == nil {
		return true
	}
	return *cc.Enabled
}

// DefaultRetentionConfig returns the built-in retention policy.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EventMaxRows:    10000,
		EventMaxDays:    7,
		AnalysisMaxDays: 90,
	}
}

// DefaultLLMConfig returns the built-in LLM settings. Model is empty so
// tier 2 stays disabled until explicitly configured.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Temperature:    0.3,
		MaxTokens:      2000,
		TimeoutSeconds: 30,
		DailyBudgetUSD: 5.0,
	}
}

// DefaultAgentConfig returns the built-in agent loop settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Enabled:               true,
		WatchDirs:             []string{"."},
		Debounce:              2 * time.Second,
		ScanCooldown:          30 * time.Second,
		ManualScanMinInterval: 2 * time.Second,
		AutoScanOnChange:      true,
		AutoLLMOnCritical:     false,
		FullScanThreshold:     0.6,
		SSEReplayLimit:        50,
		PurgeInterval:         time.Hour,
		SingletonMaxAge:       24 * time.Hour,
		Retention:             DefaultRetentionConfig(),
	}
}
