package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk config file. Optional sections are pointers
// so missing blocks fall back to built-in defaults, and booleans that default
// to true are pointers so an explicit `false` survives resolution.
type yamlConfig struct {
	Project *projectYAML           `yaml:"project"`
	Agent   *agentYAML             `yaml:"agent"`
	LLM     *LLMConfig             `yaml:"llm"`
	Storage *StorageConfig         `yaml:"storage"`
	Checks  map[string]CheckConfig `yaml:"checks"`
}

type projectYAML struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

type agentYAML struct {
	Enabled                *bool            `yaml:"enabled"`
	WatchDirs              []string         `yaml:"watch_dirs"`
	DebounceSeconds        float64          `yaml:"debounce_seconds"`
	ScanCooldownSeconds    int              `yaml:"scan_cooldown_seconds"`
	ManualScanMinInterval  float64          `yaml:"manual_scan_min_interval"`
	AutoScanOnChange       *bool            `yaml:"auto_scan_on_change"`
	AutoLLMOnCritical      *bool            `yaml:"auto_llm_on_critical"`
	FullScanThreshold      float64          `yaml:"full_scan_threshold"`
	SSEReplayLimit         int              `yaml:"sse_replay_limit"`
	PurgeIntervalSeconds   float64          `yaml:"purge_interval_seconds"`
	SingletonMaxAgeSeconds int              `yaml:"singleton_max_age_seconds"`
	IgnorePatterns         []string         `yaml:"ignore_patterns"`
	IgnoreExtensions       []string         `yaml:"ignore_extensions"`
	Retention              *RetentionConfig `yaml:"retention"`
}

// Load reads a workspace config file, expands ${VAR} references from the
// environment, merges it over built-in defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Environment references resolve before YAML parsing so quoted values
	// stay quoted.
	expanded := os.ExpandEnv(string(data))

	var yc yamlConfig
	if err := yaml.Unmarshal([]byte(expanded), &yc); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	cfg, err := resolve(&yc, path)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed for %s: %w", path, err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"project", cfg.Project.Name,
		"watch_dirs", cfg.Agent.WatchDirs,
		"llm_model", cfg.LLM.Model)
	return cfg, nil
}

func resolve(yc *yamlConfig, path string) (*Config, error) {
	cfg := &Config{
		Agent:  DefaultAgentConfig(),
		LLM:    DefaultLLMConfig(),
		Checks: yc.Checks,
	}
	if cfg.Checks == nil {
		cfg.Checks = map[string]CheckConfig{}
	}

	if yc.Project != nil {
		cfg.Project = ProjectConfig{Name: yc.Project.Name, Root: yc.Project.Root}
	}
	// Project root is resolved relative to the config file location.
	if cfg.Project.Root != "" && !filepath.IsAbs(cfg.Project.Root) {
		abs, err := filepath.Abs(filepath.Join(filepath.Dir(path), cfg.Project.Root))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project root: %w", err)
		}
		cfg.Project.Root = abs
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(filepath.Dir(path))
	}

	resolveAgent(&cfg.Agent, yc.Agent)

	// Non-zero user values override LLM defaults.
	if yc.LLM != nil {
		if err := mergo.Merge(&cfg.LLM, *yc.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	cfg.Storage = StorageConfig{
		Path: filepath.Join(filepath.Dir(path), "vigil.db"),
	}
	if yc.Storage != nil && yc.Storage.Path != "" {
		cfg.Storage.Path = yc.Storage.Path
		if !filepath.IsAbs(cfg.Storage.Path) {
			cfg.Storage.Path = filepath.Join(filepath.Dir(path), cfg.Storage.Path)
		}
	}

	return cfg, nil
}

func resolveAgent(dst *AgentConfig, y *agentYAML) {
	if y == nil {
		return
	}
	if y.Enabled != nil {
		dst.Enabled = *y.Enabled
	}
	if len(y.WatchDirs) > 0 {
		dst.WatchDirs = y.WatchDirs
	}
	if y.DebounceSeconds > 0 {
		dst.Debounce = time.Duration(y.DebounceSeconds * float64(time.Second))
	}
	if y.ScanCooldownSeconds > 0 {
		dst.ScanCooldown = time.Duration(y.ScanCooldownSeconds) * time.Second
	}
	if y.ManualScanMinInterval > 0 {
		dst.ManualScanMinInterval = time.Duration(y.ManualScanMinInterval * float64(time.Second))
	}
	if y.AutoScanOnChange != nil {
		dst.AutoScanOnChange = *y.AutoScanOnChange
	}
	if y.AutoLLMOnCritical != nil {
		dst.AutoLLMOnCritical = *y.AutoLLMOnCritical
	}
	if y.FullScanThreshold > 0 {
		dst.FullScanThreshold = y.FullScanThreshold
	}
	if y.SSEReplayLimit > 0 {
		dst.SSEReplayLimit = y.SSEReplayLimit
	}
	if y.PurgeIntervalSeconds > 0 {
		dst.PurgeInterval = time.Duration(y.PurgeIntervalSeconds * float64(time.Second))
	}
	if y.SingletonMaxAgeSeconds > 0 {
		dst.SingletonMaxAge = time.Duration(y.SingletonMaxAgeSeconds) * time.Second
	}
	dst.IgnorePatterns = y.IgnorePatterns
	dst.IgnoreExtensions = y.IgnoreExtensions
	if y.Retention != nil {
		ret := DefaultRetentionConfig()
		if err := mergo.Merge(&ret, *y.Retention, mergo.WithOverride); err == nil {
			dst.Retention = ret
		} else {
			slog.Warn("Failed to merge retention config, using defaults", "error", err)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Project.Root == "" {
		return fmt.Errorf("project.root is required")
	}
	if cfg.Agent.FullScanThreshold <= 0 || cfg.Agent.FullScanThreshold > 1 {
		return fmt.Errorf("agent.full_scan_threshold must be in (0, 1], got %v", cfg.Agent.FullScanThreshold)
	}
	if cfg.LLM.FallbackModel != "" && cfg.LLM.Model == "" {
		return fmt.Errorf("llm.fallback_model requires llm.model")
	}
	if cfg.Agent.Retention.EventMaxRows <= 0 {
		return fmt.Errorf("agent.retention.event_max_rows must be positive")
	}
	return nil
}
