package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
project:
  name: myproject
  root: .
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "myproject", cfg.Project.Name)
	assert.Equal(t, filepath.Dir(path), cfg.Project.Root)

	// Everything else comes from defaults.
	assert.True(t, cfg.Agent.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Agent.Debounce)
	assert.Equal(t, 30*time.Second, cfg.Agent.ScanCooldown)
	assert.Equal(t, 0.6, cfg.Agent.FullScanThreshold)
	assert.Equal(t, 50, cfg.Agent.SSEReplayLimit)
	assert.Equal(t, 10000, cfg.Agent.Retention.EventMaxRows)
	assert.Equal(t, float32(0.3), cfg.LLM.Temperature)
	assert.Equal(t, 5.0, cfg.LLM.DailyBudgetUSD)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "vigil.db"), cfg.Storage.Path)
}

func TestLoadDefaultsProjectNameFromDir(t *testing.T) {
	path := writeConfig(t, `
project:
  root: .
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(filepath.Dir(path)), cfg.Project.Name)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
project:
  name: p
  root: .
agent:
  enabled: false
  debounce_seconds: 0.5
  scan_cooldown_seconds: 60
  auto_llm_on_critical: true
  full_scan_threshold: 0.8
  retention:
    event_max_rows: 500
llm:
  model: deepseek/deepseek-chat
  max_tokens: 1000
storage:
  path: custom.db
checks:
  security:
    enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Agent.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.Debounce)
	assert.Equal(t, time.Minute, cfg.Agent.ScanCooldown)
	assert.True(t, cfg.Agent.AutoLLMOnCritical)
	assert.Equal(t, 0.8, cfg.Agent.FullScanThreshold)
	assert.Equal(t, 500, cfg.Agent.Retention.EventMaxRows)
	// Unspecified retention fields keep their defaults.
	assert.Equal(t, 7, cfg.Agent.Retention.EventMaxDays)

	assert.Equal(t, "deepseek/deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 1000, cfg.LLM.MaxTokens)
	// Unspecified LLM fields keep their defaults.
	assert.Equal(t, float32(0.3), cfg.LLM.Temperature)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "custom.db"), cfg.Storage.Path)

	assert.False(t, cfg.CheckerEnabled("security"))
	assert.True(t, cfg.CheckerEnabled("database"))
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_PROJECT_NAME", "from-env")
	path := writeConfig(t, `
project:
  name: ${TEST_PROJECT_NAME}
  root: .
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Project.Name)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing root",
			content: "project:\n  name: p\n",
			wantErr: "project.root is required",
		},
		{
			name: "bad threshold",
			content: `
project:
  root: .
agent:
  full_scan_threshold: 1.5
`,
			wantErr: "full_scan_threshold",
		},
		{
			name: "fallback without model",
			content: `
project:
  root: .
llm:
  fallback_model: openai/gpt-4o-mini
`,
			wantErr: "fallback_model requires llm.model",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "project: [not a mapping"))
	assert.Error(t, err)
}
