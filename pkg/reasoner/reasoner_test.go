package reasoner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/checker"
	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/memory"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

type fakeChecker struct {
	checker.Base
	name string
}

func (f fakeChecker) Name() string       { return f.name }
func (f fakeChecker) Meta() checker.Meta { return checker.Meta{Name: f.name} }
func (f fakeChecker) Run(context.Context, string, *config.Config) (*models.PhaseReport, error) {
	return &models.PhaseReport{Name: f.name}, nil
}

func newTestReasoner(t *testing.T, cfg config.AgentConfig, checkers ...string) (*Reasoner, *memory.Memory) {
	t.Helper()
	registry := checker.NewRegistry()
	for _, name := range checkers {
		registry.Register(fakeChecker{name: name})
	}
	mem := memory.New("ws1", 0)
	return New(cfg, mem, registry), mem
}

func defaultCfg() config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.ScanCooldown = 30 * time.Second
	return cfg
}

func fileChanged(checkers ...string) models.Event {
	affected := make([]any, 0, len(checkers))
	for _, c := range checkers {
		affected = append(affected, c)
	}
	return models.NewEvent(models.EventFileChanged, "watcher", "ws1", map[string]any{
		"affected_checkers": affected,
		"file_count":        1,
	})
}

func scanSnapshot(checkerStatuses map[string]map[string]string) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for checkerName, checks := range checkerStatuses {
		var list []any
		for name, status := range checks {
			list = append(list, map[string]any{"name": name, "status": status})
		}
		out[checkerName] = map[string]any{"name": checkerName, "checks": list}
	}
	return out
}

func TestFileChangedTriggersScan(t *testing.T) {
	r, _ := newTestReasoner(t, defaultCfg(), "security", "database", "environment", "code_quality", "dependency")

	actions := r.Evaluate(fileChanged("security", "database"))

	require.Len(t, actions, 1)
	assert.Equal(t, ActionRunScan, actions[0].Type)
	assert.Equal(t, []string{"database", "security"}, actions[0].CheckerNames)
}

func TestFileChangedRespectsAutoScanToggle(t *testing.T) {
	cfg := defaultCfg()
	cfg.AutoScanOnChange = false
	r, _ := newTestReasoner(t, cfg, "security")

	assert.Empty(t, r.Evaluate(fileChanged("security")))
}

func TestFileChangedRespectsCooldown(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "security")
	mem.RecordScanReports(map[string]map[string]any{})

	assert.Empty(t, r.Evaluate(fileChanged("security")))
}

func TestFileChangedDropsUnknownCheckers(t *testing.T) {
	r, _ := newTestReasoner(t, defaultCfg(), "security", "database", "environment", "code_quality", "dependency")

	actions := r.Evaluate(fileChanged("security", "no_such_checker"))

	require.Len(t, actions, 1)
	assert.Equal(t, []string{"security"}, actions[0].CheckerNames)

	assert.Empty(t, r.Evaluate(fileChanged("no_such_checker")))
}

func TestFileChangedPromotesToFullScan(t *testing.T) {
	// 4 of 5 affected exceeds the 0.6 threshold, so all 5 run.
	r, _ := newTestReasoner(t, defaultCfg(), "security", "database", "environment", "code_quality", "dependency")

	actions := r.Evaluate(fileChanged("security", "database", "code_quality", "dependency"))

	require.Len(t, actions, 1)
	assert.Equal(t,
		[]string{"code_quality", "database", "dependency", "environment", "security"},
		actions[0].CheckerNames)
}

func TestScanRequestedDefaultsToAllCheckers(t *testing.T) {
	r, _ := newTestReasoner(t, defaultCfg(), "security", "database")

	actions := r.Evaluate(models.NewEvent(models.EventScanRequested, "user", "ws1", nil))

	require.Len(t, actions, 1)
	assert.Equal(t, ActionRunScan, actions[0].Type)
	assert.Equal(t, []string{"database", "security"}, actions[0].CheckerNames)
}

func TestScanRequestedIgnoresCooldown(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "security")
	mem.RecordScanReports(map[string]map[string]any{})

	actions := r.Evaluate(models.NewEvent(models.EventScanRequested, "user", "ws1",
		map[string]any{"checkers": []any{"security"}}))

	require.Len(t, actions, 1)
}

func TestLLMAnalysisRequested(t *testing.T) {
	r, _ := newTestReasoner(t, defaultCfg(), "security")

	actions := r.Evaluate(models.NewEvent(models.EventLLMAnalysisRequested, "user", "ws1",
		map[string]any{"checker": "security"}))

	require.Len(t, actions, 1)
	assert.Equal(t, ActionLLMAnalyze, actions[0].Type)
	assert.Equal(t, []string{"security"}, actions[0].CheckerNames)
}

func TestScanCompletedRegressionInsight(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "database")

	mem.RecordScanReports(scanSnapshot(map[string]map[string]string{
		"database": {"connect": models.StatusPass, "schema": models.StatusPass},
	}))
	mem.RecordScanReports(scanSnapshot(map[string]map[string]string{
		"database": {"connect": models.StatusFail, "schema": models.StatusPass},
	}))

	actions := r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", nil))

	require.Len(t, actions, 1)
	require.Equal(t, ActionEmitInsight, actions[0].Type)
	require.Len(t, actions[0].Insights, 1)

	insight := actions[0].Insights[0]
	assert.Equal(t, "regression", insight.Type)
	assert.Equal(t, "high", insight.Severity)
	assert.Equal(t, "New failures: connect", insight.Message)
	assert.Equal(t, []string{"database"}, insight.Checkers)
	assert.Equal(t, map[string]any{"new_fails": []string{"connect"}}, insight.Details)
}

func TestScanCompletedImprovementInsight(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "database")

	mem.RecordScanReports(scanSnapshot(map[string]map[string]string{
		"database": {"connect": models.StatusFail},
	}))
	mem.RecordScanReports(scanSnapshot(map[string]map[string]string{
		"database": {"connect": models.StatusPass},
	}))

	actions := r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", nil))

	require.Len(t, actions, 1)
	require.Len(t, actions[0].Insights, 1)
	insight := actions[0].Insights[0]
	assert.Equal(t, "improvement", insight.Type)
	assert.Equal(t, "info", insight.Severity)
	assert.Equal(t, "Fixed: connect", insight.Message)
}

func TestScanCompletedCorrelationInsight(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "database", "security", "api_health")

	failing := scanSnapshot(map[string]map[string]string{
		"database":   {"connect": models.StatusFail},
		"security":   {"secrets": models.StatusFail},
		"api_health": {"ping": models.StatusFail},
	})
	mem.RecordScanReports(failing)
	mem.RecordScanReports(failing)

	actions := r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", nil))

	require.Len(t, actions, 1)
	var correlation *models.Insight
	for i := range actions[0].Insights {
		if actions[0].Insights[i].Type == "correlation" {
			correlation = &actions[0].Insights[i]
		}
	}
	require.NotNil(t, correlation)
	assert.Equal(t, "critical", correlation.Severity)
	assert.Equal(t, "Multiple systems failing: api_health, database, security", correlation.Message)
}

func TestScanCompletedNoInsightsOnFirstScan(t *testing.T) {
	r, mem := newTestReasoner(t, defaultCfg(), "database")
	mem.RecordScanReports(scanSnapshot(map[string]map[string]string{
		"database": {"connect": models.StatusFail},
	}))

	assert.Empty(t, r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", nil)))
}

func TestScanCompletedAutoLLMOnCritical(t *testing.T) {
	cfg := defaultCfg()
	cfg.AutoLLMOnCritical = true
	r, _ := newTestReasoner(t, cfg, "a", "b", "c", "d")

	actions := r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", map[string]any{
		"has_critical":     true,
		"failing_checkers": []any{"a", "b", "c", "d"},
	}))

	var llmActions []Action
	for _, a := range actions {
		if a.Type == ActionLLMAnalyze {
			llmActions = append(llmActions, a)
		}
	}
	require.Len(t, llmActions, 3, "auto analysis caps at 3 checkers")
	assert.Equal(t, []string{"a"}, llmActions[0].CheckerNames)
}

func TestScanCompletedAutoLLMDisabledByDefault(t *testing.T) {
	r, _ := newTestReasoner(t, defaultCfg(), "a")

	actions := r.Evaluate(models.NewEvent(models.EventScanCompleted, "executor", "ws1", map[string]any{
		"has_critical":     true,
		"failing_checkers": []any{"a"},
	}))
	assert.Empty(t, actions)
}

func TestAdmitManualScanRateLimits(t *testing.T) {
	cfg := defaultCfg()
	cfg.ManualScanMinInterval = 2 * time.Second
	r, _ := newTestReasoner(t, cfg, "security")

	allowed, retryAfter := r.AdmitManualScan()
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)

	allowed, retryAfter = r.AdmitManualScan()
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0.0)
	assert.LessOrEqual(t, retryAfter, 2.0)
}
