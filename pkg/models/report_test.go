package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(statuses ...string) *PhaseReport {
	r := &PhaseReport{Name: "test"}
	for i, s := range statuses {
		r.Add(CheckResult{Name: string(rune('a' + i)), Status: s})
	}
	return r
}

func TestPhaseReportCounts(t *testing.T) {
	r := report(StatusPass, StatusPass, StatusFail, StatusWarn, StatusSkip)

	assert.Equal(t, 2, r.PassCount())
	assert.Equal(t, 1, r.FailCount())
	assert.Equal(t, 1, r.WarnCount())
	assert.Equal(t, 1, r.SkipCount())
	assert.Equal(t, 4, r.TotalActive())
}

func TestHealthPctExcludesSkips(t *testing.T) {
	r := report(StatusPass, StatusPass, StatusPass, StatusFail, StatusSkip)
	assert.InDelta(t, 75.0, r.HealthPct(), 0.001)
}

func TestHealthPctNoActiveChecks(t *testing.T) {
	assert.Equal(t, 100.0, report().HealthPct())
	assert.Equal(t, 100.0, report(StatusSkip, StatusSkip).HealthPct())
}

func TestDictShape(t *testing.T) {
	r := &PhaseReport{Name: "database", DurationMS: 42}
	r.Add(CheckResult{Name: "connect", Status: StatusPass})
	r.Add(CheckResult{
		Name:    "schema_version",
		Status:  StatusFail,
		Message: "migration pending",
		Details: map[string]any{"current": 3, "latest": 5},
		Fixable: true,
		FixDesc: "apply pending migrations",
	})

	d := r.Dict()

	assert.Equal(t, "database", d["name"])
	assert.Equal(t, 1, d["pass_count"])
	assert.Equal(t, 1, d["fail_count"])
	assert.Equal(t, int64(42), d["duration_ms"])
	assert.Equal(t, 50.0, d["health_pct"])

	checks, ok := d["checks"].([]any)
	require.True(t, ok)
	require.Len(t, checks, 2)

	first := checks[0].(map[string]any)
	assert.Equal(t, "connect", first["name"])
	_, hasDetails := first["details"]
	assert.False(t, hasDetails, "passing check without details should omit the key")

	second := checks[1].(map[string]any)
	assert.Equal(t, true, second["fixable"])
	assert.Equal(t, "apply pending migrations", second["fix_desc"])
}

func TestHealthPctRoundsToOneDecimal(t *testing.T) {
	// 2/3 pass = 66.666... → 66.7
	r := report(StatusPass, StatusPass, StatusFail)
	assert.Equal(t, 66.7, r.Dict()["health_pct"])
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, OverallCritical, OverallStatus(1, 0))
	assert.Equal(t, OverallCritical, OverallStatus(2, 5))
	assert.Equal(t, OverallDegraded, OverallStatus(0, 1))
	assert.Equal(t, OverallHealthy, OverallStatus(0, 0))
}

func TestNewEventDefaults(t *testing.T) {
	evt := NewEvent(EventScanRequested, "user", "ws1", nil)

	assert.Equal(t, EventScanRequested, evt.Type)
	assert.Equal(t, "user", evt.Source)
	assert.Equal(t, "ws1", evt.WorkspaceID)
	assert.NotNil(t, evt.Data)
	assert.False(t, evt.Timestamp.IsZero())
}
