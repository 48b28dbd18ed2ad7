package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveTestEvent(t *testing.T, s *Store, eventType models.EventType, workspaceID string) int64 {
	t.Helper()
	id, err := s.SaveEvent(context.Background(), models.NewEvent(eventType, "test", workspaceID,
		map[string]any{"k": "v"}))
	require.NoError(t, err)
	return id
}

func TestOpenRunsMigrations(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Health())

	// Reopening the same file must tolerate already-applied migrations.
	path := store.path
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Health())
}

func TestSaveAndQueryScans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveScan(ctx, "proj [ws1]", models.OverallHealthy, 10, 0, 0, 100.0, "[]", 42))
	require.NoError(t, store.SaveScan(ctx, "proj [ws1]", models.OverallCritical, 8, 1, 1, 80.0, "[]", 55))
	require.NoError(t, store.SaveScan(ctx, "other [ws2]", models.OverallHealthy, 5, 0, 0, 100.0, "[]", 30))

	history, err := store.ScanHistory(ctx, "proj [ws1]", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, models.OverallCritical, history[0].OverallStatus)
	assert.Equal(t, 80.0, history[0].HealthPct)

	latest, err := store.LatestScan(ctx, "proj [ws1]")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(55), latest.DurationMS)

	missing, err := store.LatestScan(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEventLogSinceID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, saveTestEvent(t, store, models.EventFileChanged, "ws1"))
	}
	saveTestEvent(t, store, models.EventFileChanged, "ws2")

	// Workspace filter.
	rows, err := store.RecentEvents(ctx, "ws1", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, ids[4], rows[0].ID, "newest first")

	// since_id cuts off older rows.
	rows, err = store.RecentEvents(ctx, "ws1", ids[2], 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[4], rows[0].ID)
	assert.Equal(t, ids[3], rows[1].ID)

	// Limit applies to the newest rows.
	rows, err = store.RecentEvents(ctx, "ws1", 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[4], rows[0].ID)

	// No filter returns everything.
	rows, err = store.RecentEvents(ctx, "", 0, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestSaveEventPreservesData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	evt := models.NewEvent(models.EventScanCompleted, "executor", "ws1", map[string]any{
		"scan_id":    "scan_123",
		"health_pct": 87.5,
	})
	_, err := store.SaveEvent(ctx, evt)
	require.NoError(t, err)

	rows, err := store.RecentEvents(ctx, "ws1", 0, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(models.EventScanCompleted), rows[0].EventType)
	assert.Contains(t, rows[0].DataJSON, `"scan_id":"scan_123"`)
}

func TestSaveAndQueryAnalyses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	analysis := models.LLMAnalysis{
		CheckerName:    "database",
		ModelUsed:      "openai/gpt-4o-mini",
		PromptTokens:   100,
		CostUSD:        0.003,
		AnalysisText:   "pool exhausted",
		RootCauses:     []string{"pool too small"},
		FixSuggestions: []models.FixSuggestion{{Action: "raise pool size"}},
	}
	require.NoError(t, store.SaveAnalysis(ctx, analysis, "ws1"))

	rows, err := store.RecentAnalyses(ctx, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "database", rows[0].CheckerName)
	assert.Equal(t, 0.003, rows[0].CostUSD)
	assert.Contains(t, rows[0].RootCausesJSON, "pool too small")
	assert.Contains(t, rows[0].FixSuggestionsJSON, "raise pool size")

	other, err := store.RecentAnalyses(ctx, "ws2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveInsight(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveInsight(context.Background(), models.Insight{
		Type:     "regression",
		Severity: "high",
		Message:  "New failures: connect",
		Checkers: []string{"database"},
	}, "ws1"))
}

func TestPurgeByRowCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		saveTestEvent(t, store, models.EventFileChanged, "ws1")
	}

	ret := config.RetentionConfig{EventMaxRows: 5, EventMaxDays: 7, AnalysisMaxDays: 90}
	result, err := store.Purge(ctx, ret)
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.EventsDeleted)
	assert.Equal(t, int64(15), result.TotalDeleted)

	rows, err := store.RecentEvents(ctx, "ws1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	// A second pass with no new rows is a no-op.
	result, err = store.Purge(ctx, ret)
	require.NoError(t, err)
	assert.Zero(t, result.TotalDeleted)
}

func TestPurgeByAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Backdate one event past the retention window.
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO agent_events (timestamp, event_type, source, data_json, workspace_id)
		VALUES (datetime('now', '-30 days'), 'file_changed', 'test', '{}', 'ws1')`)
	require.NoError(t, err)
	saveTestEvent(t, store, models.EventFileChanged, "ws1")

	result, err := store.Purge(ctx, config.RetentionConfig{EventMaxRows: 100, EventMaxDays: 7, AnalysisMaxDays: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.EventsDeleted)

	rows, err := store.RecentEvents(ctx, "ws1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPurgeAnalysesAndInsightsByAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO llm_analyses (timestamp, checker_name, model_used, workspace_id)
		VALUES (datetime('now', '-120 days'), 'database', 'm', 'ws1')`)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, `
		INSERT INTO agent_insights (timestamp, insight_type, severity, message, workspace_id)
		VALUES (datetime('now', '-30 days'), 'regression', 'high', 'old', 'ws1')`)
	require.NoError(t, err)

	result, err := store.Purge(ctx, config.RetentionConfig{EventMaxRows: 100, EventMaxDays: 7, AnalysisMaxDays: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AnalysesDeleted)
	assert.Equal(t, int64(1), result.InsightsDeleted)
	assert.Equal(t, int64(2), result.TotalDeleted)
}
