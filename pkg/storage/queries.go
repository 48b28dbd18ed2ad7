package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// ScanRow is one persisted scan summary.
type ScanRow struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"`
	ProjectName   string  `json:"project_name"`
	OverallStatus string  `json:"overall_status"`
	TotalPass     int     `json:"total_pass"`
	TotalWarn     int     `json:"total_warn"`
	TotalFail     int     `json:"total_fail"`
	HealthPct     float64 `json:"health_pct"`
	PhasesJSON    string  `json:"phases_json,omitempty"`
	DurationMS    int64   `json:"duration_ms"`
}

// EventRow is one persisted agent event.
type EventRow struct {
	ID          int64  `json:"id"`
	Timestamp   string `json:"timestamp"`
	EventType   string `json:"event_type"`
	Source      string `json:"source"`
	DataJSON    string `json:"data_json"`
	WorkspaceID string `json:"workspace_id"`
}

// AnalysisRow is one persisted LLM analysis.
type AnalysisRow struct {
	ID                 int64   `json:"id"`
	Timestamp          string  `json:"timestamp"`
	CheckerName        string  `json:"checker_name"`
	ModelUsed          string  `json:"model_used"`
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	CostUSD            float64 `json:"cost_usd"`
	AnalysisText       string  `json:"analysis_text"`
	RootCausesJSON     string  `json:"root_causes_json"`
	FixSuggestionsJSON string  `json:"fix_suggestions_json"`
	EvidenceJSON       string  `json:"evidence_json"`
	WorkspaceID        string  `json:"workspace_id"`
}

// SaveScan records a completed scan summary.
func (s *Store) SaveScan(ctx context.Context, projectName, overallStatus string,
	totalPass, totalWarn, totalFail int, healthPct float64, phasesJSON string, durationMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history
		(timestamp, project_name, overall_status, total_pass, total_warn, total_fail, health_pct, phases_json, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nowStamp(), projectName, overallStatus, totalPass, totalWarn, totalFail, healthPct, phasesJSON, durationMS)
	if err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

// ScanHistory returns recent scans newest first, optionally filtered by
// project name.
func (s *Store) ScanHistory(ctx context.Context, projectName string, limit int) ([]ScanRow, error) {
	query := `SELECT id, timestamp, project_name, overall_status, total_pass, total_warn, total_fail, health_pct, COALESCE(phases_json, ''), duration_ms
		FROM scan_history`
	args := []any{}
	if projectName != "" {
		query += ` WHERE project_name = ?`
		args = append(args, projectName)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var out []ScanRow
	for rows.Next() {
		var r ScanRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ProjectName, &r.OverallStatus,
			&r.TotalPass, &r.TotalWarn, &r.TotalFail, &r.HealthPct, &r.PhasesJSON, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestScan returns the most recent scan for a project, or nil when no scan
// has been recorded.
func (s *Store) LatestScan(ctx context.Context, projectName string) (*ScanRow, error) {
	scans, err := s.ScanHistory(ctx, projectName, 1)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, nil
	}
	return &scans[0], nil
}

// SaveEvent appends an agent event to the durable log and returns its row id.
func (s *Store) SaveEvent(ctx context.Context, evt models.Event) (int64, error) {
	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (timestamp, event_type, source, data_json, workspace_id)
		VALUES (?, ?, ?, ?, ?)`,
		nowStamp(), string(evt.Type), evt.Source, string(dataJSON), evt.WorkspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}
	return res.LastInsertId()
}

// RecentEvents returns agent events newest first. sinceID > 0 restricts to
// rows with a larger id, which drives SSE reconnect replay.
func (s *Store) RecentEvents(ctx context.Context, workspaceID string, sinceID int64, limit int) ([]EventRow, error) {
	query := `SELECT id, timestamp, event_type, source, COALESCE(data_json, ''), workspace_id FROM agent_events`
	var conds []string
	var args []any
	if workspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, workspaceID)
	}
	if sinceID > 0 {
		conds = append(conds, "id > ?")
		args = append(args, sinceID)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.EventType, &r.Source, &r.DataJSON, &r.WorkspaceID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAnalysis records a completed LLM analysis.
func (s *Store) SaveAnalysis(ctx context.Context, a models.LLMAnalysis, workspaceID string) error {
	rootCauses, err := json.Marshal(a.RootCauses)
	if err != nil {
		return fmt.Errorf("failed to encode root causes: %w", err)
	}
	fixes, err := json.Marshal(a.FixSuggestions)
	if err != nil {
		return fmt.Errorf("failed to encode fix suggestions: %w", err)
	}
	evidence, err := json.Marshal(a.EvidenceSummary)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_analyses
		(timestamp, checker_name, model_used, prompt_tokens, completion_tokens,
		 cost_usd, analysis_text, root_causes_json, fix_suggestions_json, evidence_json, workspace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nowStamp(), a.CheckerName, a.ModelUsed, a.PromptTokens, a.CompletionTokens,
		a.CostUSD, a.AnalysisText, string(rootCauses), string(fixes), string(evidence), workspaceID)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// RecentAnalyses returns LLM analyses newest first for a workspace.
func (s *Store) RecentAnalyses(ctx context.Context, workspaceID string, limit int) ([]AnalysisRow, error) {
	query := `SELECT id, timestamp, checker_name, model_used, prompt_tokens, completion_tokens,
		cost_usd, COALESCE(analysis_text, ''), COALESCE(root_causes_json, ''),
		COALESCE(fix_suggestions_json, ''), COALESCE(evidence_json, ''), workspace_id
		FROM llm_analyses`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRow
	for rows.Next() {
		var r AnalysisRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.CheckerName, &r.ModelUsed,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &r.AnalysisText,
			&r.RootCausesJSON, &r.FixSuggestionsJSON, &r.EvidenceJSON, &r.WorkspaceID); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveInsight records a cross-checker insight.
func (s *Store) SaveInsight(ctx context.Context, insight models.Insight, workspaceID string) error {
	checkers, err := json.Marshal(insight.Checkers)
	if err != nil {
		return fmt.Errorf("failed to encode insight checkers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_insights (timestamp, insight_type, severity, message, checkers_json, workspace_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nowStamp(), insight.Type, insight.Severity, insight.Message, string(checkers), workspaceID)
	if err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

// PurgeResult reports per-table deletion counts from one retention pass.
type PurgeResult struct {
	TotalDeleted    int64 `json:"total_deleted"`
	EventsDeleted   int64 `json:"events_deleted"`
	AnalysesDeleted int64 `json:"analyses_deleted"`
	InsightsDeleted int64 `json:"insights_deleted"`
}

// Purge enforces the retention policy: events are capped both by row count
// and by age, analyses and insights by age only. Idempotent: a second pass
// with no new rows deletes nothing.
func (s *Store) Purge(ctx context.Context, ret config.RetentionConfig) (PurgeResult, error) {
	var result PurgeResult

	eventsByRows, err := s.execCount(ctx, `
		DELETE FROM agent_events WHERE id NOT IN (
			SELECT id FROM agent_events ORDER BY id DESC LIMIT ?
		)`, ret.EventMaxRows)
	if err != nil {
		return result, fmt.Errorf("failed to purge events by row count: %w", err)
	}

	eventsByAge, err := s.execCount(ctx, `
		DELETE FROM agent_events
		WHERE timestamp < datetime('now', '-' || ? || ' days')`, ret.EventMaxDays)
	if err != nil {
		return result, fmt.Errorf("failed to purge events by age: %w", err)
	}

	analyses, err := s.execCount(ctx, `
		DELETE FROM llm_analyses
		WHERE timestamp < datetime('now', '-' || ? || ' days')`, ret.AnalysisMaxDays)
	if err != nil {
		return result, fmt.Errorf("failed to purge analyses: %w", err)
	}

	insights, err := s.execCount(ctx, `
		DELETE FROM agent_insights
		WHERE timestamp < datetime('now', '-' || ? || ' days')`, ret.EventMaxDays)
	if err != nil {
		return result, fmt.Errorf("failed to purge insights: %w", err)
	}

	result.EventsDeleted = eventsByRows + eventsByAge
	result.AnalysesDeleted = analyses
	result.InsightsDeleted = insights
	result.TotalDeleted = result.EventsDeleted + analyses + insights
	return result, nil
}

func (s *Store) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return n, nil
}
