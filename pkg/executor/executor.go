// Package executor runs checkers in dependency order and drives tier-2 LLM
// analyses. Scans are serialized with a non-blocking lock: a scan arriving
// while one is in flight is reported as skipped, never queued.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/checker"
	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/graph"
	"github.com/codeready-toolchain/vigil/pkg/masking"
	"github.com/codeready-toolchain/vigil/pkg/memory"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// AnalysisProvider is the tier-2 analysis surface the executor needs.
// *llm.Provider satisfies it; tests substitute fakes.
type AnalysisProvider interface {
	Analyze(ctx context.Context, checkerName string, report map[string]any, evidence map[string]any) (*models.LLMAnalysis, error)
	Model() string
}

// Executor owns checker execution for one workspace.
type Executor struct {
	cfg      *config.Config
	registry *checker.Registry
	graph    *graph.Graph
	mem      *memory.Memory
	provider AnalysisProvider

	scanMu sync.Mutex
	busy   atomic.Bool
}

// New creates an executor. provider may be nil when LLM analysis is not
// configured.
func New(cfg *config.Config, registry *checker.Registry, g *graph.Graph, mem *memory.Memory, provider AnalysisProvider) *Executor {
	return &Executor{cfg: cfg, registry: registry, graph: g, mem: mem, provider: provider}
}

// Busy reports whether a scan is currently holding the scan lock.
func (e *Executor) Busy() bool { return e.busy.Load() }

// HasProvider reports whether tier-2 analysis is configured.
func (e *Executor) HasProvider() bool { return e.provider != nil }

// RunScan executes the requested checkers in dependency order and returns
// the scan_completed event payload. When another scan is already running it
// returns a skipped payload with skipped=true.
func (e *Executor) RunScan(ctx context.Context, requested []string) (map[string]any, bool) {
	if !e.scanMu.TryLock() {
		slog.Info("Scan already in progress, skipping", "requested", requested)
		return map[string]any{"skipped": true, "reason": "scan_in_progress"}, true
	}
	defer e.scanMu.Unlock()
	e.busy.Store(true)
	defer e.busy.Store(false)

	start := time.Now()
	scanID := fmt.Sprintf("scan_%d", start.UnixMilli())

	available := make(map[string]struct{})
	for _, name := range e.registry.EnabledNames(e.cfg) {
		available[name] = struct{}{}
	}

	var runnable []string
	for _, name := range requested {
		if _, ok := available[name]; ok {
			runnable = append(runnable, name)
		}
	}

	// Resolve pulls in dependencies, which may include checkers that are
	// disabled or unavailable, so filter once more after ordering.
	ordered := e.graph.Resolve(runnable)
	var toRun []string
	for _, name := range ordered {
		if _, ok := available[name]; ok {
			toRun = append(toRun, name)
		}
	}

	reports := make(map[string]map[string]any, len(toRun))
	checkerNames := make([]string, 0, len(toRun))
	totalPass, totalWarn, totalFail := 0, 0, 0
	var failingCheckers []string

	for _, name := range toRun {
		c, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		report := e.runChecker(ctx, c)

		dict := report.Dict()
		dict["meta"] = metaDict(c.Meta())
		reports[name] = dict
		checkerNames = append(checkerNames, name)

		totalPass += report.PassCount()
		totalWarn += report.WarnCount()
		totalFail += report.FailCount()
		if report.FailCount() > 0 {
			failingCheckers = append(failingCheckers, name)
		}
	}

	active := totalPass + totalWarn + totalFail
	healthPct := 100.0
	if active > 0 {
		healthPct = round1(float64(totalPass) / float64(active) * 100)
	}
	overall := models.OverallStatus(totalFail, totalWarn)
	durationMS := time.Since(start).Milliseconds()

	e.mem.RecordScanReports(reports)

	slog.Info("Scan completed",
		"scan_id", scanID, "checkers", len(checkerNames), "overall", overall,
		"pass", totalPass, "warn", totalWarn, "fail", totalFail,
		"duration_ms", durationMS)

	return map[string]any{
		"scan_id":          scanID,
		"scan_timestamp":   start.UTC().Format(time.RFC3339),
		"reports":          reports,
		"overall":          overall,
		"total_pass":       totalPass,
		"total_warn":       totalWarn,
		"total_fail":       totalFail,
		"health_pct":       healthPct,
		"has_critical":     totalFail > 0,
		"failing_checkers": failingCheckers,
		"checker_names":    checkerNames,
		"duration_ms":      durationMS,
	}, false
}

// runChecker runs one checker with timing and panic containment. A panic or
// error becomes a report with a single FAIL result, so one broken checker
// never takes down a scan.
func (e *Executor) runChecker(ctx context.Context, c checker.Checker) *models.PhaseReport {
	start := time.Now()
	var report *models.PhaseReport

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Checker panicked", "checker", c.Name(), "panic", r)
				report = errorReport(c.Name(), fmt.Sprintf("checker panicked: %v", r))
			}
		}()
		rep, err := c.Run(ctx, e.cfg.Project.Root, e.cfg)
		if err != nil {
			slog.Error("Checker failed to run", "checker", c.Name(), "error", err)
			report = errorReport(c.Name(), err.Error())
			return
		}
		report = rep
	}()

	if report == nil {
		report = errorReport(c.Name(), "checker returned no report")
	}
	report.DurationMS = time.Since(start).Milliseconds()
	return report
}

// AnalyzeWithLLM performs a deep analysis of one checker. It returns the
// llm_analysis_completed event payload, plus the analysis when one was
// produced (nil on error payloads).
func (e *Executor) AnalyzeWithLLM(ctx context.Context, checkerName string) (map[string]any, *models.LLMAnalysis) {
	if e.provider == nil {
		return map[string]any{
			"checker": checkerName,
			"error":   "No LLM provider configured",
		}, nil
	}

	report, err := e.freshReport(ctx, checkerName)
	if err != nil {
		return map[string]any{"checker": checkerName, "error": err.Error()}, nil
	}

	hash := reportHash(report)
	evidence := e.mem.ContextForLLM(checkerName)

	analysis, err := e.provider.Analyze(ctx, checkerName, redactReport(report), evidence)
	if err != nil {
		slog.Error("LLM analysis failed", "checker", checkerName, "error", err)
		return map[string]any{"checker": checkerName, "error": err.Error()}, nil
	}

	rootCauses := analysis.RootCauses
	if rootCauses == nil {
		rootCauses = []string{}
	}
	fixes := make([]map[string]any, 0, len(analysis.FixSuggestions))
	for _, f := range analysis.FixSuggestions {
		fixes = append(fixes, map[string]any{"action": f.Action})
	}

	return map[string]any{
		"checker":         checkerName,
		"analysis":        analysis.AnalysisText,
		"root_causes":     rootCauses,
		"fix_suggestions": fixes,
		"model":           analysis.ModelUsed,
		"cost_usd":        analysis.CostUSD,
		"tokens": map[string]any{
			"prompt":     analysis.PromptTokens,
			"completion": analysis.CompletionTokens,
		},
		"evidence":           evidence,
		"report_hash":        hash,
		"analysis_timestamp": analysis.Timestamp.UTC().Format(time.RFC3339),
		"report_was_fresh":   true,
	}, analysis
}

// freshReport re-runs the checker so the analysis never works from a stale
// snapshot; memory snapshots only feed the evidence context.
func (e *Executor) freshReport(ctx context.Context, checkerName string) (map[string]any, error) {
	c, ok := e.registry.Get(checkerName)
	if !ok {
		return nil, fmt.Errorf("unknown checker: %s", checkerName)
	}

	rep, err := c.Run(ctx, e.cfg.Project.Root, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("checker run failed: %w", err)
	}
	dict := rep.Dict()
	dict["meta"] = metaDict(c.Meta())
	return dict, nil
}

// reportHash fingerprints a report for deduplication. Volatile fields
// (duration, timestamps) are excluded and secrets redacted so identical
// findings hash identically across scans.
func reportHash(report map[string]any) string {
	stable := make(map[string]any, len(report))
	for k, v := range report {
		if k == "duration_ms" || k == "timestamp" {
			continue
		}
		stable[k] = v
	}
	data, err := json.Marshal(stable)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", stable))
	}
	sum := sha256.Sum256([]byte(masking.Redact(string(data))))
	return hex.EncodeToString(sum[:])[:16]
}

// redactReport masks secrets in a report before it leaves the process. When
// redaction breaks JSON structure the original report is used for shape and
// only string fields end up masked.
func redactReport(report map[string]any) map[string]any {
	data, err := json.Marshal(report)
	if err != nil {
		return report
	}
	redacted := masking.Redact(string(data))
	var out map[string]any
	if err := json.Unmarshal([]byte(redacted), &out); err != nil {
		return report
	}
	return out
}

func errorReport(name, message string) *models.PhaseReport {
	report := &models.PhaseReport{Name: name}
	report.Add(models.CheckResult{
		Name:    "error",
		Status:  models.StatusFail,
		Message: message,
	})
	return report
}

func metaDict(m checker.Meta) map[string]any {
	out := map[string]any{
		"name":         m.Name,
		"display_name": m.DisplayName,
		"description":  m.Description,
	}
	if m.Icon != "" {
		out["icon"] = m.Icon
	}
	if m.Color != "" {
		out["color"] = m.Color
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
