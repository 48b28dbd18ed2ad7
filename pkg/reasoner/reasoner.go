// Package reasoner maps observed events to actions using fixed rules:
// which checkers to run, when to escalate to LLM analysis, and which
// cross-checker insights a completed scan implies.
package reasoner

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/checker"
	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/memory"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// ActionType enumerates what the executor should do next.
type ActionType string

const (
	// ActionRunScan runs the named checkers (dependency-ordered by the
	// executor).
	ActionRunScan ActionType = "run_scan"
	// ActionLLMAnalyze requests a tier-2 deep analysis of one checker.
	ActionLLMAnalyze ActionType = "llm_analyze"
	// ActionEmitInsight publishes cross-checker insights.
	ActionEmitInsight ActionType = "emit_insight"
)

// Action is one decision produced by Evaluate.
type Action struct {
	Type         ActionType
	CheckerNames []string
	Insights     []models.Insight
	Reason       string
}

// autoLLMMaxCheckers caps how many failing checkers get automatic deep
// analysis after a critical scan.
const autoLLMMaxCheckers = 3

// Reasoner holds the rule configuration and short-term memory it consults.
type Reasoner struct {
	cfg      config.AgentConfig
	mem      *memory.Memory
	registry *checker.Registry

	mu             sync.Mutex
	lastManualScan time.Time
}

// New creates a reasoner over the given memory and checker registry.
func New(cfg config.AgentConfig, mem *memory.Memory, registry *checker.Registry) *Reasoner {
	return &Reasoner{cfg: cfg, mem: mem, registry: registry}
}

// AdmitManualScan applies the manual scan rate limit at the API boundary.
// Returns whether the scan may be queued and, if not, the seconds to wait.
// Admission happens here, before the event enters the loop, so a queued
// scan_requested event is never re-rejected later.
func (r *Reasoner) AdmitManualScan() (bool, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.lastManualScan)
	if elapsed < r.cfg.ManualScanMinInterval {
		return false, (r.cfg.ManualScanMinInterval - elapsed).Seconds()
	}
	r.lastManualScan = time.Now()
	return true, 0
}

// Evaluate maps one event to zero or more actions.
func (r *Reasoner) Evaluate(evt models.Event) []Action {
	switch evt.Type {
	case models.EventFileChanged:
		return r.onFileChanged(evt)
	case models.EventScanRequested:
		return r.onScanRequested(evt)
	case models.EventLLMAnalysisRequested:
		return r.onLLMAnalysisRequested(evt)
	case models.EventScanCompleted:
		return r.onScanCompleted(evt)
	}
	return nil
}

func (r *Reasoner) onFileChanged(evt models.Event) []Action {
	if !r.cfg.AutoScanOnChange {
		return nil
	}

	if last := r.mem.LastScanTime(); !last.IsZero() && time.Since(last) < r.cfg.ScanCooldown {
		slog.Debug("Scan cooldown active, ignoring file change",
			"since_last_scan", time.Since(last), "cooldown", r.cfg.ScanCooldown)
		return nil
	}

	valid := r.validCheckers(stringSlice(evt.Data["affected_checkers"]))
	if len(valid) == 0 {
		return nil
	}

	all := r.registry.Names()
	if float64(len(valid)) > float64(len(all))*r.cfg.FullScanThreshold {
		slog.Info("Change touches most checkers, promoting to full scan",
			"affected", len(valid), "total", len(all))
		valid = all
	}

	return []Action{{Type: ActionRunScan, CheckerNames: valid, Reason: "file_changed"}}
}

func (r *Reasoner) onScanRequested(evt models.Event) []Action {
	requested := stringSlice(evt.Data["checkers"])
	var names []string
	if len(requested) == 0 {
		names = r.registry.Names()
	} else {
		names = r.validCheckers(requested)
		if len(names) == 0 {
			slog.Warn("Scan requested with no known checkers", "requested", requested)
			return nil
		}
	}
	return []Action{{Type: ActionRunScan, CheckerNames: names, Reason: "scan_requested"}}
}

func (r *Reasoner) onLLMAnalysisRequested(evt models.Event) []Action {
	name, _ := evt.Data["checker"].(string)
	if name == "" {
		return nil
	}
	return []Action{{Type: ActionLLMAnalyze, CheckerNames: []string{name}, Reason: "llm_analysis_requested"}}
}

// onScanCompleted derives cross-checker insights by diffing the two latest
// scan snapshots, and queues automatic deep analyses after critical scans.
func (r *Reasoner) onScanCompleted(evt models.Event) []Action {
	var actions []Action

	if insights := r.deriveInsights(); len(insights) > 0 {
		actions = append(actions, Action{Type: ActionEmitInsight, Insights: insights, Reason: "scan_completed"})
	}

	hasCritical, _ := evt.Data["has_critical"].(bool)
	if hasCritical && r.cfg.AutoLLMOnCritical {
		failing := stringSlice(evt.Data["failing_checkers"])
		if len(failing) > autoLLMMaxCheckers {
			failing = failing[:autoLLMMaxCheckers]
		}
		for _, name := range failing {
			actions = append(actions, Action{
				Type:         ActionLLMAnalyze,
				CheckerNames: []string{name},
				Reason:       "auto_llm_on_critical",
			})
		}
	}

	return actions
}

func (r *Reasoner) deriveInsights() []models.Insight {
	snapshots := r.mem.RecentScanReports(2)
	if len(snapshots) < 2 {
		return nil
	}
	current, previous := snapshots[0], snapshots[1]

	var insights []models.Insight
	var failingCheckers []string

	for _, name := range sortedKeys(current) {
		curFails := failedChecks(current[name])
		if len(curFails) > 0 {
			failingCheckers = append(failingCheckers, name)
		}

		prevReport, ok := previous[name]
		if !ok {
			continue
		}
		prevFails := failedChecks(prevReport)

		if newFails := difference(curFails, prevFails); len(newFails) > 0 {
			insights = append(insights, models.Insight{
				Type:     "regression",
				Severity: "high",
				Message:  "New failures: " + strings.Join(newFails, ", "),
				Checkers: []string{name},
				Details:  map[string]any{"new_fails": newFails},
			})
		}

		curPasses := passedChecks(current[name])
		if fixed := intersection(prevFails, curPasses); len(fixed) > 0 {
			insights = append(insights, models.Insight{
				Type:     "improvement",
				Severity: "info",
				Message:  "Fixed: " + strings.Join(fixed, ", "),
				Checkers: []string{name},
			})
		}
	}

	if len(failingCheckers) >= 3 {
		insights = append(insights, models.Insight{
			Type:     "correlation",
			Severity: "critical",
			Message:  "Multiple systems failing: " + strings.Join(failingCheckers, ", "),
			Checkers: failingCheckers,
		})
	}

	return insights
}

// validCheckers filters names down to registered checkers, sorted.
func (r *Reasoner) validCheckers(names []string) []string {
	var valid []string
	for _, name := range names {
		if _, ok := r.registry.Get(name); ok {
			valid = append(valid, name)
		}
	}
	sort.Strings(valid)
	return valid
}

// stringSlice coerces event data values that may arrive as []string or, after
// a JSON round trip, as []any.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, raw := range vals {
			if s, ok := raw.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func checkNamesByStatus(report map[string]any, status string) []string {
	checks, _ := report["checks"].([]any)
	var names []string
	for _, raw := range checks {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if st, _ := c["status"].(string); st == status {
			if name, ok := c["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func failedChecks(report map[string]any) []string {
	return checkNamesByStatus(report, models.StatusFail)
}

func passedChecks(report map[string]any) []string {
	return checkNamesByStatus(report, models.StatusPass)
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// difference returns sorted elements of a not present in b.
func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// intersection returns sorted elements present in both a and b.
func intersection(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := inB[s]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
