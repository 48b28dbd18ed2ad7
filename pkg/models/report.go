package models

// Check statuses. SKIP is excluded from health percentage calculations.
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

// Overall scan statuses derived from aggregate counts.
const (
	OverallCritical = "CRITICAL"
	OverallDegraded = "DEGRADED"
	OverallHealthy  = "HEALTHY"
)

// CheckResult is the outcome of a single check within a checker run.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
	Fixable bool   `json:"fixable,omitempty"`
	FixDesc string `json:"fix_desc,omitempty"`
}

// PhaseReport aggregates the check results of one checker run.
type PhaseReport struct {
	Name       string        `json:"name"`
	Checks     []CheckResult `json:"checks"`
	DurationMS int64         `json:"duration_ms"`
}

// Add appends a check result and returns it.
func (r *PhaseReport) Add(c CheckResult) CheckResult {
	r.Checks = append(r.Checks, c)
	return c
}

func (r *PhaseReport) count(status string) int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == status {
			n++
		}
	}
	return n
}

func (r *PhaseReport) PassCount() int { return r.count(StatusPass) }
func (r *PhaseReport) FailCount() int { return r.count(StatusFail) }
func (r *PhaseReport) WarnCount() int { return r.count(StatusWarn) }
func (r *PhaseReport) SkipCount() int { return r.count(StatusSkip) }

// TotalActive is the number of checks excluding SKIPs.
func (r *PhaseReport) TotalActive() int { return len(r.Checks) - r.SkipCount() }

// HealthPct is the share of active checks that passed, 100 when no active checks.
func (r *PhaseReport) HealthPct() float64 {
	total := r.TotalActive()
	if total == 0 {
		return 100.0
	}
	return float64(r.PassCount()) / float64(total) * 100
}

// Dict renders the report as the generic map used in event payloads,
// storage rows and report hashing.
func (r *PhaseReport) Dict() map[string]any {
	checks := make([]any, 0, len(r.Checks))
	for _, c := range r.Checks {
		m := map[string]any{
			"name":    c.Name,
			"status":  c.Status,
			"message": c.Message,
		}
		if c.Details != nil {
			m["details"] = c.Details
		}
		if c.Fixable {
			m["fixable"] = true
		}
		if c.FixDesc != "" {
			m["fix_desc"] = c.FixDesc
		}
		checks = append(checks, m)
	}
	return map[string]any{
		"name":         r.Name,
		"pass_count":   r.PassCount(),
		"fail_count":   r.FailCount(),
		"warn_count":   r.WarnCount(),
		"skip_count":   r.SkipCount(),
		"total_active": r.TotalActive(),
		"health_pct":   roundPct(r.HealthPct()),
		"duration_ms":  r.DurationMS,
		"checks":       checks,
	}
}

// OverallStatus classifies aggregate counts: any FAIL is CRITICAL, otherwise
// any WARN is DEGRADED, otherwise HEALTHY.
func OverallStatus(totalFail, totalWarn int) string {
	switch {
	case totalFail > 0:
		return OverallCritical
	case totalWarn > 0:
		return OverallDegraded
	default:
		return OverallHealthy
	}
}

func roundPct(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
