package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/codeready-toolchain/vigil/pkg/models"
)

const systemPrompt = `You are a senior engineer diagnosing issues in a software project.
You receive structured diagnostic reports from automated checkers plus recent
context (previous reports, regressions, file changes). Be concrete and
concise. Reference the specific failing checks by name. Never invent checks
or files that are not in the evidence.`

const responseFormat = `Respond in markdown with exactly these sections:

### Summary
One or two sentences on the overall situation.

### Root Causes
- One bullet per distinct root cause, most likely first.

### Fix Plan
1. Ordered, concrete steps. Name files or commands where possible.

### Risks
- Bullets for anything the fix plan could break or that needs verification.`

// buildAnalysisPrompt assembles the user prompt for a deep analysis of one
// checker's report, with redaction already applied to the report by the
// caller.
func buildAnalysisPrompt(checkerName string, report map[string]any, evidence map[string]any) (string, error) {
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the %q checker report below.\n\n", checkerName)
	b.WriteString("## Current report\n```json\n")
	b.Write(reportJSON)
	b.WriteString("\n```\n")

	if evidence != nil {
		evidenceJSON, err := json.MarshalIndent(evidence, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode evidence: %w", err)
		}
		b.WriteString("\n## Recent context\n```json\n")
		b.Write(evidenceJSON)
		b.WriteString("\n```\n")
	}

	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String(), nil
}

// BuildReportPrompt renders the prompt for a whole-scan overview from a
// completed scan payload. Healthy checkers are listed by name only; failing
// and warning checks carry their message, evidence and fix hints.
func BuildReportPrompt(projectName string, scan map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an overall health report for project %q from the scan results below.\n\n", projectName)
	fmt.Fprintf(&b, "## Totals\n- overall: %v\n- checks: %v PASS / %v WARN / %v FAIL\n- health: %v%%\n",
		scan["overall"], scan["total_pass"], scan["total_warn"], scan["total_fail"], scan["health_pct"])

	reports, _ := scan["reports"].(map[string]map[string]any)
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)

	var healthy []string
	var issues strings.Builder
	for _, name := range names {
		lines := issueLines(reports[name])
		if len(lines) == 0 {
			healthy = append(healthy, name)
			continue
		}
		fmt.Fprintf(&issues, "\n### %s\n", name)
		for _, line := range lines {
			issues.WriteString(line)
		}
	}

	if issues.Len() > 0 {
		b.WriteString("\n## Checkers with issues\n")
		b.WriteString(issues.String())
	}
	if len(healthy) > 0 {
		fmt.Fprintf(&b, "\n## Healthy checkers\n%s\n", strings.Join(healthy, ", "))
	}
	b.WriteString("\n")
	b.WriteString(responseFormat)
	return b.String()
}

// issueLines renders the FAIL and WARN checks of one report dict as prompt
// bullets, truncating large evidence blobs.
func issueLines(report map[string]any) []string {
	checks, _ := report["checks"].([]any)
	var lines []string
	for _, raw := range checks {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		status, _ := c["status"].(string)
		if status != models.StatusFail && status != models.StatusWarn {
			continue
		}
		name, _ := c["name"].(string)
		msg, _ := c["message"].(string)
		line := fmt.Sprintf("- **%s** [%s]: %s\n", name, status, msg)
		if det := c["details"]; det != nil {
			if data, err := json.Marshal(det); err == nil {
				s := string(data)
				if len(s) > 500 {
					s = s[:500] + "..."
				}
				line += "  evidence: " + s + "\n"
			}
		}
		if fixDesc, _ := c["fix_desc"].(string); fixDesc != "" {
			line += "  auto-fix: " + fixDesc + "\n"
		}
		lines = append(lines, line)
	}
	return lines
}

// ParseReport extracts root causes and fix plan items from a generated
// overview for API consumers.
func ParseReport(text string) (rootCauses, fixActions []string) {
	parsed := parseAnalysisResponse(text)
	return parsed.RootCauses, parsed.FixSuggestions
}

// parsedAnalysis is the structured part extracted from a markdown response.
type parsedAnalysis struct {
	RootCauses     []string
	FixSuggestions []string
}

// parseAnalysisResponse extracts root causes and fix plan items from the
// model's markdown. Section detection is forgiving: any heading line whose
// lowercased text contains the section name counts.
func parseAnalysisResponse(text string) parsedAnalysis {
	var out parsedAnalysis
	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			lower := strings.ToLower(trimmed)
			switch {
			case strings.Contains(lower, "root cause"):
				section = "root_causes"
			case strings.Contains(lower, "fix plan"):
				section = "fix_plan"
			case strings.Contains(lower, "risk"):
				section = "risks"
			case strings.Contains(lower, "summary"):
				section = "summary"
			default:
				section = ""
			}
			continue
		}
		switch section {
		case "root_causes":
			if strings.HasPrefix(trimmed, "- ") {
				out.RootCauses = append(out.RootCauses, strings.TrimSpace(trimmed[2:]))
			}
		case "fix_plan":
			if strings.HasPrefix(trimmed, "-") || startsWithDigit(trimmed) {
				item := strings.TrimSpace(strings.TrimLeft(trimmed, "-0123456789. "))
				if item != "" {
					out.FixSuggestions = append(out.FixSuggestions, item)
				}
			}
		}
	}
	return out
}

func startsWithDigit(s string) bool {
	return s != "" && unicode.IsDigit(rune(s[0]))
}
