package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysisResponse(t *testing.T) {
	text := `### Summary
The database checker is failing because the connection pool is exhausted.

### Root Causes
- Connection pool size is too small for the worker count
- Long-running queries hold connections past the timeout

### Fix Plan
1. Raise pool_size from 5 to 20 in config.yaml
2. Add a statement timeout of 30s
- Restart the worker processes

### Risks
- A larger pool increases memory usage on the database host
`

	parsed := parseAnalysisResponse(text)

	require.Len(t, parsed.RootCauses, 2)
	assert.Equal(t, "Connection pool size is too small for the worker count", parsed.RootCauses[0])

	require.Len(t, parsed.FixSuggestions, 3)
	assert.Equal(t, "Raise pool_size from 5 to 20 in config.yaml", parsed.FixSuggestions[0])
	assert.Equal(t, "Add a statement timeout of 30s", parsed.FixSuggestions[1])
	assert.Equal(t, "Restart the worker processes", parsed.FixSuggestions[2])
}

func TestParseAnalysisResponseLooseHeadings(t *testing.T) {
	// Models vary heading level and casing; matching is contains-based.
	text := `## ROOT CAUSE ANALYSIS
- Misconfigured retry policy

# the fix plan
1. Disable retries on non-idempotent calls
`
	parsed := parseAnalysisResponse(text)

	require.Len(t, parsed.RootCauses, 1)
	assert.Equal(t, "Misconfigured retry policy", parsed.RootCauses[0])
	require.Len(t, parsed.FixSuggestions, 1)
	assert.Equal(t, "Disable retries on non-idempotent calls", parsed.FixSuggestions[0])
}

func TestParseAnalysisResponseUnstructured(t *testing.T) {
	parsed := parseAnalysisResponse("Everything looks fine, nothing to do here.")
	assert.Empty(t, parsed.RootCauses)
	assert.Empty(t, parsed.FixSuggestions)
}

func TestParseAnalysisResponseIgnoresBulletsOutsideSections(t *testing.T) {
	text := `### Summary
- This bullet is a summary item, not a root cause

### Risks
- This risk is not a fix suggestion
`
	parsed := parseAnalysisResponse(text)
	assert.Empty(t, parsed.RootCauses)
	assert.Empty(t, parsed.FixSuggestions)
}

func TestBuildAnalysisPrompt(t *testing.T) {
	report := map[string]any{"name": "database", "fail_count": 1}
	evidence := map[string]any{"regressions": []any{}}

	prompt, err := buildAnalysisPrompt("database", report, evidence)
	require.NoError(t, err)

	assert.Contains(t, prompt, `"database"`)
	assert.Contains(t, prompt, "## Current report")
	assert.Contains(t, prompt, "## Recent context")
	assert.Contains(t, prompt, "### Root Causes")
	assert.Contains(t, prompt, "### Fix Plan")
}

func TestBuildAnalysisPromptWithoutEvidence(t *testing.T) {
	prompt, err := buildAnalysisPrompt("security", map[string]any{"name": "security"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "## Recent context")
}

func TestBuildReportPrompt(t *testing.T) {
	scan := map[string]any{
		"overall":    "CRITICAL",
		"total_pass": 3,
		"total_warn": 1,
		"total_fail": 1,
		"health_pct": 60.0,
		"reports": map[string]map[string]any{
			"database": {
				"checks": []any{
					map[string]any{
						"name":     "pool_size",
						"status":   "FAIL",
						"message":  "connection pool exhausted",
						"details":  map[string]any{"active": 20, "max": 20},
						"fix_desc": "raise pool_size in config.yaml",
					},
					map[string]any{"name": "schema", "status": "PASS", "message": ""},
				},
			},
			"environment": {
				"checks": []any{
					map[string]any{"name": "root_exists", "status": "PASS", "message": ""},
				},
			},
		},
	}

	prompt := BuildReportPrompt("myproj", scan)

	assert.Contains(t, prompt, `"myproj"`)
	assert.Contains(t, prompt, "3 PASS / 1 WARN / 1 FAIL")
	assert.Contains(t, prompt, "### database")
	assert.Contains(t, prompt, "**pool_size** [FAIL]: connection pool exhausted")
	assert.Contains(t, prompt, "auto-fix: raise pool_size in config.yaml")
	// Healthy checkers appear by name only, outside the issues section.
	assert.Contains(t, prompt, "## Healthy checkers\nenvironment")
	assert.NotContains(t, prompt, "### environment")
	// Passing checks never show up as issues.
	assert.NotContains(t, prompt, "schema")
	assert.Contains(t, prompt, "### Fix Plan")
}

func TestParseReport(t *testing.T) {
	rootCauses, fixes := ParseReport(`### Root Causes
- Pool too small

### Fix Plan
1. Raise pool_size
`)
	require.Len(t, rootCauses, 1)
	assert.Equal(t, "Pool too small", rootCauses[0])
	require.Len(t, fixes, 1)
	assert.Equal(t, "Raise pool_size", fixes[0])
}
