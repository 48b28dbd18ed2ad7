package observer

import (
	"path/filepath"
	"sort"
	"strings"
)

// extensionCheckerMap routes file extensions to the checkers they affect.
// Dotfiles without a second dot (".env") use their full name as extension.
var extensionCheckerMap = map[string][]string{
	".py":     {"code_quality", "security", "performance", "api_health", "dependency"},
	".sql":    {"database", "schema_migration"},
	".db":     {"database", "schema_migration"},
	".sqlite": {"database", "schema_migration"},
	".yaml":   {"config_drift", "environment"},
	".yml":    {"config_drift"},
	".env":    {"environment", "security"},
	".txt":    {"dependency"},
	".toml":   {"dependency"},
	".cfg":    {"dependency"},
	".md":     {"skill_template"},
	".json":   {"config_drift"},
	".html":   {"code_quality"},
	".js":     {"code_quality"},
	".css":    {"code_quality"},
}

// pathKeywordMap routes path segments to checkers regardless of extension.
var pathKeywordMap = map[string][]string{
	"test":       {"test_coverage"},
	"tests":      {"test_coverage"},
	"migration":  {"schema_migration"},
	"migrations": {"schema_migration"},
	"alembic":    {"schema_migration"},
	"skills":     {"skill_template"},
	"rag":        {"rag_pipeline"},
	"agent":      {"agent_budget"},
	"whisper":    {"whisper_health"},
	"ytdlp":      {"ytdlp_pipeline"},
	"yt_dlp":     {"ytdlp_pipeline"},
	"ontology":   {"ontology_sync"},
	"knowledge":  {"knowledge_graph"},
	"golden":     {"golden_quality"},
	"citation":   {"citation_integrity"},
	"search":     {"search_index"},
	"url":        {"url_pattern"},
}

// ignoreDirs are directory names never watched or reported.
var ignoreDirs = map[string]struct{}{
	".git": {}, "__pycache__": {}, ".venv": {}, "venv": {}, "env": {},
	"node_modules": {}, ".debugger": {}, "debug_dashboard": {}, ".tox": {},
	"dist": {}, "build": {}, ".eggs": {}, ".mypy_cache": {}, ".ruff_cache": {},
	".pytest_cache": {}, "chroma_db": {}, ".ipynb_checkpoints": {},
	"debug_dashboard_core": {}, ".debug_dashboard": {},
}

// ignoreFiles are exact file names never reported.
var ignoreFiles = map[string]struct{}{
	".DS_Store": {}, "Thumbs.db": {}, ".gitkeep": {},
}

// selfTriggerExtensions are extensions the agent itself writes; reporting
// them would make the loop trigger itself.
var selfTriggerExtensions = map[string]struct{}{
	".db": {}, ".sqlite": {}, ".sqlite3": {}, ".lock": {}, ".pid": {},
	".log": {}, ".pyc": {}, ".pyo": {}, ".swp": {}, ".swo": {},
}

// hiddenAllowlist are dotfiles that are watched despite being hidden.
var hiddenAllowlist = map[string]struct{}{
	".env": {}, ".gitignore": {}, ".flake8": {},
}

// fileExtension computes the routing extension: full name for single-dot
// dotfiles, standard suffix otherwise.
func fileExtension(base string) string {
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return strings.ToLower(base)
	}
	return strings.ToLower(filepath.Ext(base))
}

// checkersForFile maps one relative path to the checkers it affects.
func checkersForFile(relPath string) []string {
	seen := make(map[string]struct{})

	ext := fileExtension(filepath.Base(relPath))
	for _, c := range extensionCheckerMap[ext] {
		seen[c] = struct{}{}
	}

	for _, segment := range strings.Split(filepath.ToSlash(relPath), "/") {
		segment = strings.ToLower(strings.TrimSuffix(segment, filepath.Ext(segment)))
		for keyword, checkers := range pathKeywordMap {
			if strings.Contains(segment, keyword) {
				for _, c := range checkers {
					seen[c] = struct{}{}
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
