// Package graph orders checker execution by declared dependencies.
package graph

import "sort"

// DefaultDependencies maps each checker to the checkers that must run before
// it. Checkers absent from the map have no prerequisites.
var DefaultDependencies = map[string][]string{
	// Infrastructure checkers depend on environment.
	"database":      {"environment"},
	"performance":   {"environment", "database"},
	"security":      {"environment"},
	"api_health":    {"environment"},
	"dependency":    {"environment"},
	"code_quality":  {"environment"},
	"test_coverage": {"environment"},
	"config_drift":  {"environment"},

	// Domain-specific checkers.
	"ytdlp_pipeline":     {"environment"},
	"whisper_health":     {"environment"},
	"knowledge_graph":    {"database"},
	"ontology_sync":      {"database", "knowledge_graph"},
	"url_pattern":        {"environment"},
	"agent_budget":       {"database"},
	"rag_pipeline":       {"database"},
	"golden_quality":     {"database"},
	"citation_integrity": {"database", "knowledge_graph"},
	"search_index":       {"database"},
	"skill_template":     {"environment"},
	"schema_migration":   {"database"},
}

// Graph holds checker dependency edges and resolves execution order.
type Graph struct {
	deps map[string]map[string]struct{}
}

// New creates a graph from the given edge table, or from DefaultDependencies
// when nil.
func New(dependencies map[string][]string) *Graph {
	if dependencies == nil {
		dependencies = DefaultDependencies
	}
	g := &Graph{deps: make(map[string]map[string]struct{}, len(dependencies))}
	for name, deps := range dependencies {
		for _, d := range deps {
			g.Add(name, d)
		}
	}
	return g
}

// Add records that checker depends on dependsOn.
func (g *Graph) Add(checker, dependsOn string) {
	set, ok := g.deps[checker]
	if !ok {
		set = make(map[string]struct{})
		g.deps[checker] = set
	}
	set[dependsOn] = struct{}{}
}

// AddFromChecker records all dependencies a checker declares about itself.
func (g *Graph) AddFromChecker(name string, dependsOn []string) {
	for _, d := range dependsOn {
		g.Add(name, d)
	}
}

// Dependencies returns the direct dependencies of a checker, sorted.
func (g *Graph) Dependencies(checker string) []string {
	set := g.deps[checker]
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Resolve expands the requested checkers with their transitive dependencies
// and returns a topological execution order (Kahn's algorithm). Ties break
// alphabetically so the order is deterministic. Nodes stuck in a dependency
// cycle are appended at the end in sorted order rather than dropped.
func (g *Graph) Resolve(checkerNames []string) []string {
	needed := make(map[string]struct{})
	stack := append([]string(nil), checkerNames...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := needed[name]; seen {
			continue
		}
		needed[name] = struct{}{}
		for dep := range g.deps[name] {
			if _, seen := needed[dep]; !seen {
				stack = append(stack, dep)
			}
		}
	}

	inDegree := make(map[string]int, len(needed))
	for n := range needed {
		inDegree[n] = 0
	}
	for n := range needed {
		for dep := range g.deps[n] {
			if _, ok := needed[dep]; ok {
				inDegree[n]++
			}
		}
	}

	var queue []string
	for n := range needed {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(needed))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		for n := range needed {
			if _, dependsOnNode := g.deps[n][node]; dependsOnNode {
				inDegree[n]--
				if inDegree[n] == 0 {
					queue = append(queue, n)
					sort.Strings(queue)
				}
			}
		}
	}

	if len(result) < len(needed) {
		done := make(map[string]struct{}, len(result))
		for _, n := range result {
			done[n] = struct{}{}
		}
		var remaining []string
		for n := range needed {
			if _, ok := done[n]; !ok {
				remaining = append(remaining, n)
			}
		}
		sort.Strings(remaining)
		result = append(result, remaining...)
	}

	return result
}
