package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("checker %q not in order %v", name, order)
	return -1
}

func TestResolveExpandsTransitiveDependencies(t *testing.T) {
	g := New(nil)

	order := g.Resolve([]string{"ontology_sync"})

	// ontology_sync needs knowledge_graph and database, knowledge_graph
	// needs database, database needs environment.
	require.ElementsMatch(t, []string{"environment", "database", "knowledge_graph", "ontology_sync"}, order)
	assert.Less(t, indexOf(t, order, "environment"), indexOf(t, order, "database"))
	assert.Less(t, indexOf(t, order, "database"), indexOf(t, order, "knowledge_graph"))
	assert.Less(t, indexOf(t, order, "knowledge_graph"), indexOf(t, order, "ontology_sync"))
}

func TestResolveOrdersPerformanceAfterDatabase(t *testing.T) {
	g := New(nil)

	order := g.Resolve([]string{"performance", "knowledge_graph"})

	require.ElementsMatch(t, []string{"environment", "database", "knowledge_graph", "performance"}, order)
	assert.Less(t, indexOf(t, order, "database"), indexOf(t, order, "performance"))
	assert.Equal(t, "environment", order[0])
}

func TestResolveIsDeterministic(t *testing.T) {
	g := New(nil)

	first := g.Resolve([]string{"security", "api_health", "dependency"})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Resolve([]string{"security", "api_health", "dependency"}))
	}
	// Peers with the same dependency tie-break alphabetically.
	assert.Equal(t, []string{"environment", "api_health", "dependency", "security"}, first)
}

func TestResolveUnknownCheckerPassesThrough(t *testing.T) {
	g := New(nil)

	order := g.Resolve([]string{"custom_checker"})

	assert.Equal(t, []string{"custom_checker"}, order)
}

func TestResolveCycleDoesNotDropCheckers(t *testing.T) {
	g := New(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": nil,
	})

	order := g.Resolve([]string{"a", "c"})

	// The cycle members come after everything resolvable, in sorted order.
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestAddFromChecker(t *testing.T) {
	g := New(map[string][]string{})
	g.AddFromChecker("custom", []string{"environment", "database"})

	assert.Equal(t, []string{"database", "environment"}, g.Dependencies("custom"))

	order := g.Resolve([]string{"custom"})
	assert.Equal(t, "custom", order[len(order)-1])
}

func TestResolveEmptyRequest(t *testing.T) {
	g := New(nil)
	assert.Empty(t, g.Resolve(nil))
}
