package checker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/vigil/pkg/config"
)

// LoadError records a checker that failed to load or register. Load failures
// never abort startup; they are surfaced through the status API instead.
type LoadError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Registry holds the checker set for one workspace. Each workspace gets an
// independent registry so per-project checker sets never bleed into each
// other.
type Registry struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	loadErrors []LoadError
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker. A checker with an empty or duplicate name is
// recorded as a load error and skipped.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if name == "" {
		r.loadErrors = append(r.loadErrors, LoadError{Error: "checker has empty name"})
		return
	}
	if _, exists := r.checkers[name]; exists {
		r.loadErrors = append(r.loadErrors, LoadError{
			File:  name,
			Error: fmt.Sprintf("duplicate checker name %q", name),
		})
		return
	}
	r.checkers[name] = c
}

// RecordLoadError records a failed plugin load for later surfacing.
func (r *Registry) RecordLoadError(file string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrors = append(r.loadErrors, LoadError{File: file, Error: err.Error()})
}

// Get looks up a checker by name.
func (r *Registry) Get(name string) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[name]
	return c, ok
}

// Names returns all registered checker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledNames returns the names of checkers that are applicable and enabled
// for the given config, sorted.
func (r *Registry) EnabledNames(cfg *config.Config) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, c := range r.checkers {
		if cfg.CheckerEnabled(name) && c.IsApplicable(cfg) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Metas returns display metadata for all registered checkers, sorted by name.
func (r *Registry) Metas() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metas := make([]Meta, 0, len(r.checkers))
	for _, c := range r.checkers {
		metas = append(metas, c.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// LoadErrors returns recorded load failures.
func (r *Registry) LoadErrors() []LoadError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoadError, len(r.loadErrors))
	copy(out, r.loadErrors)
	return out
}

// Len returns the number of registered checkers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.checkers)
}
