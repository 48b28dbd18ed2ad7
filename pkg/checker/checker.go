// Package checker defines the diagnostic checker contract and the
// per-workspace checker registry.
//
// Checker protocol (4 stages): inspect (Run) → evidence (CheckResult.Details)
// → recommendation (Message/FixDesc) → fix (Fix). Run must stay read-only;
// Fix is limited to safe, non-destructive actions.
package checker

import (
	"context"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// Meta describes a checker for UIs and listings.
type Meta struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
}

// FixOutcome reports the result of an auto-fix attempt.
type FixOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Checker is a single diagnostic unit. Implementations must be safe to call
// from one goroutine at a time; the executor never runs a checker concurrently
// with itself or with other checkers.
type Checker interface {
	// Name is the unique identifier and the single source of truth for
	// identity in dependency edges, events and storage rows.
	Name() string

	// Meta returns display metadata.
	Meta() Meta

	// DependsOn lists checkers that must run before this one.
	DependsOn() []string

	// IsApplicable reports whether the checker should run for this config.
	IsApplicable(cfg *config.Config) bool

	// Run diagnoses project state. Read-only: it must not mutate the
	// workspace. Failures are expressed as FAIL check results, not errors;
	// an error return means the checker itself could not execute.
	Run(ctx context.Context, root string, cfg *config.Config) (*models.PhaseReport, error)

	// Fix attempts a safe auto-fix for one named check.
	Fix(ctx context.Context, checkName, root string, cfg *config.Config) FixOutcome
}

// Base provides default implementations so checkers only override what they
// need.
type Base struct{}

func (Base) DependsOn() []string { return nil }

func (Base) IsApplicable(*config.Config) bool { return true }

func (Base) Fix(_ context.Context, _ string, _ string, _ *config.Config) FixOutcome {
	return FixOutcome{Success: false, Message: "No auto-fix available for this check"}
}
