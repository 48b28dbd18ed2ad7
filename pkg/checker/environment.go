package checker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/models"
)

// EnvironmentChecker is the built-in baseline checker most other checkers
// depend on: it verifies the workspace root exists, is readable, and is
// writable for the agent's own state files.
type EnvironmentChecker struct {
	Base
}

func NewEnvironmentChecker() *EnvironmentChecker { return &EnvironmentChecker{} }

func (c *EnvironmentChecker) Name() string { return "environment" }

func (c *EnvironmentChecker) Meta() Meta {
	return Meta{
		Name:        "environment",
		DisplayName: "Environment",
		Description: "Workspace root accessibility and runtime baseline",
		Icon:        "server",
		Color:       "#6366f1",
	}
}

func (c *EnvironmentChecker) Run(ctx context.Context, root string, cfg *config.Config) (*models.PhaseReport, error) {
	report := &models.PhaseReport{Name: "environment"}

	info, err := os.Stat(root)
	switch {
	case err != nil:
		report.Add(models.CheckResult{
			Name:    "root_exists",
			Status:  models.StatusFail,
			Message: "workspace root is not accessible",
			Details: map[string]any{"root": root, "error": err.Error()},
		})
		return report, nil
	case !info.IsDir():
		report.Add(models.CheckResult{
			Name:    "root_exists",
			Status:  models.StatusFail,
			Message: "workspace root is not a directory",
			Details: map[string]any{"root": root},
		})
		return report, nil
	default:
		report.Add(models.CheckResult{
			Name:   "root_exists",
			Status: models.StatusPass,
		})
	}

	if _, err := os.ReadDir(root); err != nil {
		report.Add(models.CheckResult{
			Name:    "root_readable",
			Status:  models.StatusFail,
			Message: "workspace root cannot be listed",
			Details: map[string]any{"error": err.Error()},
		})
	} else {
		report.Add(models.CheckResult{Name: "root_readable", Status: models.StatusPass})
	}

	probe := filepath.Join(root, ".vigil-write-probe")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		report.Add(models.CheckResult{
			Name:    "root_writable",
			Status:  models.StatusWarn,
			Message: "workspace root is read-only; state files will fail to persist",
			Details: map[string]any{"error": err.Error()},
		})
	} else {
		_ = os.Remove(probe)
		report.Add(models.CheckResult{Name: "root_writable", Status: models.StatusPass})
	}

	report.Add(models.CheckResult{
		Name:   "runtime",
		Status: models.StatusPass,
		Details: map[string]any{
			"go":   runtime.Version(),
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
	})

	return report, nil
}
