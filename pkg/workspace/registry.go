package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// registryFile is the persisted list of workspaces added at runtime. It lives
// next to the primary config so restarts reload the same set. The primary
// workspace itself is never written here; it always comes from the CLI.
type registryFile struct {
	ExtraWorkspaces []string `json:"extra_workspaces"`
	Note            string   `json:"_note,omitempty"`
}

const registryNote = "Auto-managed by vigil. Persists workspaces added at runtime across restarts."

func registryPath(primaryConfigPath string) string {
	return filepath.Join(filepath.Dir(primaryConfigPath), "workspaces.json")
}

// LoadSaved returns the extra workspace config paths recorded next to the
// primary config. Paths that no longer exist are dropped.
func LoadSaved(primaryConfigPath string) []string {
	data, err := os.ReadFile(registryPath(primaryConfigPath))
	if err != nil {
		return nil
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		slog.Warn("Ignoring corrupt workspace registry", "path", registryPath(primaryConfigPath), "error", err)
		return nil
	}
	var paths []string
	for _, p := range reg.ExtraWorkspaces {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// SaveRegistry persists the config paths of all workspaces except the primary.
func SaveRegistry(primaryConfigPath string, workspaces map[string]*Workspace, primaryID string) error {
	reg := registryFile{ExtraWorkspaces: []string{}, Note: registryNote}
	for id, ws := range workspaces {
		if id == primaryID {
			continue
		}
		reg.ExtraWorkspaces = append(reg.ExtraWorkspaces, ws.ConfigPath)
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspace registry: %w", err)
	}
	if err := os.WriteFile(registryPath(primaryConfigPath), data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace registry: %w", err)
	}
	return nil
}
