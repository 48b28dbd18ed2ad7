// Package workspace resolves workspace identity and loads workspace
// definitions from config files.
package workspace

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/codeready-toolchain/vigil/pkg/config"
)

// Workspace is one watched project: its identity, resolved root and config.
type Workspace struct {
	ID         string
	Name       string
	Root       string
	ConfigPath string
	Config     *config.Config
}

// ID derives the stable workspace identifier from the canonical config path:
// the first 10 hex characters of its SHA-1. Two configs at different paths
// always get distinct workspaces, even for the same project root.
func ID(configPath string) string {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])[:10]
}

// Load reads the config file at path and builds the workspace around it.
func Load(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		ID:         ID(abs),
		Name:       cfg.Project.Name,
		Root:       cfg.Project.Root,
		ConfigPath: abs,
		Config:     cfg,
	}, nil
}
