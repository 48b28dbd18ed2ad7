// Vigil agent server: watches workspaces, runs diagnostic scans and serves
// the HTTP API with the live event stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/vigil/pkg/agent"
	"github.com/codeready-toolchain/vigil/pkg/api"
	"github.com/codeready-toolchain/vigil/pkg/checker"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/storage"
	"github.com/codeready-toolchain/vigil/pkg/version"
	"github.com/codeready-toolchain/vigil/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("VIGIL_CONFIG", "./vigil.yaml"),
		"Path to the primary workspace config file")
	flag.Parse()

	// Load .env from the config directory so API keys travel with the
	// workspace.
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting vigil",
		"version", version.Full(),
		"http_port", httpPort,
		"config", *configPath)

	primary, err := workspace.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load workspace config", "error", err)
		os.Exit(1)
	}

	workspaces := []*workspace.Workspace{primary}
	for _, extraPath := range workspace.LoadSaved(primary.ConfigPath) {
		ws, loadErr := workspace.Load(extraPath)
		if loadErr != nil {
			slog.Warn("Skipping saved workspace", "path", extraPath, "error", loadErr)
			continue
		}
		workspaces = append(workspaces, ws)
	}

	store, err := storage.Open(primary.Config.Storage.Path)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("Failed to close storage", "error", closeErr)
		}
	}()

	var provider *llm.Provider
	if primary.Config.LLM.Model != "" {
		provider, err = llm.NewProvider(primary.Config.LLM)
		if err != nil {
			slog.Warn("LLM analysis disabled", "error", err)
			provider = nil
		} else {
			slog.Info("LLM analysis enabled", "model", provider.Model())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	newLoop := func(ws *workspace.Workspace) *agent.Loop {
		registry := checker.NewRegistry()
		registry.Register(checker.NewEnvironmentChecker())
		return agent.NewLoop(ws, store, registry, agent.Options{Provider: provider})
	}

	server := api.NewServer(store, provider)
	server.EnableWorkspaceAdd(primary.ConfigPath, newLoop)

	for _, ws := range workspaces {
		loop := newLoop(ws)
		server.AddLoop(loop)

		if ws.Config.Agent.Enabled {
			started, startErr := loop.Start(ctx)
			if startErr != nil {
				slog.Error("Failed to start agent loop",
					"workspace_id", ws.ID, "error", startErr)
			} else if !started {
				slog.Warn("Agent loop not started, workspace lock held elsewhere",
					"workspace_id", ws.ID)
			}
		}
	}

	if err := server.Start(":" + httpPort); err != nil {
		slog.Error("Failed to start HTTP server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	for _, loop := range server.Loops() {
		loop.Stop()
	}
	if err := server.Stop(context.Background()); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}
