// Package api exposes the agent over HTTP: control endpoints, history
// queries and the SSE event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/agent"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/storage"
	"github.com/codeready-toolchain/vigil/pkg/workspace"
)

// workspaceCookie remembers a client's selected workspace across requests.
const workspaceCookie = "vigil_workspace"

// Server hosts the HTTP API over one or more workspace agent loops.
type Server struct {
	store    *storage.Store
	provider *llm.Provider

	mu    sync.RWMutex
	loops map[string]*agent.Loop
	// order preserves registration order; the first loop is the default
	// workspace when a request names none.
	order []string

	// newLoop and primaryConfigPath enable the runtime workspace-add API;
	// both stay unset in tests that only exercise pre-registered loops.
	newLoop           func(*workspace.Workspace) *agent.Loop
	primaryConfigPath string

	httpServer *http.Server
}

// NewServer creates a server over the given store. provider may be nil when
// LLM analysis is not configured.
func NewServer(store *storage.Store, provider *llm.Provider) *Server {
	return &Server{
		store:    store,
		provider: provider,
		loops:    make(map[string]*agent.Loop),
	}
}

// AddLoop registers a workspace loop. The first registered loop becomes the
// default workspace.
func (s *Server) AddLoop(l *agent.Loop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := l.Workspace().ID
	if _, exists := s.loops[id]; exists {
		return
	}
	s.loops[id] = l
	s.order = append(s.order, id)
}

// Loops returns all registered loops in registration order, including any
// added at runtime. Shutdown paths use this to stop every loop.
func (s *Server) Loops() []*agent.Loop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loops := make([]*agent.Loop, 0, len(s.order))
	for _, id := range s.order {
		loops = append(loops, s.loops[id])
	}
	return loops
}

// EnableWorkspaceAdd turns on the runtime workspace registration endpoint.
// factory builds a fully wired loop for a freshly loaded workspace;
// primaryConfigPath anchors the persisted extras registry.
func (s *Server) EnableWorkspaceAdd(primaryConfigPath string, factory func(*workspace.Workspace) *agent.Loop) {
	s.primaryConfigPath = primaryConfigPath
	s.newLoop = factory
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api/agent")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.POST("/scan", s.handleScan)
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/fix", s.handleFix)
		api.POST("/overview", s.handleOverview)
		api.GET("/events", s.handleEvents)
		api.GET("/history", s.handleHistory)
		api.GET("/scans", s.handleScans)
		api.GET("/analyses", s.handleAnalyses)
		api.GET("/cost", s.handleCost)
		api.GET("/checkers", s.handleCheckers)
		api.GET("/workspaces", s.handleWorkspaces)
		api.POST("/workspaces", s.handleAddWorkspace)
	}

	return router
}

// Start begins serving on addr. It returns once the listener is up; serve
// errors after that are logged.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// resolveLoop picks the workspace for a request: explicit query parameter,
// then cookie, then the first registered workspace. An explicit selection is
// remembered in the cookie.
func (s *Server) resolveLoop(c *gin.Context) *agent.Loop {
	if id := c.Query("workspace_id"); id != "" {
		if l, ok := s.loopByID(id); ok {
			c.SetCookie(workspaceCookie, id, int((30 * 24 * time.Hour).Seconds()), "/", "", false, true)
			return l
		}
		return nil
	}
	if id, err := c.Cookie(workspaceCookie); err == nil && id != "" {
		if l, ok := s.loopByID(id); ok {
			return l
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) > 0 {
		return s.loops[s.order[0]]
	}
	return nil
}

func (s *Server) loopByID(id string) (*agent.Loop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loops[id]
	return l, ok
}

// requestLogger logs each request with method, path, status and latency.
// The SSE endpoint is skipped: its requests are long-lived by design.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/api/agent/events" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
