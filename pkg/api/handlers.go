package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/vigil/pkg/agent"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/workspace"
)

const (
	defaultHistoryLimit  = 100
	defaultAnalysesLimit = 20
)

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil || !l.Workspace().Config.Agent.Enabled {
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"enabled":      false,
			"state":        "disabled",
			"workspace_id": "",
		})
		return
	}
	status := l.Status()
	status["success"] = true
	status["enabled"] = true
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStart(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	started, err := l.Start(context.Background())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	message := "Started"
	if !started {
		message = "Already running or lock conflict"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": started,
		"state":   string(l.State()),
		"message": message,
	})
}

func (s *Server) handleStop(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}
	l.Stop()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"state":   string(l.State()),
		"message": "Stopped",
	})
}

func (s *Server) handleScan(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	var body struct {
		Checkers []string `json:"checkers"`
	}
	_ = c.ShouldBindJSON(&body) // empty body means full scan

	queued, retryAfter := l.RequestScan(body.Checkers)
	if !queued {
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"rate_limited": true,
			"retry_after":  retryAfter,
			"message":      "Scan rate limited, try again shortly",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Scan queued"})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	var body struct {
		Checker string `json:"checker"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Checker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "checker is required"})
		return
	}

	l.RequestAnalysis(body.Checker)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Analysis queued for " + body.Checker,
	})
}

// handleFix runs a checker's auto-fix for one check synchronously and
// returns the outcome.
func (s *Server) handleFix(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	var body struct {
		Checker string `json:"checker"`
		Check   string `json:"check"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Checker == "" || body.Check == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "checker and check are required"})
		return
	}

	outcome, err := l.RunFix(c.Request.Context(), body.Checker, body.Check)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": outcome.Success, "message": outcome.Message})
}

// handleOverview runs a full scan and asks the LLM for a whole-scan health
// report, parsed into root causes and fix suggestions.
func (s *Server) handleOverview(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}
	if s.provider == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "No LLM provider configured"})
		return
	}

	scan, skipped := l.ScanNow(c.Request.Context(), nil)
	if skipped {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "scan already in progress"})
		return
	}

	prompt := llm.BuildReportPrompt(l.Workspace().Name, scan)
	overview, cost, err := s.provider.GenerateReport(c.Request.Context(), prompt)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	rootCauses, fixes := llm.ParseReport(overview)

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"overview":        overview,
		"root_causes":     rootCauses,
		"fix_suggestions": fixes,
		"model":           s.provider.Model(),
		"cost_usd":        cost,
		"totals": gin.H{
			"overall":    scan["overall"],
			"pass":       scan["total_pass"],
			"warn":       scan["total_warn"],
			"fail":       scan["total_fail"],
			"health_pct": scan["health_pct"],
		},
	})
}

// handleHistory pages through the durable event log. It is the catch-up
// path for SSE clients that received a gap frame.
func (s *Server) handleHistory(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	limit := queryInt(c, "limit", defaultHistoryLimit)
	var sinceID int64
	if raw := c.Query("since_id"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			sinceID = n
		}
	}

	ws := l.Workspace()
	rows, err := s.store.RecentEvents(c.Request.Context(), ws.ID, sinceID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	events := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		var data map[string]any
		if row.DataJSON != "" {
			_ = json.Unmarshal([]byte(row.DataJSON), &data)
		}
		events = append(events, gin.H{
			"id":        row.ID,
			"timestamp": row.Timestamp,
			"type":      row.EventType,
			"source":    row.Source,
			"data":      data,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": ws.ID,
		"events":       events,
		"count":        len(events),
	})
}

// handleScans returns persisted scan summaries, newest first.
func (s *Server) handleScans(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	limit := queryInt(c, "limit", defaultHistoryLimit)
	ws := l.Workspace()
	projectName := ws.Name + " [" + ws.ID + "]"

	scans, err := s.store.ScanHistory(c.Request.Context(), projectName, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": ws.ID,
		"scans":        scans,
	})
}

func (s *Server) handleAnalyses(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	limit := queryInt(c, "limit", defaultAnalysesLimit)
	analyses, err := s.store.RecentAnalyses(c.Request.Context(), l.Workspace().ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": l.Workspace().ID,
		"analyses":     analyses,
	})
}

func (s *Server) handleCost(c *gin.Context) {
	if s.provider == nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    gin.H{"enabled": false},
		})
		return
	}

	costs := s.provider.Costs()
	limit := costs.DailyLimit()
	spent := costs.TotalToday()
	usagePct := 0.0
	if limit > 0 {
		usagePct = spent / limit * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"enabled": true,
			"model":   s.provider.Model(),
			"daily":   costs.DailySummary(),
			"budget": gin.H{
				"limit":     limit,
				"spent":     spent,
				"usage_pct": usagePct,
				"exceeded":  spent >= limit,
				"blocked":   !costs.CanSpend(0.01),
			},
		},
	})
}

func (s *Server) handleCheckers(c *gin.Context) {
	l := s.resolveLoop(c)
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such workspace"})
		return
	}

	ws := l.Workspace()
	registry := l.Registry()

	checkers := make([]gin.H, 0, registry.Len())
	for _, meta := range registry.Metas() {
		checkers = append(checkers, gin.H{
			"name":         meta.Name,
			"display_name": meta.DisplayName,
			"description":  meta.Description,
			"icon":         meta.Icon,
			"color":        meta.Color,
			"enabled":      ws.Config.CheckerEnabled(meta.Name),
		})
	}

	resp := gin.H{
		"success":      true,
		"workspace_id": ws.ID,
		"checkers":     checkers,
	}
	if loadErrors := registry.LoadErrors(); len(loadErrors) > 0 {
		resp["load_errors"] = loadErrors
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWorkspaces(c *gin.Context) {
	s.mu.RLock()
	loops := make([]*agent.Loop, 0, len(s.order))
	for _, id := range s.order {
		loops = append(loops, s.loops[id])
	}
	s.mu.RUnlock()

	workspaces := make([]gin.H, 0, len(loops))
	for _, l := range loops {
		ws := l.Workspace()
		workspaces = append(workspaces, gin.H{
			"workspace_id": ws.ID,
			"name":         ws.Name,
			"root":         ws.Root,
			"running":      l.Running(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "workspaces": workspaces})
}

// handleAddWorkspace registers an extra workspace at runtime from its config
// file and persists it so restarts pick it up again.
func (s *Server) handleAddWorkspace(c *gin.Context) {
	if s.newLoop == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"success": false,
			"error":   "workspace registration is not enabled",
		})
		return
	}

	var body struct {
		ConfigPath string `json:"config_path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ConfigPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "config_path is required"})
		return
	}

	ws, err := workspace.Load(body.ConfigPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if _, exists := s.loopByID(ws.ID); exists {
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"workspace_id": ws.ID,
			"message":      "Workspace already registered",
		})
		return
	}

	l := s.newLoop(ws)
	s.AddLoop(l)
	s.persistWorkspaces()

	running := false
	if ws.Config.Agent.Enabled {
		started, startErr := l.Start(context.Background())
		if startErr != nil {
			slog.Warn("Failed to start loop for added workspace",
				"workspace_id", ws.ID, "error", startErr)
		}
		running = started
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"workspace_id": ws.ID,
		"name":         ws.Name,
		"running":      running,
		"message":      "Workspace added",
	})
}

// persistWorkspaces writes the extras registry next to the primary config.
func (s *Server) persistWorkspaces() {
	s.mu.RLock()
	all := make(map[string]*workspace.Workspace, len(s.loops))
	for id, l := range s.loops {
		all[id] = l.Workspace()
	}
	var primaryID string
	if len(s.order) > 0 {
		primaryID = s.order[0]
	}
	s.mu.RUnlock()

	if err := workspace.SaveRegistry(s.primaryConfigPath, all, primaryID); err != nil {
		slog.Warn("Failed to persist workspace registry", "error", err)
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
