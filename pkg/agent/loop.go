// Package agent runs the per-workspace observe-reason-act loop: it receives
// events from the file observer and the API, lets the reasoner turn them into
// actions, executes those actions, and fans every event out to memory,
// durable storage and SSE subscribers.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/checker"
	"github.com/codeready-toolchain/vigil/pkg/cleanup"
	"github.com/codeready-toolchain/vigil/pkg/events"
	"github.com/codeready-toolchain/vigil/pkg/executor"
	"github.com/codeready-toolchain/vigil/pkg/graph"
	"github.com/codeready-toolchain/vigil/pkg/memory"
	"github.com/codeready-toolchain/vigil/pkg/models"
	"github.com/codeready-toolchain/vigil/pkg/observer"
	"github.com/codeready-toolchain/vigil/pkg/reasoner"
	"github.com/codeready-toolchain/vigil/pkg/storage"
	"github.com/codeready-toolchain/vigil/pkg/workspace"
)

const (
	eventQueueSize  = 256
	tickInterval    = time.Second
	stopJoinTimeout = 5 * time.Second
	errorPause      = 2 * time.Second
)

// Loop is the agent for one workspace.
type Loop struct {
	ws       *workspace.Workspace
	store    *storage.Store
	mem      *memory.Memory
	broker   *events.Broker
	registry *checker.Registry
	reasoner *reasoner.Reasoner
	executor *executor.Executor
	cleaner  *cleanup.Service
	observer *observer.Observer
	lock     *SingletonLock

	queue  chan models.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	running bool
	started time.Time
}

// Options carries the optional collaborators a loop can be built with.
type Options struct {
	// LockDir overrides the singleton lock directory; empty selects the
	// per-user default.
	LockDir string
	// Provider enables tier-2 analysis when non-nil.
	Provider executor.AnalysisProvider
}

// NewLoop wires the agent pipeline for one workspace. The checker registry
// must already hold the workspace's checkers.
func NewLoop(ws *workspace.Workspace, store *storage.Store, registry *checker.Registry, opts Options) *Loop {
	mem := memory.New(ws.ID, 0)
	g := graph.New(nil)
	for _, name := range registry.Names() {
		if c, ok := registry.Get(name); ok {
			g.AddFromChecker(name, c.DependsOn())
		}
	}

	l := &Loop{
		ws:       ws,
		store:    store,
		mem:      mem,
		broker:   events.NewBroker(),
		registry: registry,
		reasoner: reasoner.New(ws.Config.Agent, mem, registry),
		executor: executor.New(ws.Config, registry, g, mem, opts.Provider),
		cleaner:  cleanup.NewService(store, ws.Config.Agent.Retention, ws.Config.Agent.PurgeInterval),
		lock:     NewSingletonLock(opts.LockDir, ws.ID, ws.Config.Agent.SingletonMaxAge),
		queue:    make(chan models.Event, eventQueueSize),
		state:    StateIdle,
	}
	l.observer = observer.New(ws.Root, ws.ID, ws.Config.Agent, l.enqueue)
	return l
}

// Start acquires the workspace singleton lock, starts the observer and runs
// the loop. Returns false without error when another agent holds the lock.
func (l *Loop) Start(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	ok, err := l.lock.TryAcquire()
	if err != nil {
		return false, fmt.Errorf("failed to acquire workspace lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	// Startup purge keeps an agent that was down for a long time from
	// carrying months of stale events into its first session.
	if _, purgeErr := l.cleaner.RunNow(runCtx); purgeErr != nil {
		slog.Warn("Startup retention purge failed", "error", purgeErr)
	}

	if err := l.observer.Start(runCtx); err != nil {
		l.lock.Release()
		cancel()
		return false, fmt.Errorf("failed to start observer: %w", err)
	}

	l.mu.Lock()
	l.running = true
	l.started = time.Now()
	l.mu.Unlock()

	l.setState(StateObserving)
	go l.run(runCtx)

	slog.Info("Agent loop started",
		"workspace_id", l.ws.ID, "name", l.ws.Name, "root", l.ws.Root)
	return true, nil
}

// Stop shuts the loop down: observer first so no new events arrive, then
// the loop goroutine, then the singleton lock.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	l.observer.Stop()
	l.cancel()
	select {
	case <-l.done:
	case <-time.After(stopJoinTimeout):
		slog.Warn("Agent loop did not stop in time", "workspace_id", l.ws.ID)
	}
	l.lock.Release()
	l.setState(StateIdle)
	slog.Info("Agent loop stopped", "workspace_id", l.ws.ID)
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Broker exposes the SSE fan-out for the API layer.
func (l *Loop) Broker() *events.Broker { return l.broker }

// Workspace returns the workspace this loop serves.
func (l *Loop) Workspace() *workspace.Workspace { return l.ws }

// Registry returns the workspace's checker registry.
func (l *Loop) Registry() *checker.Registry { return l.registry }

// Status summarizes the loop for the status API.
func (l *Loop) Status() map[string]any {
	l.mu.Lock()
	state := l.state
	running := l.running
	started := l.started
	l.mu.Unlock()

	status := map[string]any{
		"state":            string(state),
		"running":          running,
		"workspace_id":     l.ws.ID,
		"project_name":     l.ws.Name,
		"project_root":     l.ws.Root,
		"observer_running": l.observer.Running(),
		"executor_busy":    l.executor.Busy(),
		"llm_available":    l.executor.HasProvider(),
		"event_queue_size": len(l.queue),
		"events_in_memory": l.mem.EventCount(),
		"sse_clients":      l.broker.SubscriberCount(),
		"checkers":         l.registry.Names(),
		"checker_count":    l.registry.Len(),
	}
	if running {
		status["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	if last := l.mem.LastScanTime(); !last.IsZero() {
		status["last_scan_time"] = last.UTC().Format(time.RFC3339)
	}
	if loadErrors := l.registry.LoadErrors(); len(loadErrors) > 0 {
		status["checker_load_errors"] = loadErrors
	}
	return status
}

// RequestScan queues a manual scan. Returns queued=false with a retry-after
// hint when the manual scan rate limit rejects it.
func (l *Loop) RequestScan(checkers []string) (bool, float64) {
	allowed, retryAfter := l.reasoner.AdmitManualScan()
	if !allowed {
		return false, retryAfter
	}
	data := map[string]any{"checkers": checkers}
	l.enqueue(models.NewEvent(models.EventScanRequested, "user", l.ws.ID, data))
	return true, 0
}

// ScanNow runs the requested checkers synchronously, outside the event
// pipeline. It shares the executor's scan lock, so it never overlaps a
// queued scan. Nothing is emitted or persisted; the caller owns the payload.
func (l *Loop) ScanNow(ctx context.Context, checkers []string) (map[string]any, bool) {
	return l.executor.RunScan(ctx, checkers)
}

// RunFix executes a checker's auto-fix for one check and reports the outcome
// through the event stream.
func (l *Loop) RunFix(ctx context.Context, checkerName, checkName string) (checker.FixOutcome, error) {
	c, ok := l.registry.Get(checkerName)
	if !ok {
		return checker.FixOutcome{}, fmt.Errorf("unknown checker: %s", checkerName)
	}

	l.emit(ctx, models.NewEvent(models.EventFixRequested, "user", l.ws.ID, map[string]any{
		"checker": checkerName,
		"check":   checkName,
	}))

	outcome := c.Fix(ctx, checkName, l.ws.Root, l.ws.Config)

	l.emit(ctx, models.NewEvent(models.EventFixCompleted, "executor", l.ws.ID, map[string]any{
		"checker": checkerName,
		"check":   checkName,
		"success": outcome.Success,
		"message": outcome.Message,
	}))
	return outcome, nil
}

// RequestAnalysis queues a deep analysis of one checker.
func (l *Loop) RequestAnalysis(checkerName string) {
	l.enqueue(models.NewEvent(models.EventLLMAnalysisRequested, "user", l.ws.ID, map[string]any{
		"checker": checkerName,
	}))
}

// enqueue adds an event to the loop queue, dropping it with a warning when
// the queue is saturated.
func (l *Loop) enqueue(evt models.Event) {
	select {
	case l.queue <- evt:
	default:
		slog.Warn("Agent event queue full, dropping event",
			"event_type", evt.Type, "workspace_id", l.ws.ID)
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-l.queue:
			l.safeProcess(ctx, evt)
		case <-ticker.C:
			l.maybePurge(ctx)
		}
	}
}

// safeProcess contains panics from event handling: the loop enters ERROR,
// pauses briefly and resumes observing instead of dying.
func (l *Loop) safeProcess(ctx context.Context, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent loop recovered from panic",
				"event_type", evt.Type, "panic", r)
			l.setStateWithDetail(StateError, map[string]any{"error": fmt.Sprint(r)})
			select {
			case <-ctx.Done():
			case <-time.After(errorPause):
			}
			l.setState(StateObserving)
		}
	}()
	l.process(ctx, evt)
}

func (l *Loop) process(ctx context.Context, evt models.Event) {
	l.emit(ctx, evt)

	l.setState(StateReasoning)
	actions := l.reasoner.Evaluate(evt)
	l.apply(ctx, actions)
	l.setState(StateObserving)
}

// apply executes reasoner actions. Scan completion feeds straight back into
// the reasoner so insights and critical escalation happen in the same pass.
func (l *Loop) apply(ctx context.Context, actions []reasoner.Action) {
	for _, action := range actions {
		switch action.Type {
		case reasoner.ActionRunScan:
			l.runScan(ctx, action.CheckerNames)

		case reasoner.ActionLLMAnalyze:
			for _, name := range action.CheckerNames {
				l.runAnalysis(ctx, name)
			}

		case reasoner.ActionEmitInsight:
			l.emitInsights(ctx, action.Insights)
		}
	}
}

func (l *Loop) runScan(ctx context.Context, checkers []string) {
	l.setState(StateExecuting)
	data, skipped := l.executor.RunScan(ctx, checkers)
	evt := models.NewEvent(models.EventScanCompleted, "executor", l.ws.ID, data)
	l.emit(ctx, evt)
	if skipped {
		return
	}

	l.persistScan(ctx, data)
	l.apply(ctx, l.reasoner.Evaluate(evt))
}

func (l *Loop) runAnalysis(ctx context.Context, checkerName string) {
	l.setState(StateWaitingLLM)
	data, analysis := l.executor.AnalyzeWithLLM(ctx, checkerName)
	l.emit(ctx, models.NewEvent(models.EventLLMAnalysisCompleted, "executor", l.ws.ID, data))

	if analysis != nil {
		if err := l.store.SaveAnalysis(ctx, *analysis, l.ws.ID); err != nil {
			slog.Warn("Failed to persist LLM analysis",
				"checker", checkerName, "error", err)
		}
	}
}

func (l *Loop) emitInsights(ctx context.Context, insights []models.Insight) {
	for _, insight := range insights {
		data := map[string]any{
			"type":     insight.Type,
			"severity": insight.Severity,
			"message":  insight.Message,
			"checkers": insight.Checkers,
		}
		if insight.Details != nil {
			data["details"] = insight.Details
		}
		l.emit(ctx, models.NewEvent(models.EventInsightGenerated, "reasoner", l.ws.ID, data))

		if err := l.store.SaveInsight(ctx, insight, l.ws.ID); err != nil {
			slog.Warn("Failed to persist insight", "type", insight.Type, "error", err)
		}
	}
}

// emit is the single event sink: short-term memory, durable log, SSE.
// Persistence is best effort; a storage hiccup never stalls the loop.
func (l *Loop) emit(ctx context.Context, evt models.Event) {
	l.mem.RecordEvent(evt)
	if _, err := l.store.SaveEvent(ctx, evt); err != nil {
		slog.Warn("Failed to persist agent event",
			"event_type", evt.Type, "error", err)
	}
	l.broker.Publish(evt)
}

func (l *Loop) persistScan(ctx context.Context, data map[string]any) {
	projectName := fmt.Sprintf("%s [%s]", l.ws.Name, l.ws.ID)
	err := l.store.SaveScan(ctx,
		projectName,
		asString(data["overall"]),
		asInt(data["total_pass"]),
		asInt(data["total_warn"]),
		asInt(data["total_fail"]),
		asFloat(data["health_pct"]),
		"[]",
		int64(asInt(data["duration_ms"])),
	)
	if err != nil {
		slog.Warn("Failed to persist scan", "error", err)
	}
}

func (l *Loop) maybePurge(ctx context.Context) {
	result, err := l.cleaner.MaybePurge(ctx)
	if err != nil || result == nil || result.TotalDeleted == 0 {
		return
	}
	l.emit(ctx, models.NewEvent(models.EventInsightGenerated, "loop", l.ws.ID, map[string]any{
		"purge":            true,
		"total_deleted":    result.TotalDeleted,
		"events_deleted":   result.EventsDeleted,
		"analyses_deleted": result.AnalysesDeleted,
		"insights_deleted": result.InsightsDeleted,
	}))
}

func (l *Loop) setState(next State) {
	l.setStateWithDetail(next, nil)
}

func (l *Loop) setStateWithDetail(next State, extra map[string]any) {
	l.mu.Lock()
	old := l.state
	if old == next {
		l.mu.Unlock()
		return
	}
	l.state = next
	l.mu.Unlock()

	data := map[string]any{"old": string(old), "new": string(next)}
	for k, v := range extra {
		data[k] = v
	}
	evt := models.NewEvent(models.EventAgentStateChanged, "loop", l.ws.ID, data)
	l.mem.RecordEvent(evt)
	if _, err := l.store.SaveEvent(context.Background(), evt); err != nil {
		slog.Warn("Failed to persist state change", "error", err)
	}
	l.broker.Publish(evt)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
