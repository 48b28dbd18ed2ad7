// Package memory keeps the agent's short-term context: a bounded ring of
// recent events and a sliding window of scan report snapshots used for
// regression detection and LLM evidence.
package memory

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/models"
)

const (
	defaultMaxEvents = 500
	maxSnapshots     = 10
)

// Memory is the in-process agent memory for one workspace. The agent loop is
// the only writer; reads may come from API goroutines, so access is guarded.
type Memory struct {
	mu           sync.Mutex
	workspaceID  string
	events       []eventEntry
	maxEvents    int
	lastScanTime time.Time
	// snapshots[0] is the newest scan: checker name → report dict.
	snapshots []map[string]map[string]any
}

type eventEntry struct {
	Type      models.EventType
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// New creates a memory for the given workspace. maxEvents <= 0 selects the
// default capacity of 500.
func New(workspaceID string, maxEvents int) *Memory {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &Memory{workspaceID: workspaceID, maxEvents: maxEvents}
}

// RecordEvent appends an event to the ring, evicting the oldest entries past
// capacity.
func (m *Memory) RecordEvent(evt models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventEntry{
		Type:      evt.Type,
		Timestamp: evt.Timestamp,
		Source:    evt.Source,
		Data:      evt.Data,
	})
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// RecordScanReports stores a scan snapshot (checker name → report dict) at
// the front of the window and stamps the last scan time.
func (m *Memory) RecordScanReports(reports map[string]map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append([]map[string]map[string]any{reports}, m.snapshots...)
	if len(m.snapshots) > maxSnapshots {
		m.snapshots = m.snapshots[:maxSnapshots]
	}
	m.lastScanTime = time.Now()
}

// LastScanTime returns the time of the most recent recorded scan, zero when
// no scan has completed yet.
func (m *Memory) LastScanTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastScanTime
}

// RecentScanReports returns up to limit snapshots, newest first.
func (m *Memory) RecentScanReports(limit int) []map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.snapshots) {
		limit = len(m.snapshots)
	}
	out := make([]map[string]map[string]any, limit)
	copy(out, m.snapshots[:limit])
	return out
}

// EventCount returns the number of events currently held in the ring.
func (m *Memory) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// recentFileChanges returns up to limit file_changed event payloads, newest
// first. Caller must hold the lock.
func (m *Memory) recentFileChanges(limit int) []map[string]any {
	var changes []map[string]any
	for i := len(m.events) - 1; i >= 0 && len(changes) < limit; i-- {
		if m.events[i].Type == models.EventFileChanged {
			changes = append(changes, m.events[i].Data)
		}
	}
	return changes
}

// ContextForLLM assembles the evidence context for a deep analysis of one
// checker: its recent reports, PASS-to-FAIL/WARN regressions between the two
// latest scans, and recent file change batches.
func (m *Memory) ContextForLLM(checkerName string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recentForChecker []map[string]any
	for i := 0; i < len(m.snapshots) && i < 3; i++ {
		if report, ok := m.snapshots[i][checkerName]; ok {
			recentForChecker = append(recentForChecker, report)
		}
	}

	var regressions []map[string]any
	if len(m.snapshots) >= 2 {
		current := checksByName(m.snapshots[0][checkerName])
		previous := checksByName(m.snapshots[1][checkerName])
		for name, cur := range current {
			prev, ok := previous[name]
			if !ok {
				continue
			}
			prevStatus, _ := prev["status"].(string)
			curStatus, _ := cur["status"].(string)
			if prevStatus == models.StatusPass &&
				(curStatus == models.StatusFail || curStatus == models.StatusWarn) {
				msg, _ := cur["message"].(string)
				regressions = append(regressions, map[string]any{
					"check":   name,
					"was":     prevStatus,
					"now":     curStatus,
					"message": msg,
				})
			}
		}
	}

	fileChanges := m.recentFileChanges(10)
	recentChangeBatches := make([]any, 0, 3)
	for i := 0; i < len(fileChanges) && i < 3; i++ {
		if files, ok := fileChanges[i]["files"].([]any); ok {
			if len(files) > 5 {
				files = files[:5]
			}
			recentChangeBatches = append(recentChangeBatches, files)
		}
	}

	return map[string]any{
		"checker":                checkerName,
		"workspace_id":           m.workspaceID,
		"recent_reports":         recentForChecker,
		"regressions":            regressions,
		"recent_file_changes":    recentChangeBatches,
		"total_events_in_memory": len(m.events),
	}
}

// checksByName indexes a report dict's checks by check name.
func checksByName(report map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	if report == nil {
		return out
	}
	checks, _ := report["checks"].([]any)
	for _, raw := range checks {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := c["name"].(string); ok {
			out[name] = c
		}
	}
	return out
}
