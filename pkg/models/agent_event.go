// Package models defines the core data types shared across the agent pipeline.
package models

import "time"

// EventType identifies the kind of event flowing through the agent pipeline.
type EventType string

const (
	EventFileChanged          EventType = "file_changed"
	EventFileCreated          EventType = "file_created"
	EventFileDeleted          EventType = "file_deleted"
	EventScanRequested        EventType = "scan_requested"
	EventScanCompleted        EventType = "scan_completed"
	EventCriticalDetected     EventType = "critical_detected"
	EventLLMAnalysisRequested EventType = "llm_analysis_requested"
	EventLLMAnalysisCompleted EventType = "llm_analysis_completed"
	EventFixRequested         EventType = "fix_requested"
	EventFixCompleted         EventType = "fix_completed"
	EventAgentStateChanged    EventType = "agent_state_changed"
	EventInsightGenerated     EventType = "insight_generated"
)

// Event is the core unit flowing through the agent pipeline. Every event
// carries the workspace it belongs to so multi-workspace deployments never
// mix streams.
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Source      string         `json:"source"` // "watcher", "user", "reasoner", "executor", "loop"
	WorkspaceID string         `json:"workspace_id"`
	Data        map[string]any `json:"data"`
}

// NewEvent constructs an event stamped with the current time.
func NewEvent(t EventType, source, workspaceID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:        t,
		Timestamp:   time.Now(),
		Source:      source,
		WorkspaceID: workspaceID,
		Data:        data,
	}
}

// FileChange describes a single file system change detected by the observer.
type FileChange struct {
	Path       string `json:"path"`
	ChangeType string `json:"change"` // "created", "modified", "deleted"
	Extension  string `json:"ext"`
	RelPath    string `json:"rel_path"`
}
