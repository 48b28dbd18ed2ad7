package agent

// State is the agent loop's lifecycle state, surfaced through the status
// API and state change events.
type State string

const (
	StateIdle       State = "IDLE"
	StateObserving  State = "OBSERVING"
	StateReasoning  State = "REASONING"
	StateExecuting  State = "EXECUTING"
	StateWaitingLLM State = "WAITING_LLM"
	StateError      State = "ERROR"
)
