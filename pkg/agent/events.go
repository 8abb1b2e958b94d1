package agent

// EventType identifies a run event. Stream consumers receive these in
// strict program order.
type EventType string

const (
	EventLogFile           EventType = "log_file"
	EventStep              EventType = "step"
	EventThinking          EventType = "thinking"
	EventContent           EventType = "content"
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventUserInputRequired EventType = "user_input_required"
	EventDone              EventType = "done"
	EventError             EventType = "error"
)

// Event is one entry of a run's event stream.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Status is the agent loop state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusThinking       Status = "thinking"
	StatusTools          Status = "tools"
	StatusPausedForInput Status = "paused_for_input"
	StatusDoneOK         Status = "done_ok"
	StatusDoneMaxSteps   Status = "done_max_steps"
	StatusDoneError      Status = "done_error"
)

// Termination reasons.
const (
	ReasonMaxSteps        = "max_steps_reached"
	ReasonCancelled       = "cancelled"
	ReasonContextOverflow = "context_overflow"
)
