// Package runlog provides the per-run JSONL log and the higher-level trace
// stream for multi-agent workflows.
package runlog

import "time"

// AgentLogger record types.
const (
	RecordStep          = "step"
	RecordRequest       = "request"
	RecordResponse      = "response"
	RecordToolExecution = "tool_execution"
	RecordCompletion    = "completion"
)

// Record is one AgentLogger entry.
type Record struct {
	Seq     int       `json:"seq"`
	TS      time.Time `json:"ts"`
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
}

// Trace event types, in the order a fork/join workflow emits them.
const (
	EventWorkflowStart = "workflow_start"
	EventAgentStart    = "agent_start"
	EventDelegation    = "delegation"
	EventTaskStart     = "task_start"
	EventMessagePass   = "message_pass"
	EventTaskEnd       = "task_end"
	EventAgentEnd      = "agent_end"
	EventWorkflowEnd   = "workflow_end"
)

// TraceEvent is one entry of the trace stream. ParentRunID is set for
// events originating from member runs, which lets consumers reconstruct the
// fork/join topology.
type TraceEvent struct {
	TraceID     string    `json:"trace_id"`
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	EventType   string    `json:"event_type"`
	TS          time.Time `json:"ts"`
	Payload     any       `json:"payload,omitempty"`
}

// Exporter receives run records instead of the JSONL file when an external
// observability backend (e.g. Langfuse) is enabled.
type Exporter interface {
	Export(record Record)
}
