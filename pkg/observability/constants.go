// Package observability wires OpenTelemetry tracing and metrics for the
// runtime. Both are disabled by default and initialized from config.
package observability

const (
	AttrAgentName       = "agent.name"
	AttrRunID           = "run.id"
	AttrToolName        = "tool.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"

	SpanAgentRun      = "agent.run"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanGraphNode     = "graph.node"
	SpanMemberRun     = "team.member_run"

	DefaultServiceName = "conductor"
)
