// Package agent implements the bounded agent execution loop: a step machine
// that interleaves model calls with tool dispatch, streams partial output,
// suspends for human input, and terminates deterministically.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/compaction"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/prompt"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/runlog"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/tools"
	"github.com/kadirpekel/conductor/pkg/utils"
)

// Result is the outcome of a run (or of the segment up to a suspension).
type Result struct {
	RunID         string                     `json:"run_id"`
	Response      string                     `json:"response"`
	Success       bool                       `json:"success"`
	Steps         int                        `json:"steps"`
	Reason        string                     `json:"reason,omitempty"`
	RequiresInput bool                       `json:"requires_input,omitempty"`
	InputRequest  *protocol.UserInputRequest `json:"input_request,omitempty"`
	LogFile       string                     `json:"log_file,omitempty"`
}

// Agent owns one conversation and drives the loop over it. An Agent is not
// safe for concurrent runs; coordinators create one per task.
type Agent struct {
	opts      Options
	counter   *utils.TokenCounter
	compactor *compaction.Compactor

	mu               sync.Mutex
	status           Status
	messages         []protocol.Message
	steps            int
	lastAssistant    string
	pendingInput     *protocol.UserInputRequest
	pausedToolCallID string

	cancelled atomic.Bool
}

// New builds an agent. The system message is assembled once at
// construction; session history (when a store and session are wired) is
// injected as additional context.
func New(opts Options) (*Agent, error) {
	opts.withDefaults()

	if opts.Provider == nil {
		return nil, fmt.Errorf("agent '%s': LLM provider is required", opts.Name)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("agent '%s': tool registry is required", opts.Name)
	}

	a := &Agent{
		opts:    opts,
		counter: utils.NewTokenCounter(opts.Provider.GetModelName()),
		status:  StatusIdle,
	}

	summarizer, err := compaction.NewLLMSummarizer(opts.Provider, "")
	if err != nil {
		return nil, err
	}
	a.compactor = compaction.New(a.counter, summarizer)

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		cfg := opts.PromptConfig
		if opts.SessionStore != nil && opts.SessionID != "" {
			if history := opts.SessionStore.HistoryContext(opts.SessionID, opts.HistoryRuns); history != "" {
				if cfg.AdditionalContext != "" {
					cfg.AdditionalContext += "\n\n"
				}
				cfg.AdditionalContext += history
			}
		}

		var skillIndex []prompt.SkillEntry
		if opts.SkillLoader != nil {
			for _, meta := range opts.SkillLoader.List() {
				skillIndex = append(skillIndex, prompt.SkillEntry{
					Name:        meta.Name,
					Description: meta.Description,
				})
			}
		}

		systemPrompt = prompt.Build(cfg, opts.Registry.PromptInstructions(), skillIndex, prompt.Env{
			WorkspaceDir: opts.WorkspaceDir,
			Clock:        opts.Clock,
		})
	}

	a.messages = []protocol.Message{protocol.SystemMessage(systemPrompt)}

	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string {
	return a.opts.Name
}

// Status returns the loop state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Messages returns a copy of the conversation.
func (a *Agent) Messages() []protocol.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]protocol.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// PendingInput returns the outstanding input request, if suspended.
func (a *Agent) PendingInput() *protocol.UserInputRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingInput
}

// Cancel requests cooperative cancellation; the loop honors it between
// steps and at every suspension point.
func (a *Agent) Cancel() {
	a.cancelled.Store(true)
}

// Run executes the loop to a terminal state (or a human-input suspension)
// and returns the result. An empty task continues from the existing
// history without a new user turn.
func (a *Agent) Run(ctx context.Context, task string) (*Result, error) {
	return a.run(ctx, task, func(Event) {})
}

// RunStream executes the loop while emitting events on the returned
// channel. The channel closes after the terminal (or suspension) event.
func (a *Agent) RunStream(ctx context.Context, task string) <-chan Event {
	events := make(chan Event, 100)
	go func() {
		defer close(events)
		_, _ = a.run(ctx, task, func(ev Event) {
			events <- ev
		})
	}()
	return events
}

// ProvideUserInput answers the paused get_user_input call with the given
// field values. The originating tool call is considered answered by a
// synthetic tool message; the loop may then be resumed.
func (a *Agent) ProvideUserInput(values map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pendingInput == nil || a.pausedToolCallID == "" {
		return fmt.Errorf("agent '%s' is not waiting for user input", a.opts.Name)
	}

	answered := make([]map[string]any, 0, len(a.pendingInput.Fields))
	for _, field := range a.pendingInput.Fields {
		value, ok := values[field.FieldName]
		if !ok {
			value = field.Value
		}
		answered = append(answered, map[string]any{
			"name":  field.FieldName,
			"value": value,
		})
	}

	payload, err := json.Marshal(answered)
	if err != nil {
		return fmt.Errorf("failed to encode user input: %w", err)
	}

	a.messages = append(a.messages, protocol.ToolMessage(
		a.pausedToolCallID,
		tools.UserInputToolName,
		fmt.Sprintf("User inputs received: %s", payload),
	))

	a.pendingInput = nil
	a.pausedToolCallID = ""
	a.status = StatusIdle
	return nil
}

// run drives the step machine. emit is called for every event in strict
// program order.
func (a *Agent) run(ctx context.Context, task string, emit func(Event)) (*Result, error) {
	startedAt := a.opts.Clock()
	runID := a.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &Result{RunID: runID}

	tracer := observability.GetTracer("conductor.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, a.opts.Name),
			attribute.String(observability.AttrRunID, result.RunID),
		),
	)
	defer span.End()

	var logger *runlog.AgentLogger
	if a.opts.RunLogDir != "" || a.opts.Exporter != nil {
		var err error
		logger, err = runlog.NewAgentLogger(a.opts.RunLogDir, startedAt, a.opts.Exporter)
		if err != nil {
			return nil, err
		}
		defer logger.Close()
	}
	if path := logger.Path(); path != "" {
		result.LogFile = path
		emit(Event{Type: EventLogFile, Data: map[string]any{"path": path}})
	}

	if a.opts.Trace != nil {
		a.opts.Trace.Log(runlog.EventAgentStart, result.RunID, a.opts.ParentRunID, map[string]any{
			"agent": a.opts.Name,
			"task":  truncate(task, 200),
		})
	}

	a.mu.Lock()
	if task != "" {
		a.messages = append(a.messages, protocol.UserMessage(task))
	}
	a.mu.Unlock()

	res := a.loop(ctx, result, logger, emit)

	endedAt := a.opts.Clock()
	if a.opts.Trace != nil && !res.RequiresInput {
		a.opts.Trace.Log(runlog.EventAgentEnd, res.RunID, a.opts.ParentRunID, map[string]any{
			"agent":   a.opts.Name,
			"success": res.Success,
			"steps":   res.Steps,
		})
	}

	if metrics := observability.GetGlobalMetrics(); metrics != nil && !res.RequiresInput {
		metrics.RecordAgentRun(ctx, a.opts.Name, endedAt.Sub(startedAt), res.Success)
	}

	if !res.RequiresInput {
		a.recordRun(res, task, startedAt, endedAt)
	}

	return res, nil
}

func (a *Agent) loop(ctx context.Context, result *Result, logger *runlog.AgentLogger, emit func(Event)) *Result {
	cfg := a.opts.RunConfig
	toolDefs := toolDefinitions(a.opts.Registry)

	for {
		// Cancellation is checked between steps.
		if a.cancelled.Load() || ctx.Err() != nil {
			return a.finishError(result, logger, emit, "run cancelled", ReasonCancelled)
		}

		a.mu.Lock()
		if a.steps >= cfg.MaxSteps {
			a.mu.Unlock()
			return a.finishMaxSteps(result, logger, emit)
		}
		a.steps++
		step := a.steps
		a.status = StatusThinking
		messages := append([]protocol.Message{}, a.messages...)
		a.mu.Unlock()

		tokenCount := a.counter.CountMessages(messages)
		if tokenCount > cfg.TokenLimit && cfg.EnableSummarization {
			compacted, err := a.compactor.MaybeCompact(ctx, messages, cfg.TokenLimit)
			if err != nil {
				var compactionErr *compaction.CompactionError
				if errors.As(err, &compactionErr) {
					return a.finishError(result, logger, emit, err.Error(), ReasonContextOverflow)
				}
				return a.finishError(result, logger, emit, err.Error(), "")
			}
			messages = compacted
			tokenCount = a.counter.CountMessages(messages)

			a.mu.Lock()
			a.messages = messages
			a.mu.Unlock()
		}

		stepData := map[string]any{
			"step":        step,
			"max_steps":   cfg.MaxSteps,
			"token_count": tokenCount,
			"token_limit": cfg.TokenLimit,
		}
		emit(Event{Type: EventStep, Data: stepData})
		logger.Log(runlog.RecordStep, stepData)

		logger.Log(runlog.RecordRequest, map[string]any{
			"model":         a.opts.Provider.GetModelName(),
			"message_count": len(messages),
			"tool_count":    len(toolDefs),
			"streaming":     cfg.Streaming,
		})

		response, err := a.think(ctx, messages, toolDefs, emit)
		if err != nil {
			return a.finishError(result, logger, emit, fmt.Sprintf("LLM call failed: %v", err), "")
		}

		logger.Log(runlog.RecordResponse, map[string]any{
			"content":        response.Content,
			"thinking":       response.Thinking,
			"has_tool_calls": len(response.ToolCalls) > 0,
			"tool_count":     len(response.ToolCalls),
			"input_tokens":   response.InputTokens,
			"output_tokens":  response.OutputTokens,
		})

		assistantMsg := protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   response.Content,
			Thinking:  response.Thinking,
			ToolCalls: response.ToolCalls,
		}

		a.mu.Lock()
		a.messages = append(a.messages, assistantMsg)
		if response.Content != "" {
			a.lastAssistant = response.Content
		}
		a.mu.Unlock()

		if len(response.ToolCalls) == 0 {
			return a.finishOK(result, logger, emit, response.Content)
		}

		// A get_user_input call suspends the run before any dispatch.
		for _, call := range response.ToolCalls {
			if tools.IsUserInputCall(call.Name) {
				return a.pauseForInput(result, emit, call)
			}
		}

		a.mu.Lock()
		a.status = StatusTools
		a.mu.Unlock()

		for _, call := range response.ToolCalls {
			if a.cancelled.Load() || ctx.Err() != nil {
				return a.finishError(result, logger, emit, "run cancelled", ReasonCancelled)
			}

			emit(Event{Type: EventToolCall, Data: map[string]any{
				"tool":         call.Name,
				"arguments":    call.Arguments,
				"tool_call_id": call.ID,
			}})

			var toolResult tools.ToolResult
			if call.RawArguments != "" {
				toolResult = tools.ToolResult{
					Success:  false,
					Error:    "invalid_tool_arguments",
					ToolName: call.Name,
				}
			} else {
				toolResult = a.opts.Registry.Execute(ctx, call.Name, call.Arguments)
			}

			content := toolResult.Content
			if !toolResult.Success {
				content = fmt.Sprintf("Error: %s", toolResult.Error)
			}
			content = a.truncateToolOutput(content)

			durationMs := toolResult.ExecutionTime.Milliseconds()
			if durationMs <= 0 {
				durationMs = 1
			}

			emit(Event{Type: EventToolResult, Data: map[string]any{
				"tool":         call.Name,
				"tool_call_id": call.ID,
				"success":      toolResult.Success,
				"content":      content,
				"duration_ms":  durationMs,
			}})
			logger.Log(runlog.RecordToolExecution, map[string]any{
				"tool":        call.Name,
				"success":     toolResult.Success,
				"error":       toolResult.Error,
				"duration_ms": durationMs,
			})

			a.mu.Lock()
			a.messages = append(a.messages, protocol.ToolMessage(call.ID, call.Name, content))
			a.mu.Unlock()
		}

		a.mu.Lock()
		a.status = StatusIdle
		a.mu.Unlock()
	}
}

// think performs one model turn, streaming deltas when configured.
func (a *Agent) think(ctx context.Context, messages []protocol.Message, toolDefs []llms.ToolDefinition, emit func(Event)) (*llms.Response, error) {
	start := time.Now()
	provider := a.opts.Provider

	record := func(resp *llms.Response, err error) {
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			inputTokens, outputTokens := 0, 0
			if resp != nil {
				inputTokens, outputTokens = resp.InputTokens, resp.OutputTokens
			}
			metrics.RecordLLMRequest(ctx, provider.GetModelName(), time.Since(start), inputTokens, outputTokens, err)
		}
	}

	if !a.opts.RunConfig.Streaming {
		resp, err := provider.Generate(ctx, messages, toolDefs, 0)
		record(resp, err)
		if err != nil {
			return nil, err
		}
		if resp.Content != "" {
			emit(Event{Type: EventContent, Data: map[string]any{"delta": resp.Content}})
		}
		return resp, nil
	}

	stream, err := provider.GenerateStreaming(ctx, messages, toolDefs, 0)
	if err != nil {
		record(nil, err)
		return nil, err
	}

	response := &llms.Response{}
	var content, thinking strings.Builder

	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			content.WriteString(chunk.Text)
			emit(Event{Type: EventContent, Data: map[string]any{"delta": chunk.Text}})
		case llms.ChunkTypeThinking:
			thinking.WriteString(chunk.Text)
			emit(Event{Type: EventThinking, Data: map[string]any{"delta": chunk.Text}})
		case llms.ChunkTypeToolCall:
			response.ToolCalls = append(response.ToolCalls, chunk.ToolCall)
		case llms.ChunkTypeDone:
			response.InputTokens = chunk.InputTokens
			response.OutputTokens = chunk.OutputTokens
		case llms.ChunkTypeError:
			record(nil, chunk.Err)
			return nil, chunk.Err
		}
	}

	response.Content = content.String()
	response.Thinking = thinking.String()
	record(response, nil)
	return response, nil
}

func (a *Agent) pauseForInput(result *Result, emit func(Event), call *protocol.ToolCall) *Result {
	request := tools.ParseUserInputRequest(call)

	a.mu.Lock()
	a.status = StatusPausedForInput
	a.pendingInput = &request
	a.pausedToolCallID = call.ID
	steps := a.steps
	a.mu.Unlock()

	result.RequiresInput = true
	result.InputRequest = &request
	result.Steps = steps
	result.Success = true

	emit(Event{Type: EventUserInputRequired, Data: map[string]any{
		"tool_call_id": request.ToolCallID,
		"fields":       request.Fields,
		"context":      request.Context,
	}})

	return result
}

func (a *Agent) finishOK(result *Result, logger *runlog.AgentLogger, emit func(Event), content string) *Result {
	a.mu.Lock()
	a.status = StatusDoneOK
	result.Steps = a.steps
	a.mu.Unlock()

	result.Response = content
	result.Success = true

	logger.Log(runlog.RecordCompletion, map[string]any{
		"message": content,
		"steps":   result.Steps,
	})
	emit(Event{Type: EventDone, Data: map[string]any{
		"message": content,
		"steps":   result.Steps,
		"reason":  "completed",
	}})
	return result
}

func (a *Agent) finishMaxSteps(result *Result, logger *runlog.AgentLogger, emit func(Event)) *Result {
	a.mu.Lock()
	a.status = StatusDoneMaxSteps
	result.Steps = a.steps
	lastContent := a.lastAssistant
	a.mu.Unlock()

	// Step-limit exhaustion is terminal but not an error.
	result.Response = lastContent
	result.Success = true
	result.Reason = ReasonMaxSteps

	logger.Log(runlog.RecordCompletion, map[string]any{
		"message": lastContent,
		"steps":   result.Steps,
		"reason":  ReasonMaxSteps,
	})
	emit(Event{Type: EventDone, Data: map[string]any{
		"message": lastContent,
		"steps":   result.Steps,
		"reason":  ReasonMaxSteps,
	}})
	return result
}

func (a *Agent) finishError(result *Result, logger *runlog.AgentLogger, emit func(Event), message, reason string) *Result {
	a.mu.Lock()
	a.status = StatusDoneError
	result.Steps = a.steps
	a.mu.Unlock()

	result.Response = message
	result.Success = false
	result.Reason = reason

	logger.Log(runlog.RecordCompletion, map[string]any{
		"message": message,
		"steps":   result.Steps,
		"reason":  reason,
		"error":   true,
	})
	emit(Event{Type: EventError, Data: map[string]any{
		"message": message,
		"reason":  reason,
	}})
	return result
}

func (a *Agent) recordRun(res *Result, task string, startedAt, endedAt time.Time) {
	store := a.opts.SessionStore
	if store == nil || a.opts.SessionID == "" {
		return
	}

	if _, err := store.GetOrCreate(a.opts.SessionID, a.opts.OwnerID, a.opts.Name); err != nil {
		return
	}

	_ = store.AppendRun(a.opts.SessionID, session.RunRecord{
		RunID:       res.RunID,
		ParentRunID: a.opts.ParentRunID,
		RunnerType:  a.opts.RunnerType,
		RunnerName:  a.opts.Name,
		Task:        task,
		Response:    res.Response,
		Success:     res.Success,
		Steps:       res.Steps,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Metadata:    map[string]any{"reason": res.Reason},
	})
}

func (a *Agent) truncateToolOutput(content string) string {
	limit := a.opts.ToolOutputLimit
	if limit <= 0 || len(content) <= limit {
		return content
	}
	return fmt.Sprintf("%s\n\n[... output truncated, %d more characters ...]", content[:limit], len(content)-limit)
}

func toolDefinitions(registry *tools.Registry) []llms.ToolDefinition {
	infos := registry.ListTools()
	defs := make([]llms.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		params := info.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  params,
		})
	}
	return defs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
