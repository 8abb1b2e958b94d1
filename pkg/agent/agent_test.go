package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// mockProvider replays scripted turns.
type mockProvider struct {
	turns []*llms.Response
	calls int
}

func (p *mockProvider) GetModelName() string { return "gpt-4o" }
func (p *mockProvider) GetMaxTokens() int    { return 4096 }
func (p *mockProvider) Close() error         { return nil }

func (p *mockProvider) next() *llms.Response {
	if p.calls >= len(p.turns) {
		return &llms.Response{Content: "out of script"}
	}
	turn := p.turns[p.calls]
	p.calls++
	return turn
}

func (p *mockProvider) Generate(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition, maxTokens int) (*llms.Response, error) {
	return p.next(), nil
}

func (p *mockProvider) GenerateStreaming(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition, maxTokens int) (<-chan llms.StreamChunk, error) {
	turn := p.next()
	ch := make(chan llms.StreamChunk, 16)
	go func() {
		defer close(ch)
		if turn.Content != "" {
			ch <- llms.StreamChunk{Type: llms.ChunkTypeText, Text: turn.Content}
		}
		for _, call := range turn.ToolCalls {
			ch <- llms.StreamChunk{Type: llms.ChunkTypeToolCall, ToolCall: call}
		}
		ch <- llms.StreamChunk{Type: llms.ChunkTypeDone, InputTokens: turn.InputTokens, OutputTokens: turn.OutputTokens}
	}()
	return ch, nil
}

func newTestAgent(t *testing.T, provider llms.Provider, store session.Store, sessionID string, maxSteps int) *Agent {
	t.Helper()

	registry := tools.NewRegistry()
	source := tools.NewLocalSource("test", tools.NewEchoTool(), tools.NewGetUserInputTool())
	if err := registry.RegisterSource(context.Background(), source); err != nil {
		t.Fatalf("RegisterSource() error = %v", err)
	}

	a, err := New(Options{
		Name:         "test-agent",
		Provider:     provider,
		Registry:     registry,
		SystemPrompt: "You are a test agent.",
		SessionStore: store,
		SessionID:    sessionID,
		RunConfig: RunConfig{
			MaxSteps:   maxSteps,
			TokenLimit: 100000,
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func collectEvents(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRun_SingleStepAnswer(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{{Content: "4"}}}
	store := session.NewMemoryStore()
	a := newTestAgent(t, provider, store, "s1", 10)

	result, err := a.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.Success {
		t.Error("expected success")
	}
	if result.Response != "4" {
		t.Errorf("response = %q, want %q", result.Response, "4")
	}
	if result.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Steps)
	}
	if a.Status() != StatusDoneOK {
		t.Errorf("status = %s, want %s", a.Status(), StatusDoneOK)
	}

	// The session records a solo run.
	sess, ok := store.Get("s1")
	if !ok {
		t.Fatal("session not created")
	}
	if len(sess.Runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(sess.Runs))
	}
	run := sess.Runs[0]
	if run.RunnerType != session.RunnerTypeSolo {
		t.Errorf("runner_type = %s, want solo", run.RunnerType)
	}
	if run.Task != "What is 2+2?" || run.Response != "4" || !run.Success {
		t.Errorf("unexpected run record: %+v", run)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{
		{ToolCalls: []*protocol.ToolCall{{
			ID:        "call_1",
			Name:      "echo",
			Arguments: map[string]any{"text": "hi"},
		}}},
		{Content: "hi"},
	}}
	a := newTestAgent(t, provider, nil, "", 10)

	events := collectEvents(a.RunStream(context.Background(), "Call echo with 'hi', then reply with its output."))

	types := eventTypes(events)
	want := []EventType{EventStep, EventToolCall, EventToolResult, EventStep, EventContent, EventDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}

	done := events[len(events)-1]
	if done.Data["message"] != "hi" {
		t.Errorf("final message = %v, want hi", done.Data["message"])
	}
	if done.Data["steps"] != 2 {
		t.Errorf("steps = %v, want 2", done.Data["steps"])
	}

	// tool_result carries a positive duration.
	for _, ev := range events {
		if ev.Type == EventToolResult {
			if ms, ok := ev.Data["duration_ms"].(int64); !ok || ms <= 0 {
				t.Errorf("tool_result duration_ms = %v, want positive", ev.Data["duration_ms"])
			}
		}
	}

	// The conversation holds a bijection between tool calls and tool
	// messages on tool_call_id.
	calls := map[string]bool{}
	answered := map[string]bool{}
	for _, msg := range a.Messages() {
		if msg.Role == protocol.RoleAssistant {
			for _, tc := range msg.ToolCalls {
				calls[tc.ID] = true
			}
		}
		if msg.Role == protocol.RoleTool {
			if answered[msg.ToolCallID] {
				t.Errorf("tool_call_id %s answered twice", msg.ToolCallID)
			}
			answered[msg.ToolCallID] = true
		}
	}
	if len(calls) != len(answered) {
		t.Errorf("tool calls (%d) and tool messages (%d) must form a bijection", len(calls), len(answered))
	}
	for id := range answered {
		if !calls[id] {
			t.Errorf("tool message answers unknown call %s", id)
		}
	}
}

func TestRun_MaxStepsReached(t *testing.T) {
	// The model keeps asking for tools; the step budget cuts it off.
	loopTurn := &llms.Response{
		Content: "working on it",
		ToolCalls: []*protocol.ToolCall{{
			ID: "call_x", Name: "echo", Arguments: map[string]any{"text": "again"},
		}},
	}
	provider := &mockProvider{turns: []*llms.Response{loopTurn, loopTurn, loopTurn, loopTurn}}
	a := newTestAgent(t, provider, nil, "", 3)

	result, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.Success {
		t.Error("max steps is terminal but not an error")
	}
	if result.Reason != ReasonMaxSteps {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonMaxSteps)
	}
	if result.Steps != 3 {
		t.Errorf("steps = %d, want 3", result.Steps)
	}
	if result.Response != "working on it" {
		t.Errorf("response should carry the last assistant content, got %q", result.Response)
	}
	if a.Status() != StatusDoneMaxSteps {
		t.Errorf("status = %s, want %s", a.Status(), StatusDoneMaxSteps)
	}
}

func TestRun_HumanInputSuspension(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{
		{ToolCalls: []*protocol.ToolCall{{
			ID:   "call_ui",
			Name: tools.UserInputToolName,
			Arguments: map[string]any{
				"user_input_fields": []any{
					map[string]any{
						"field_name":        "city",
						"field_type":        "string",
						"field_description": "Which city?",
					},
				},
				"context": "Need a location for the forecast",
			},
		}}},
		{Content: "Sunny in Paris."},
	}}
	a := newTestAgent(t, provider, nil, "", 10)

	result, err := a.Run(context.Background(), "What's the weather?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.RequiresInput {
		t.Fatal("expected suspension")
	}
	if result.InputRequest == nil || result.InputRequest.ToolCallID != "call_ui" {
		t.Fatalf("input request missing tool_call_id: %+v", result.InputRequest)
	}
	if len(result.InputRequest.Fields) != 1 || result.InputRequest.Fields[0].FieldName != "city" {
		t.Fatalf("unexpected fields: %+v", result.InputRequest.Fields)
	}
	if a.Status() != StatusPausedForInput {
		t.Errorf("status = %s, want %s", a.Status(), StatusPausedForInput)
	}
	stepsAtPause := result.Steps

	if err := a.ProvideUserInput(map[string]any{"city": "Paris"}); err != nil {
		t.Fatalf("ProvideUserInput() error = %v", err)
	}

	resumed, err := a.Run(context.Background(), "[user_input] city: Paris")
	if err != nil {
		t.Fatalf("resume Run() error = %v", err)
	}
	if !resumed.Success {
		t.Fatal("resumed run should succeed")
	}
	if !strings.Contains(resumed.Response, "Paris") {
		t.Errorf("final answer should reference Paris, got %q", resumed.Response)
	}
	// Suspension itself consumed no extra steps.
	if resumed.Steps != stepsAtPause+1 {
		t.Errorf("steps = %d, want %d", resumed.Steps, stepsAtPause+1)
	}

	// The paused call has its synthetic tool answer in the history.
	foundAnswer := false
	for _, msg := range a.Messages() {
		if msg.Role == protocol.RoleTool && msg.ToolCallID == "call_ui" {
			foundAnswer = true
			if !strings.Contains(msg.Content, "Paris") {
				t.Errorf("synthetic tool answer should carry the value, got %q", msg.Content)
			}
		}
	}
	if !foundAnswer {
		t.Error("paused tool call was never answered")
	}
}

func TestRun_InvalidToolArguments(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{
		{ToolCalls: []*protocol.ToolCall{{
			ID:           "call_bad",
			Name:         "echo",
			RawArguments: `{"text": "unterminated`,
		}}},
		{Content: "recovered"},
	}}
	a := newTestAgent(t, provider, nil, "", 10)

	result, err := a.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Tool failure is never fatal: the model sees the error and recovers.
	if !result.Success || result.Response != "recovered" {
		t.Fatalf("unexpected result: %+v", result)
	}

	found := false
	for _, msg := range a.Messages() {
		if msg.Role == protocol.RoleTool && msg.ToolCallID == "call_bad" {
			found = true
			if !strings.Contains(msg.Content, "invalid_tool_arguments") {
				t.Errorf("tool message should report invalid_tool_arguments, got %q", msg.Content)
			}
		}
	}
	if !found {
		t.Error("malformed call must still be answered by a tool message")
	}
}

func TestRun_Cancellation(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{{Content: "never used"}}}
	a := newTestAgent(t, provider, nil, "", 10)

	a.Cancel()

	result, err := a.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Error("cancelled run must not succeed")
	}
	if result.Reason != ReasonCancelled {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonCancelled)
	}
	if a.Status() != StatusDoneError {
		t.Errorf("status = %s, want %s", a.Status(), StatusDoneError)
	}
}

func TestRun_StreamingDeltas(t *testing.T) {
	provider := &mockProvider{turns: []*llms.Response{{Content: "streamed answer"}}}

	registry := tools.NewRegistry()
	a, err := New(Options{
		Name:         "streamer",
		Provider:     provider,
		Registry:     registry,
		SystemPrompt: "test",
		RunConfig: RunConfig{
			MaxSteps:   5,
			TokenLimit: 100000,
			Streaming:  true,
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	events := collectEvents(a.RunStream(context.Background(), "hello"))

	sawContent := false
	for _, ev := range events {
		if ev.Type == EventContent {
			sawContent = true
		}
	}
	if !sawContent {
		t.Error("streaming run must emit content deltas")
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("last event = %s, want done", events[len(events)-1].Type)
	}
}
