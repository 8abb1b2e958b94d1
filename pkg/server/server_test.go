package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/runtime"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// scriptedProvider replays turns for HTTP-level tests.
type scriptedProvider struct {
	turns []*llms.Response
	calls int
}

func (p *scriptedProvider) GetModelName() string { return "gpt-4o" }
func (p *scriptedProvider) GetMaxTokens() int    { return 4096 }
func (p *scriptedProvider) Close() error         { return nil }

func (p *scriptedProvider) Generate(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition, maxTokens int) (*llms.Response, error) {
	if p.calls >= len(p.turns) {
		return &llms.Response{Content: "out of script"}, nil
	}
	turn := p.turns[p.calls]
	p.calls++
	return turn, nil
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, messages []protocol.Message, defs []llms.ToolDefinition, maxTokens int) (<-chan llms.StreamChunk, error) {
	turn, _ := p.Generate(ctx, messages, defs, maxTokens)
	ch := make(chan llms.StreamChunk, 8)
	if turn.Content != "" {
		ch <- llms.StreamChunk{Type: llms.ChunkTypeText, Text: turn.Content}
	}
	for _, call := range turn.ToolCalls {
		ch <- llms.StreamChunk{Type: llms.ChunkTypeToolCall, ToolCall: call}
	}
	ch <- llms.StreamChunk{Type: llms.ChunkTypeDone}
	close(ch)
	return ch, nil
}

func testServer(t *testing.T, provider llms.Provider) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Agent.WorkspaceDir = t.TempDir()
	cfg.Skills.Dir = t.TempDir()
	cfg.Logging.RunLogDir = t.TempDir()
	cfg.Session.Backend = "memory"

	rt, err := runtime.New(context.Background(), cfg, runtime.WithProvider(provider))
	if err != nil {
		t.Fatalf("runtime.New() error = %v", err)
	}
	return New(cfg, rt)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRunEndpoint_SingleAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: []*llms.Response{{Content: "4"}}}
	srv := testServer(t, provider)

	rec := postJSON(t, srv.Handler(), "/v1/agent/run", RunRequest{Message: "What is 2+2?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !resp.Success || resp.Message != "4" || resp.Steps != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.SessionID == "" || resp.RunID == "" {
		t.Error("response must carry run and session ids")
	}
}

func TestRunEndpoint_SuspendAndResume(t *testing.T) {
	provider := &scriptedProvider{turns: []*llms.Response{
		{ToolCalls: []*protocol.ToolCall{{
			ID:   "call_ui",
			Name: tools.UserInputToolName,
			Arguments: map[string]any{
				"user_input_fields": []any{
					map[string]any{"field_name": "city", "field_type": "string", "field_description": "Which city?"},
				},
			},
		}}},
		{Content: "Sunny in Paris."},
	}}
	srv := testServer(t, provider)

	rec := postJSON(t, srv.Handler(), "/v1/agent/run", RunRequest{Message: "What's the weather?", SessionID: "s4"})
	var first RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !first.RequiresInput || first.InputRequest == nil {
		t.Fatalf("expected suspension, got %+v", first)
	}

	rec = postJSON(t, srv.Handler(), "/v1/agent/run", RunRequest{
		Message:   "[user_input] city: Paris",
		SessionID: "s4",
		UserInput: map[string]any{"city": "Paris"},
	})
	var second RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !second.Success || !strings.Contains(second.Message, "Paris") {
		t.Errorf("resume response = %+v", second)
	}
}

func TestRunEndpoint_EmptyMessageRejected(t *testing.T) {
	srv := testServer(t, &scriptedProvider{})

	rec := postJSON(t, srv.Handler(), "/v1/agent/run", RunRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamEndpoint_EmitsSSE(t *testing.T) {
	provider := &scriptedProvider{turns: []*llms.Response{{Content: "streamed"}}}
	srv := testServer(t, provider)

	rec := postJSON(t, srv.Handler(), "/v1/agent/run/stream", RunRequest{Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: step") {
		t.Error("stream must carry step events")
	}
	if !strings.Contains(body, "event: done") {
		t.Error("stream must end with a done event")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, &scriptedProvider{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
