package utils

import (
	"strings"
	"testing"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-3-5-sonnet"} {
		counter := NewTokenCounter(model)
		if counter == nil {
			t.Fatalf("NewTokenCounter(%q) returned nil", model)
		}
		if counter.Model() != model {
			t.Errorf("Model() = %q, want %q", counter.Model(), model)
		}
	}
}

func TestTokenCounter_Count(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	if got := counter.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	short := counter.Count("hello")
	long := counter.Count(strings.Repeat("hello world ", 50))
	if short <= 0 {
		t.Errorf("Count(\"hello\") = %d, want positive", short)
	}
	if long <= short {
		t.Errorf("longer text should count more tokens: %d <= %d", long, short)
	}
}

func TestTokenCounter_CountMessages_Overhead(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	empty := []protocol.Message{{Role: protocol.RoleUser, Content: ""}}
	if got := counter.CountMessages(empty); got != tokensPerMessage {
		t.Errorf("empty message should count only overhead: got %d, want %d", got, tokensPerMessage)
	}
}

func TestTokenCounter_CountMessages_IncludesToolCalls(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	without := []protocol.Message{{Role: protocol.RoleAssistant, Content: "calling a tool"}}
	with := []protocol.Message{{
		Role:    protocol.RoleAssistant,
		Content: "calling a tool",
		ToolCalls: []*protocol.ToolCall{{
			ID:        "call_1",
			Name:      "echo",
			Arguments: map[string]any{"text": "some fairly long argument payload"},
		}},
	}}

	if counter.CountMessages(with) <= counter.CountMessages(without) {
		t.Error("tool call arguments must contribute to the count")
	}
}

func TestTokenCounter_CountMessages_IncludesThinking(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	without := []protocol.Message{{Role: protocol.RoleAssistant, Content: "answer"}}
	with := []protocol.Message{{Role: protocol.RoleAssistant, Content: "answer", Thinking: "long hidden reasoning about the problem"}}

	if counter.CountMessages(with) <= counter.CountMessages(without) {
		t.Error("thinking must contribute to the count")
	}
}

func TestTokenCounter_FallbackEstimate(t *testing.T) {
	counter := &TokenCounter{model: "unknown"}

	// 10 chars at 2.5 chars/token rounds up to 4
	if got := counter.Count("aaaaaaaaaa"); got != 4 {
		t.Errorf("fallback Count = %d, want 4", got)
	}
}

func TestTokenCounter_FitWithinLimit(t *testing.T) {
	counter := NewTokenCounter("gpt-4o")

	messages := []protocol.Message{
		protocol.UserMessage(strings.Repeat("first message ", 20)),
		protocol.AssistantMessage(strings.Repeat("second message ", 20)),
		protocol.UserMessage("third"),
	}

	fitted := counter.FitWithinLimit(messages, counter.CountMessages(messages[2:]))
	if len(fitted) != 1 {
		t.Fatalf("expected only the most recent message to fit, got %d", len(fitted))
	}
	if fitted[0].Content != "third" {
		t.Errorf("FitWithinLimit must keep the most recent messages, got %q", fitted[0].Content)
	}

	all := counter.FitWithinLimit(messages, 100000)
	if len(all) != 3 {
		t.Errorf("generous budget should keep everything, got %d", len(all))
	}
}
