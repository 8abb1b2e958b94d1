package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, toolList ...Tool) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := registry.RegisterSource(context.Background(), NewLocalSource("test", toolList...)); err != nil {
		t.Fatalf("RegisterSource() error = %v", err)
	}
	return registry
}

func TestRegistry_EchoRoundTrip(t *testing.T) {
	registry := newTestRegistry(t, NewEchoTool())

	result := registry.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if !result.Success {
		t.Fatalf("echo failed: %s", result.Error)
	}
	if result.Content != "hi" {
		t.Errorf("echo content = %q, want %q", result.Content, "hi")
	}
	if result.ExecutionTime < 0 {
		t.Error("execution time must be non-negative")
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	registry := newTestRegistry(t)

	result := registry.Execute(context.Background(), "no_such_tool", nil)
	if result.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(result.Error, "unknown tool no_such_tool") {
		t.Errorf("error = %q, want mention of unknown tool", result.Error)
	}
}

func TestRegistry_MissingRequiredArguments(t *testing.T) {
	registry := newTestRegistry(t, NewEchoTool())

	result := registry.Execute(context.Background(), "echo", map[string]any{})
	if result.Success {
		t.Fatal("missing required argument must fail without invocation")
	}
	if !strings.Contains(result.Error, "text") {
		t.Errorf("error should name the missing field, got %q", result.Error)
	}
}

func TestRegistry_ExtraArgumentsPassThrough(t *testing.T) {
	registry := newTestRegistry(t, NewEchoTool())

	result := registry.Execute(context.Background(), "echo", map[string]any{
		"text":  "ok",
		"extra": "ignored",
	})
	if !result.Success {
		t.Fatalf("extra fields must pass through, got error %s", result.Error)
	}
}

// slowTool blocks until its context is cancelled.
type slowTool struct {
	BaseTool
}

func (t *slowTool) GetName() string        { return "slow" }
func (t *slowTool) GetDescription() string { return "sleeps" }
func (t *slowTool) GetInfo() ToolInfo {
	return ToolInfo{Name: "slow", Description: "sleeps", Parameters: map[string]any{"type": "object"}}
}

func (t *slowTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	<-ctx.Done()
	return ToolResult{Success: false, Error: "interrupted"}, nil
}

func TestRegistry_Timeout(t *testing.T) {
	registry := newTestRegistry(t, &slowTool{})
	registry.SetTimeout("slow", 30*time.Millisecond)

	result := registry.Execute(context.Background(), "slow", nil)
	if result.Success {
		t.Fatal("timed-out tool must fail")
	}
	if !strings.Contains(result.Error, "timeout after") {
		t.Errorf("error = %q, want timeout message", result.Error)
	}
}

func TestRegistry_ShadowingOnCollision(t *testing.T) {
	registry := newTestRegistry(t, NewEchoTool())

	// A later source re-registers echo; it must shadow the first.
	shadow := NewTypedLocalSource("sandbox", SourceTypeSandbox, &shadowEcho{})
	if err := registry.RegisterSource(context.Background(), shadow); err != nil {
		t.Fatalf("RegisterSource() error = %v", err)
	}

	result := registry.Execute(context.Background(), "echo", map[string]any{"text": "x"})
	if !result.Success {
		t.Fatalf("shadowed echo failed: %s", result.Error)
	}
	if result.Content != "shadowed" {
		t.Errorf("later source must shadow the earlier one, got %q", result.Content)
	}
}

type shadowEcho struct {
	BaseTool
}

func (t *shadowEcho) GetName() string        { return "echo" }
func (t *shadowEcho) GetDescription() string { return "sandbox echo" }
func (t *shadowEcho) GetInfo() ToolInfo {
	return ToolInfo{Name: "echo", Description: "sandbox echo", Parameters: map[string]any{"type": "object"}}
}

func (t *shadowEcho) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	return ToolResult{Success: true, Content: "shadowed", ToolName: "echo"}, nil
}

func TestRegistry_PromptInstructions(t *testing.T) {
	registry := newTestRegistry(t, NewEchoTool(), NewGetUserInputTool())

	instructions := registry.PromptInstructions()
	if len(instructions) != 1 {
		t.Fatalf("only opted-in tools contribute instructions, got %d", len(instructions))
	}
	if !strings.Contains(instructions[0], "get_user_input") {
		t.Errorf("unexpected instruction block: %s", instructions[0])
	}
}

func TestSchemaOf_RequiredFields(t *testing.T) {
	schema := SchemaOf(&echoArgs{})

	required := requiredFields(schema)
	if len(required) != 1 || required[0] != "text" {
		t.Errorf("requiredFields = %v, want [text]", required)
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema missing properties: %v", schema)
	}
	if _, ok := props["text"]; !ok {
		t.Error("schema missing text property")
	}
}
