package tools

import (
	"context"
	"time"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required" jsonschema_description:"Text to echo back"`
}

// EchoTool returns its input unchanged. It exists for smoke tests and
// round-trip checks of the tool dispatch path.
type EchoTool struct {
	BaseTool
}

func NewEchoTool() *EchoTool {
	return &EchoTool{}
}

func (t *EchoTool) GetName() string {
	return "echo"
}

func (t *EchoTool) GetDescription() string {
	return "Echo the given text back unchanged."
}

func (t *EchoTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&echoArgs{}),
	}
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var payload echoArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	return successResult(t.GetName(), payload.Text, start), nil
}

var _ Tool = (*EchoTool)(nil)
