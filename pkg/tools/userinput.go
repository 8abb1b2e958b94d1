package tools

import (
	"context"
	"time"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// UserInputToolName is matched by the agent loop to suspend the run.
const UserInputToolName = "get_user_input"

// GetUserInputTool requests information from the user. Executing the tool
// does nothing on its own: the agent loop detects the call by name,
// suspends, and answers it with a synthetic tool message once the caller
// delivers the values.
type GetUserInputTool struct{}

func NewGetUserInputTool() *GetUserInputTool {
	return &GetUserInputTool{}
}

func (t *GetUserInputTool) GetName() string {
	return UserInputToolName
}

func (t *GetUserInputTool) GetDescription() string {
	return "Request additional information from the user. Use this when you need " +
		"clarification or missing information to complete a task. Provide all " +
		"required fields as if the user were filling out a form."
}

func (t *GetUserInputTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_input_fields": map[string]any{
					"type":        "array",
					"description": "List of fields requiring user input",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"field_name": map[string]any{
								"type":        "string",
								"description": "The name of the field",
							},
							"field_type": map[string]any{
								"type":        "string",
								"description": "The type of the field",
								"enum":        []string{"str", "int", "float", "bool"},
							},
							"field_description": map[string]any{
								"type":        "string",
								"description": "A description of what information is needed",
							},
						},
						"required": []string{"field_name", "field_description"},
					},
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Additional context explaining why this input is needed",
				},
			},
			"required": []string{"user_input_fields"},
		},
	}
}

func (t *GetUserInputTool) Instructions() string {
	return `## User Input Tool Guidelines

You have access to the ` + "`get_user_input`" + ` tool to request information from the user.

When to use:
- you don't have enough information to complete a task
- you need clarification on ambiguous requirements
- critical information is missing (file paths, configuration values)

Guidelines:
- don't guess or make up information, ask the user instead
- include only the fields you actually need
- provide clear descriptions for each field
- don't ask the same question twice; accept whatever the user provides`
}

func (t *GetUserInputTool) AddInstructionsToPrompt() bool {
	return true
}

func (t *GetUserInputTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	// The pause/resume logic lives in the agent loop; this result is only
	// seen if the tool is somehow dispatched directly.
	return successResult(t.GetName(), "User input request registered. Waiting for user response.", time.Now()), nil
}

// IsUserInputCall reports whether the tool call suspends the run.
func IsUserInputCall(toolName string) bool {
	return toolName == UserInputToolName
}

// ParseUserInputRequest extracts the field descriptors from the tool call
// arguments.
func ParseUserInputRequest(call *protocol.ToolCall) protocol.UserInputRequest {
	request := protocol.UserInputRequest{ToolCallID: call.ID}

	if ctxVal, ok := call.Arguments["context"].(string); ok {
		request.Context = ctxVal
	}

	rawFields, ok := call.Arguments["user_input_fields"].([]any)
	if !ok {
		return request
	}

	for _, raw := range rawFields {
		fieldMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field := protocol.UserInputField{FieldType: "str"}
		if v, ok := fieldMap["field_name"].(string); ok {
			field.FieldName = v
		}
		if v, ok := fieldMap["field_type"].(string); ok && v != "" {
			field.FieldType = v
		}
		if v, ok := fieldMap["field_description"].(string); ok {
			field.FieldDescription = v
		}
		request.Fields = append(request.Fields, field)
	}

	return request
}

var _ Tool = (*GetUserInputTool)(nil)
