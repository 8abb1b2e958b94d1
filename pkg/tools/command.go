package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type commandArgs struct {
	Command string `json:"command" jsonschema:"required" jsonschema_description:"Shell command to execute in the workspace"`
}

// CommandTool runs an allowlisted shell command inside the workspace
// directory. The sandbox substitute replaces it when sandbox mode is on.
type CommandTool struct {
	workingDir      string
	allowedCommands map[string]bool
}

func NewCommandTool(workingDir string, allowedCommands []string) *CommandTool {
	allowed := make(map[string]bool, len(allowedCommands))
	for _, cmd := range allowedCommands {
		allowed[cmd] = true
	}
	return &CommandTool{
		workingDir:      workingDir,
		allowedCommands: allowed,
	}
}

func (t *CommandTool) GetName() string {
	return "execute_command"
}

func (t *CommandTool) GetDescription() string {
	return "Execute a shell command in the workspace directory and return its combined output."
}

func (t *CommandTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&commandArgs{}),
	}
}

func (t *CommandTool) Instructions() string {
	allowed := make([]string, 0, len(t.allowedCommands))
	for cmd := range t.allowedCommands {
		allowed = append(allowed, cmd)
	}
	return fmt.Sprintf("## Command Tool\nUse `execute_command` for shell commands. Only these base commands are allowed: %s.", strings.Join(allowed, ", "))
}

func (t *CommandTool) AddInstructionsToPrompt() bool {
	return false
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var payload commandArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	command := strings.TrimSpace(payload.Command)
	if command == "" {
		return failureResult(t.GetName(), "command cannot be empty", start), nil
	}

	base := strings.Fields(command)[0]
	if len(t.allowedCommands) > 0 && !t.allowedCommands[base] {
		return failureResult(t.GetName(),
			fmt.Sprintf("command '%s' is not in the allowed list", base), start), nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workingDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failureResult(t.GetName(), "command execution timed out", start), nil
		}
		return ToolResult{
			Success:       false,
			Content:       string(output),
			Error:         err.Error(),
			ToolName:      t.GetName(),
			ExecutionTime: time.Since(start),
		}, nil
	}

	return successResult(t.GetName(), string(output), start), nil
}

var _ Tool = (*CommandTool)(nil)
