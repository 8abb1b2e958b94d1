package sandbox

import (
	"context"
	"time"

	"github.com/kadirpekel/conductor/pkg/tools"
)

// Source serves the sandboxed substitutes for one session. Registered after
// the native source, its tools shadow the native ones by name for the
// duration of the session.
type Source struct {
	instance *Instance
	tools    map[string]tools.Tool
}

// NewSource builds the substitution set for a session.
func NewSource(manager *Manager, sessionID string) *Source {
	instance := manager.Acquire(sessionID)

	s := &Source{
		instance: instance,
		tools:    make(map[string]tools.Tool),
	}
	for _, tool := range []tools.Tool{
		&execTool{instance: instance},
		&writeFileTool{instance: instance},
		&readFileTool{instance: instance},
	} {
		s.tools[tool.GetName()] = tool
	}
	return s
}

func (s *Source) GetName() string {
	return "sandbox:" + s.instance.SessionID
}

func (s *Source) GetType() string {
	return tools.SourceTypeSandbox
}

func (s *Source) DiscoverTools(ctx context.Context) error {
	return nil
}

func (s *Source) ListTools() []tools.ToolInfo {
	infos := make([]tools.ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (s *Source) GetTool(name string) (tools.Tool, bool) {
	tool, exists := s.tools[name]
	return tool, exists
}

type execArgs struct {
	Command string `json:"command" jsonschema:"required" jsonschema_description:"Shell command to execute in the sandbox"`
}

type execTool struct {
	tools.BaseTool
	instance *Instance
}

func (t *execTool) GetName() string { return "execute_command" }

func (t *execTool) GetDescription() string {
	return "Execute a shell command inside the session sandbox and return its output."
}

func (t *execTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  tools.SchemaOf(&execArgs{}),
		Source:      tools.SourceTypeSandbox,
	}
}

func (t *execTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()
	t.instance.Touch()

	var payload execArgs
	if err := tools.DecodeArguments(args, &payload); err != nil {
		return failure(t.GetName(), err, start), nil
	}

	output, err := t.instance.client.Exec(ctx, t.instance.SessionID, payload.Command)
	if err != nil {
		return failure(t.GetName(), err, start), nil
	}
	return success(t.GetName(), output, start), nil
}

type sandboxWriteArgs struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"File path inside the sandbox"`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Content to write"`
}

type writeFileTool struct {
	tools.BaseTool
	instance *Instance
}

func (t *writeFileTool) GetName() string { return "write_file" }

func (t *writeFileTool) GetDescription() string {
	return "Write content to a file inside the session sandbox."
}

func (t *writeFileTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  tools.SchemaOf(&sandboxWriteArgs{}),
		Source:      tools.SourceTypeSandbox,
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()
	t.instance.Touch()

	var payload sandboxWriteArgs
	if err := tools.DecodeArguments(args, &payload); err != nil {
		return failure(t.GetName(), err, start), nil
	}

	if err := t.instance.client.WriteFile(ctx, t.instance.SessionID, payload.Path, payload.Content); err != nil {
		return failure(t.GetName(), err, start), nil
	}
	return success(t.GetName(), "Wrote "+payload.Path, start), nil
}

type sandboxReadArgs struct {
	Path string `json:"path" jsonschema:"required" jsonschema_description:"File path inside the sandbox"`
}

type readFileTool struct {
	tools.BaseTool
	instance *Instance
}

func (t *readFileTool) GetName() string { return "read_file" }

func (t *readFileTool) GetDescription() string {
	return "Read a file from the session sandbox."
}

func (t *readFileTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  tools.SchemaOf(&sandboxReadArgs{}),
		Source:      tools.SourceTypeSandbox,
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()
	t.instance.Touch()

	var payload sandboxReadArgs
	if err := tools.DecodeArguments(args, &payload); err != nil {
		return failure(t.GetName(), err, start), nil
	}

	content, err := t.instance.client.ReadFile(ctx, t.instance.SessionID, payload.Path)
	if err != nil {
		return failure(t.GetName(), err, start), nil
	}
	return success(t.GetName(), content, start), nil
}

func success(name, content string, start time.Time) tools.ToolResult {
	return tools.ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      name,
		ExecutionTime: time.Since(start),
	}
}

func failure(name string, err error, start time.Time) tools.ToolResult {
	return tools.ToolResult{
		Success:       false,
		Error:         err.Error(),
		ToolName:      name,
		ExecutionTime: time.Since(start),
	}
}

var _ tools.ToolSource = (*Source)(nil)
