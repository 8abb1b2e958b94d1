package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required" jsonschema_description:"File path, relative to the workspace"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required" jsonschema_description:"File path, relative to the workspace"`
	Content string `json:"content" jsonschema:"required" jsonschema_description:"Content to write"`
}

// resolveWorkspacePath joins a relative path against the workspace and
// rejects escapes above it.
func resolveWorkspacePath(workspaceDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	resolved := filepath.Clean(filepath.Join(workspaceDir, path))
	if !strings.HasPrefix(resolved, filepath.Clean(workspaceDir)+string(os.PathSeparator)) &&
		resolved != filepath.Clean(workspaceDir) {
		return "", fmt.Errorf("path escapes the workspace: %s", path)
	}
	return resolved, nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	BaseTool
	workspaceDir string
}

func NewReadFileTool(workspaceDir string) *ReadFileTool {
	return &ReadFileTool{workspaceDir: workspaceDir}
}

func (t *ReadFileTool) GetName() string {
	return "read_file"
}

func (t *ReadFileTool) GetDescription() string {
	return "Read a file from the workspace and return its content."
}

func (t *ReadFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&readFileArgs{}),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var payload readFileArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	path, err := resolveWorkspacePath(t.workspaceDir, payload.Path)
	if err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	return successResult(t.GetName(), string(data), start), nil
}

// WriteFileTool writes a file into the workspace, creating parent
// directories as needed.
type WriteFileTool struct {
	BaseTool
	workspaceDir string
}

func NewWriteFileTool(workspaceDir string) *WriteFileTool {
	return &WriteFileTool{workspaceDir: workspaceDir}
}

func (t *WriteFileTool) GetName() string {
	return "write_file"
}

func (t *WriteFileTool) GetDescription() string {
	return "Write content to a file in the workspace, creating it if missing."
}

func (t *WriteFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&writeFileArgs{}),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var payload writeFileArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	path, err := resolveWorkspacePath(t.workspaceDir, payload.Path)
	if err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	if err := os.WriteFile(path, []byte(payload.Content), 0644); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	return successResult(t.GetName(),
		fmt.Sprintf("Wrote %d bytes to %s", len(payload.Content), payload.Path), start), nil
}

var (
	_ Tool = (*ReadFileTool)(nil)
	_ Tool = (*WriteFileTool)(nil)
)
