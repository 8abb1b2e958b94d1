package tools

import (
	"context"
	"time"

	"github.com/kadirpekel/conductor/pkg/skills"
)

type getSkillArgs struct {
	Name string `json:"name" jsonschema:"required" jsonschema_description:"Name of the skill to load"`
}

// GetSkillTool loads a skill document's full content on demand. The prompt
// lists only the catalog metadata; the agent pulls the body through this
// tool when it decides to use a skill.
type GetSkillTool struct {
	BaseTool
	loader *skills.Loader
}

func NewGetSkillTool(loader *skills.Loader) *GetSkillTool {
	return &GetSkillTool{loader: loader}
}

func (t *GetSkillTool) GetName() string {
	return "get_skill"
}

func (t *GetSkillTool) GetDescription() string {
	return "Load the full content of a skill from the catalog by name."
}

func (t *GetSkillTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters:  SchemaOf(&getSkillArgs{}),
	}
}

func (t *GetSkillTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var payload getSkillArgs
	if err := DecodeArguments(args, &payload); err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	content, err := t.loader.Load(payload.Name)
	if err != nil {
		return failureResult(t.GetName(), err.Error(), start), nil
	}

	return successResult(t.GetName(), content, start), nil
}

var _ Tool = (*GetSkillTool)(nil)
