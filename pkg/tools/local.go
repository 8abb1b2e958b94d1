package tools

import (
	"context"
	"fmt"
	"sync"
)

// LocalSource serves the in-process native tools.
type LocalSource struct {
	name       string
	sourceType string
	mu         sync.RWMutex
	tools      map[string]Tool
}

func NewLocalSource(name string, tools ...Tool) *LocalSource {
	return NewTypedLocalSource(name, SourceTypeNative, tools...)
}

// NewTypedLocalSource builds an in-process source reporting a specific
// source type; the spawn tool registers through it.
func NewTypedLocalSource(name, sourceType string, tools ...Tool) *LocalSource {
	if name == "" {
		name = "local"
	}
	s := &LocalSource{
		name:       name,
		sourceType: sourceType,
		tools:      make(map[string]Tool, len(tools)),
	}
	for _, tool := range tools {
		s.tools[tool.GetName()] = tool
	}
	return s
}

func (s *LocalSource) GetName() string {
	return s.name
}

func (s *LocalSource) GetType() string {
	return s.sourceType
}

// AddTool registers another native tool on the source.
func (s *LocalSource) AddTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.GetName()] = tool
	return nil
}

func (s *LocalSource) DiscoverTools(ctx context.Context) error {
	return nil
}

func (s *LocalSource) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (s *LocalSource) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, exists := s.tools[name]
	return tool, exists
}

var _ ToolSource = (*LocalSource)(nil)
