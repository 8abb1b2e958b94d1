package agent

import (
	"time"

	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/prompt"
	"github.com/kadirpekel/conductor/pkg/runlog"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/skills"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// Defaults for per-run configuration.
const (
	DefaultMaxSteps        = 50
	DefaultTokenLimit      = 120000
	DefaultToolOutputLimit = 10000
	DefaultHistoryRuns     = 3
)

// RunConfig bounds a single run of the loop.
type RunConfig struct {
	MaxSteps            int
	TokenLimit          int
	Streaming           bool
	EnableSummarization bool
}

// Options wires an agent's services. Provider and Registry are required.
type Options struct {
	Name        string
	Description string

	Provider llms.Provider
	Registry *tools.Registry

	// SystemPrompt fully overrides PromptConfig when set.
	SystemPrompt string
	PromptConfig prompt.Config

	SkillLoader  *skills.Loader
	WorkspaceDir string

	RunConfig       RunConfig
	ToolOutputLimit int

	// RunLogDir receives one JSONL file per run; empty disables the file
	// sink. A non-nil Exporter suppresses the file sink regardless.
	RunLogDir string
	Exporter  runlog.Exporter
	Trace     *runlog.TraceLogger

	SessionStore session.Store
	SessionID    string
	OwnerID      string
	RunnerType   string
	ParentRunID  string
	HistoryRuns  int

	// RunID overrides the generated run identifier. Coordinators set it so
	// member runs can reference the leader run before it completes.
	RunID string

	// SpawnDepth is the nesting depth of this agent in a spawn chain.
	SpawnDepth    int
	SpawnMaxDepth int

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (o *Options) withDefaults() {
	if o.Name == "" {
		o.Name = "agent"
	}
	if o.RunConfig.MaxSteps <= 0 {
		o.RunConfig.MaxSteps = DefaultMaxSteps
	}
	if o.RunConfig.TokenLimit <= 0 {
		o.RunConfig.TokenLimit = DefaultTokenLimit
	}
	if o.ToolOutputLimit <= 0 {
		o.ToolOutputLimit = DefaultToolOutputLimit
	}
	if o.HistoryRuns <= 0 {
		o.HistoryRuns = DefaultHistoryRuns
	}
	if o.SpawnMaxDepth <= 0 {
		o.SpawnMaxDepth = tools.DefaultSpawnMaxDepth
	}
	if o.RunnerType == "" {
		o.RunnerType = session.RunnerTypeSolo
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}
