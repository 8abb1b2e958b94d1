// Package runtime wires the configured services — provider, tools, skills,
// sessions, sandbox — and builds agents per request.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/prompt"
	"github.com/kadirpekel/conductor/pkg/runlog"
	"github.com/kadirpekel/conductor/pkg/sandbox"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/skills"
	"github.com/kadirpekel/conductor/pkg/tools"
	"github.com/kadirpekel/conductor/pkg/utils"
)

// Runtime holds the process-wide services. Tool sources are loaded once at
// startup; sessions and sandboxes are per caller.
type Runtime struct {
	cfg      *config.Config
	provider llms.Provider
	store    session.Store
	skills   *skills.Loader
	base     *tools.Registry
	sandbox  *sandbox.Manager
	exporter runlog.Exporter

	workspaceDir string

	mu     sync.Mutex
	paused map[string]*agent.Agent
	traces map[string]*runlog.TraceLogger
}

// Option customizes runtime construction.
type Option func(*Runtime)

// WithSandboxClient supplies the external sandbox daemon client. Sandbox
// substitution stays off without one, even when enabled in config.
func WithSandboxClient(client sandbox.Client) Option {
	return func(r *Runtime) {
		if client != nil {
			ttl := time.Duration(r.cfg.Tools.Sandbox.TTLSeconds) * time.Second
			r.sandbox = sandbox.NewManager(client, ttl)
		}
	}
}

// WithExporter routes run records to an external observability backend
// instead of the per-run JSONL files.
func WithExporter(exporter runlog.Exporter) Option {
	return func(r *Runtime) {
		r.exporter = exporter
	}
}

// WithProvider overrides the configured LLM provider; tests inject scripted
// providers through it.
func WithProvider(provider llms.Provider) Option {
	return func(r *Runtime) {
		r.provider = provider
	}
}

// New builds the runtime from configuration. Configuration errors —
// unknown provider, bad MCP document — fail startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	workspaceDir, err := utils.EnsureWorkspaceDir(cfg.Agent.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	skillLoader, err := skills.NewLoader(cfg.Skills.Dir)
	if err != nil {
		return nil, err
	}
	if cfg.Skills.Watch {
		if err := skillLoader.Watch(ctx); err != nil {
			slog.Warn("Skill catalog watcher unavailable", "error", err)
		}
	}

	var store session.Store
	switch cfg.Session.Backend {
	case "file":
		store, err = session.NewFileStore(cfg.Session.Dir)
		if err != nil {
			return nil, err
		}
	default:
		store = session.NewMemoryStore()
	}

	r := &Runtime{
		cfg:          cfg,
		store:        store,
		skills:       skillLoader,
		workspaceDir: workspaceDir,
		paused:       make(map[string]*agent.Agent),
		traces:       make(map[string]*runlog.TraceLogger),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.provider == nil {
		provider, err := llms.NewProvider(&cfg.LLM)
		if err != nil {
			return nil, err
		}
		r.provider = provider
	}

	if r.sandbox != nil {
		r.sandbox.StartReaper(ctx)
	}

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.Observability.ServiceName,
	}); err != nil {
		return nil, err
	}
	if _, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Enabled: cfg.Observability.MetricsEnabled,
	}); err != nil {
		return nil, err
	}

	if err := r.loadTools(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// loadTools registers sources in load order: native first, then MCP.
// Sandbox substitution and the spawn tool are per session/agent.
func (r *Runtime) loadTools(ctx context.Context) error {
	registry := tools.NewRegistry()
	registry.SetDefaultTimeout(time.Duration(r.cfg.Tools.Command.MaxExecutionMs) * time.Millisecond)

	native := tools.NewLocalSource("local",
		tools.NewEchoTool(),
		tools.NewCommandTool(r.workspaceDir, r.cfg.Tools.Command.AllowedCommands),
		tools.NewReadFileTool(r.workspaceDir),
		tools.NewWriteFileTool(r.workspaceDir),
		tools.NewGetUserInputTool(),
		tools.NewGetSkillTool(r.skills),
	)
	if err := registry.RegisterSource(ctx, native); err != nil {
		return err
	}

	if r.cfg.Tools.MCP.Enabled {
		doc, err := tools.LoadMCPDocument(r.cfg.Tools.MCP.ConfigPath)
		if err != nil {
			return err
		}
		for _, source := range tools.LoadMCPSources(doc) {
			if err := registry.RegisterSource(ctx, source); err != nil {
				// A server that cannot be dialed is skipped, not fatal.
				slog.Warn("Skipping MCP server", "server", source.GetName(), "error", err)
			}
		}
	}

	r.base = registry
	return nil
}

// Provider returns the configured LLM provider.
func (r *Runtime) Provider() llms.Provider {
	return r.provider
}

// Sessions returns the session store.
func (r *Runtime) Sessions() session.Store {
	return r.store
}

// Skills returns the skill catalog.
func (r *Runtime) Skills() *skills.Loader {
	return r.skills
}

// Tools returns the process-wide tool registry.
func (r *Runtime) Tools() *tools.Registry {
	return r.base
}

// NewAgent builds an agent bound to a session. The session registry copies
// the base one; sandbox substitutes shadow natives when enabled, and the
// spawn tool is attached last.
func (r *Runtime) NewAgent(ctx context.Context, sessionID string, promptCfg prompt.Config) (*agent.Agent, error) {
	registry := tools.NewRegistry()
	for _, entry := range r.base.List() {
		registry.Replace(entry.Name, entry)
	}

	if r.sandbox != nil && r.cfg.Tools.Sandbox.Enabled && sessionID != "" {
		source := sandbox.NewSource(r.sandbox, sessionID)
		if err := registry.RegisterSource(ctx, source); err != nil {
			return nil, err
		}
	}

	opts := agent.Options{
		Name:         "conductor",
		Provider:     r.provider,
		Registry:     registry,
		PromptConfig: promptCfg,
		SkillLoader:  r.skills,
		WorkspaceDir: r.workspaceDir,
		RunLogDir:    r.cfg.Logging.RunLogDir,
		Exporter:     r.exporter,
		SessionStore: r.store,
		SessionID:    sessionID,
		RunnerType:   session.RunnerTypeSolo,
		ToolOutputLimit: r.cfg.Agent.ToolOutputLimit,
		SpawnMaxDepth:   r.cfg.Agent.SpawnMaxDepth,
		RunConfig: agent.RunConfig{
			MaxSteps:            r.cfg.Agent.MaxSteps,
			TokenLimit:          r.cfg.Agent.TokenLimit,
			Streaming:           r.cfg.Agent.Streaming,
			EnableSummarization: r.cfg.Agent.EnableSummarizationOrDefault(),
		},
	}

	if err := agent.AttachSpawnTool(registry, opts, 0); err != nil {
		return nil, err
	}

	return agent.New(opts)
}

// DefaultPromptConfig is the assistant profile used when the request does
// not carry its own.
func (r *Runtime) DefaultPromptConfig() prompt.Config {
	return prompt.Config{
		Description: "You are a helpful AI assistant.",
		Instructions: []string{
			"Always think step by step",
			"Use available tools when appropriate",
			"Provide clear and accurate responses",
		},
		Markdown:     true,
		AddWorkspace: true,
	}
}

// RememberPaused stores a run suspended on user input, keyed by session.
func (r *Runtime) RememberPaused(sessionID string, a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[sessionID] = a
}

// TakePaused removes and returns the paused run for a session.
func (r *Runtime) TakePaused(sessionID string) (*agent.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.paused[sessionID]
	if ok {
		delete(r.paused, sessionID)
	}
	return a, ok
}

// RegisterTrace makes a trace stream retrievable over HTTP.
func (r *Runtime) RegisterTrace(trace *runlog.TraceLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[trace.TraceID()] = trace
}

// Trace returns a registered trace stream.
func (r *Runtime) Trace(traceID string) (*runlog.TraceLogger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trace, ok := r.traces[traceID]
	return trace, ok
}

// Close releases provider resources.
func (r *Runtime) Close() error {
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}

