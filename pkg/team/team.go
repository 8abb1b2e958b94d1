// Package team implements leader/member coordination: a leader agent
// delegates subtasks to member agents through a synthetic tool and folds
// their answers into its own reasoning.
package team

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/agent"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/runlog"
	"github.com/kadirpekel/conductor/pkg/session"
	"github.com/kadirpekel/conductor/pkg/tools"
)

// DefaultMemberMaxSteps bounds a member agent's loop.
const DefaultMemberMaxSteps = 10

// DefaultMaxParallel bounds fan-out concurrency.
const DefaultMaxParallel = 4

// MemberConfig describes one team member.
type MemberConfig struct {
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Instructions string   `yaml:"instructions,omitempty"`
	ToolNames    []string `yaml:"tools,omitempty"`
	MaxSteps     int      `yaml:"max_steps,omitempty"`
}

// Config describes the team.
type Config struct {
	Name               string         `yaml:"name"`
	Description        string         `yaml:"description,omitempty"`
	LeaderInstructions string         `yaml:"leader_instructions,omitempty"`
	Members            []MemberConfig `yaml:"members"`
	DelegateToAll      bool           `yaml:"delegate_to_all,omitempty"`
	MaxSteps           int            `yaml:"max_steps,omitempty"`
	MaxParallel        int            `yaml:"max_parallel,omitempty"`
}

// TeamError reports a coordination failure.
type TeamError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *TeamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *TeamError) Unwrap() error {
	return e.Err
}

// MemberRunResult is one member execution.
type MemberRunResult struct {
	MemberName string `json:"member_name"`
	MemberRole string `json:"member_role"`
	Task       string `json:"task"`
	Response   string `json:"response"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Steps      int    `json:"steps"`
}

// RunResponse is the team's answer to one composite task.
type RunResponse struct {
	Response   string            `json:"response"`
	Success    bool              `json:"success"`
	RunID      string            `json:"run_id"`
	Steps      int               `json:"steps"`
	MemberRuns []MemberRunResult `json:"member_runs"`
}

// Options wires the team's shared services. ToolPool holds every tool
// members may be granted; the leader itself only sees the delegation tool.
type Options struct {
	Provider      llms.Provider
	ToolPool      *tools.Registry
	SessionStore  session.Store
	Trace         *runlog.TraceLogger
	WorkspaceDir  string
	RunLogDir     string
	Exporter      runlog.Exporter
	RunConfig     agent.RunConfig
	SpawnMaxDepth int
	HistoryRuns   int
}

// Team coordinates one leader and its members.
type Team struct {
	config Config
	opts   Options

	mu         sync.Mutex
	memberRuns []MemberRunResult
}

// New validates the configuration and builds the team.
func New(config Config, opts Options) (*Team, error) {
	if config.Name == "" {
		return nil, &TeamError{Component: "Team", Operation: "New", Message: "team name is required"}
	}
	if len(config.Members) == 0 {
		return nil, &TeamError{Component: "Team", Operation: "New", Message: "team must have at least one member"}
	}
	if opts.Provider == nil {
		return nil, &TeamError{Component: "Team", Operation: "New", Message: "LLM provider is required"}
	}
	if opts.ToolPool == nil {
		opts.ToolPool = tools.NewRegistry()
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = agent.DefaultMaxSteps
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = DefaultMaxParallel
	}

	seen := make(map[string]bool)
	for _, member := range config.Members {
		if member.Name == "" {
			return nil, &TeamError{Component: "Team", Operation: "New", Message: "member name cannot be empty"}
		}
		if seen[member.Name] {
			return nil, &TeamError{Component: "Team", Operation: "New",
				Message: fmt.Sprintf("duplicate member name '%s'", member.Name)}
		}
		seen[member.Name] = true
	}

	return &Team{config: config, opts: opts}, nil
}

// Run executes the composite task: the leader reasons, delegates through
// the synthetic tool, and its final text becomes the team's answer.
func (t *Team) Run(ctx context.Context, message, sessionID string) (*RunResponse, error) {
	if message == "" {
		return nil, &TeamError{Component: "Team", Operation: "Run", Message: "input cannot be empty"}
	}

	t.mu.Lock()
	t.memberRuns = nil
	t.mu.Unlock()

	leaderRunID := uuid.NewString()

	if sessionID != "" && t.opts.SessionStore != nil {
		if _, err := t.opts.SessionStore.GetOrCreate(sessionID, "", t.config.Name); err != nil {
			return nil, &TeamError{Component: "Team", Operation: "Run", Message: "failed to open session", Err: err}
		}
	}

	if t.opts.Trace != nil {
		t.opts.Trace.Log(runlog.EventWorkflowStart, leaderRunID, "", map[string]any{
			"team":    t.config.Name,
			"members": len(t.config.Members),
		})
	}

	leaderRegistry := tools.NewRegistry()
	delegate := t.delegationTool(leaderRunID, sessionID)
	source := tools.NewTypedLocalSource("team", tools.SourceTypeNative, delegate)
	if err := leaderRegistry.RegisterSource(ctx, source); err != nil {
		return nil, &TeamError{Component: "Team", Operation: "Run", Message: "failed to register delegation tool", Err: err}
	}

	leader, err := agent.New(agent.Options{
		Name:         t.config.Name,
		Provider:     t.opts.Provider,
		Registry:     leaderRegistry,
		SystemPrompt: t.buildLeaderPrompt(sessionID),
		WorkspaceDir: t.opts.WorkspaceDir,
		RunLogDir:    t.opts.RunLogDir,
		Exporter:     t.opts.Exporter,
		Trace:        t.opts.Trace,
		SessionStore: t.opts.SessionStore,
		SessionID:    sessionID,
		RunnerType:   session.RunnerTypeLeader,
		RunID:        leaderRunID,
		HistoryRuns:  t.opts.HistoryRuns,
		RunConfig: agent.RunConfig{
			MaxSteps:            t.config.MaxSteps,
			TokenLimit:          t.opts.RunConfig.TokenLimit,
			Streaming:           false,
			EnableSummarization: t.opts.RunConfig.EnableSummarization,
		},
	})
	if err != nil {
		return nil, &TeamError{Component: "Team", Operation: "Run", Message: "failed to create leader", Err: err}
	}

	result, err := leader.Run(ctx, message)
	if err != nil {
		return nil, &TeamError{Component: "Team", Operation: "Run", Message: "leader run failed", Err: err}
	}

	if t.opts.Trace != nil {
		t.opts.Trace.Log(runlog.EventWorkflowEnd, leaderRunID, "", map[string]any{
			"team":    t.config.Name,
			"success": result.Success,
		})
	}

	t.mu.Lock()
	memberRuns := append([]MemberRunResult{}, t.memberRuns...)
	t.mu.Unlock()

	return &RunResponse{
		Response:   result.Response,
		Success:    result.Success,
		RunID:      leaderRunID,
		Steps:      result.Steps,
		MemberRuns: memberRuns,
	}, nil
}

// delegationTool builds the leader-only synthetic tool: either the targeted
// delegate_task_to_member or the fan-out delegate_task_to_all_members.
func (t *Team) delegationTool(leaderRunID, sessionID string) tools.Tool {
	if t.config.DelegateToAll {
		return &delegateAllTool{team: t, leaderRunID: leaderRunID, sessionID: sessionID}
	}
	return &delegateTool{team: t, leaderRunID: leaderRunID, sessionID: sessionID}
}

// runMember executes one member to completion as a nested agent loop.
func (t *Team) runMember(ctx context.Context, member MemberConfig, task, leaderRunID, sessionID string) MemberRunResult {
	if t.opts.Trace != nil {
		t.opts.Trace.Log(runlog.EventDelegation, leaderRunID, "", map[string]any{
			"member": member.Name,
			"task":   task,
		})
		t.opts.Trace.Log(runlog.EventTaskStart, leaderRunID, "", map[string]any{
			"member": member.Name,
		})
	}

	memberRegistry := tools.NewRegistry()
	allowed := make(map[string]bool, len(member.ToolNames))
	wantsSpawn := false
	for _, name := range member.ToolNames {
		if name == "spawn_agent" {
			wantsSpawn = true
			continue
		}
		allowed[name] = true
	}
	for _, entry := range t.opts.ToolPool.List() {
		if allowed[entry.Name] {
			memberRegistry.Replace(entry.Name, entry)
		}
	}

	maxSteps := member.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMemberMaxSteps
	}

	memberOpts := agent.Options{
		Name:     member.Name,
		Provider: t.opts.Provider,
		Registry: memberRegistry,
		SystemPrompt: fmt.Sprintf(
			"You are %s, a %s.\n\n%s\n\nFocus on your area of expertise and provide clear, actionable responses.",
			member.Name, member.Role, member.Instructions),
		WorkspaceDir:  t.opts.WorkspaceDir,
		RunLogDir:     t.opts.RunLogDir,
		Exporter:      t.opts.Exporter,
		Trace:         t.opts.Trace,
		SessionStore:  t.opts.SessionStore,
		SessionID:     sessionID,
		RunnerType:    session.RunnerTypeMember,
		ParentRunID:   leaderRunID,
		SpawnMaxDepth: t.opts.SpawnMaxDepth,
		RunConfig: agent.RunConfig{
			MaxSteps:            maxSteps,
			TokenLimit:          t.opts.RunConfig.TokenLimit,
			EnableSummarization: t.opts.RunConfig.EnableSummarization,
		},
	}

	// A member may spawn sub-agents; the depth counter is shared with the
	// team nesting so the whole chain stays bounded.
	if wantsSpawn {
		if err := agent.AttachSpawnTool(memberRegistry, memberOpts, 1); err != nil {
			return t.memberFailure(member, task, leaderRunID, err)
		}
	}

	memberAgent, err := agent.New(memberOpts)
	if err != nil {
		return t.memberFailure(member, task, leaderRunID, err)
	}

	runResult, err := memberAgent.Run(ctx, task)
	if err != nil {
		return t.memberFailure(member, task, leaderRunID, err)
	}

	result := MemberRunResult{
		MemberName: member.Name,
		MemberRole: member.Role,
		Task:       task,
		Response:   runResult.Response,
		Success:    runResult.Success,
		Steps:      runResult.Steps,
	}
	if !runResult.Success {
		result.Error = runResult.Response
	}

	if t.opts.Trace != nil {
		t.opts.Trace.Log(runlog.EventTaskEnd, leaderRunID, "", map[string]any{
			"member":  member.Name,
			"success": result.Success,
			"steps":   result.Steps,
		})
	}

	t.mu.Lock()
	t.memberRuns = append(t.memberRuns, result)
	t.mu.Unlock()

	return result
}

func (t *Team) memberFailure(member MemberConfig, task, leaderRunID string, err error) MemberRunResult {
	result := MemberRunResult{
		MemberName: member.Name,
		MemberRole: member.Role,
		Task:       task,
		Success:    false,
		Error:      err.Error(),
	}

	if t.opts.Trace != nil {
		t.opts.Trace.Log(runlog.EventTaskEnd, leaderRunID, "", map[string]any{
			"member":  member.Name,
			"success": false,
			"error":   err.Error(),
		})
	}

	t.mu.Lock()
	t.memberRuns = append(t.memberRuns, result)
	t.mu.Unlock()

	return result
}

func (t *Team) findMember(name string) (MemberConfig, bool) {
	for _, member := range t.config.Members {
		if member.Name == name {
			return member, true
		}
	}
	return MemberConfig{}, false
}

// fanOut runs the task on every member concurrently, bounded by
// MaxParallel, and returns the name-labelled concatenation.
func (t *Team) fanOut(ctx context.Context, task, leaderRunID, sessionID string) string {
	results := make([]MemberRunResult, len(t.config.Members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.MaxParallel)

	for i, member := range t.config.Members {
		g.Go(func() error {
			results[i] = t.runMember(gctx, member, task, leaderRunID, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	var sb strings.Builder
	for _, result := range results {
		sb.WriteString(fmt.Sprintf("## %s (%s)\n", result.MemberName, result.MemberRole))
		if result.Success {
			sb.WriteString(result.Response)
		} else {
			sb.WriteString(fmt.Sprintf("Error: %s", result.Error))
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

func (t *Team) buildLeaderPrompt(sessionID string) string {
	var membersDesc []string
	for idx, member := range t.config.Members {
		entry := fmt.Sprintf(" - Agent %d:\n   - Name: %s\n   - Role: %s", idx+1, member.Name, member.Role)
		if len(member.ToolNames) > 0 {
			entry += fmt.Sprintf("\n   - Member tools:\n    - %s", strings.Join(member.ToolNames, "\n    - "))
		} else {
			entry += "\n   - Member tools: (no tools)"
		}
		if member.Instructions != "" {
			entry += fmt.Sprintf("\n   - Instructions: %s", member.Instructions)
		}
		membersDesc = append(membersDesc, entry)
	}

	var delegationMethod string
	if t.config.DelegateToAll {
		delegationMethod = `- You cannot use a member tool directly. You can only delegate tasks to members.
- Use the ` + "`delegate_task_to_all_members`" + ` tool to send the task to ALL team members.
- When you delegate a task, provide a clear description of the task.
- You must always analyze the responses from members before responding to the user.
- After analyzing the responses from the members, if you feel the task has been completed, you can stop and respond to the user.
- If you are NOT satisfied with the responses from the members, you should re-assign the task.`
	} else {
		delegationMethod = `- Your role is to delegate tasks to members in your team with the highest likelihood of completing the user's request.
- Carefully analyze the tools available to the members and their roles before delegating tasks.
- You cannot use a member tool directly. You can only delegate tasks to members.
- When you delegate a task to another member, make sure to include:
  - member_name (str): The name of the member to delegate the task to.
  - task (str): A clear description of the task.
- You must always analyze the responses from members before responding to the user.
- After analyzing the responses from the members, if you feel the task has been completed, you can stop and respond to the user.
- If you are NOT satisfied with the responses from the members, you should re-assign the task to a different member.
- For simple greetings, thanks, or questions about the team itself, you should respond directly.
- For all work requests, tasks, or questions requiring expertise, route to appropriate team members.`
	}

	description := t.config.Description
	if description == "" {
		description = "A collaborative team of specialized agents"
	}

	systemPrompt := fmt.Sprintf(`You are the leader of a team of AI Agents.

Your task is to coordinate the team to complete the user's request.

<team_name>
%s
</team_name>

<team_description>
%s
</team_description>

<team_members>
%s
</team_members>

<how_to_respond>
%s
</how_to_respond>`, t.config.Name, description, strings.Join(membersDesc, "\n"), delegationMethod)

	if t.config.LeaderInstructions != "" {
		systemPrompt += fmt.Sprintf("\n\n<instructions>\n%s\n</instructions>", t.config.LeaderInstructions)
	}

	if sessionID != "" && t.opts.SessionStore != nil {
		historyRuns := t.opts.HistoryRuns
		if historyRuns <= 0 {
			historyRuns = agent.DefaultHistoryRuns
		}
		if history := t.opts.SessionStore.HistoryContext(sessionID, historyRuns); history != "" {
			systemPrompt += fmt.Sprintf(`

<previous_interactions>
%s

Use the previous interactions to maintain continuity and context.
</previous_interactions>`, history)
		}
	}

	return systemPrompt
}

