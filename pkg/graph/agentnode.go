package graph

import (
	"context"
	"fmt"

	"github.com/kadirpekel/conductor/pkg/agent"
)

// AgentFactory builds a fresh agent for one node execution. Graph runs may
// execute concurrently, so nodes never share a live Agent.
type AgentFactory func() (*agent.Agent, error)

// AgentNodeConfig wraps an agent loop as a graph node. The node reads
// state[InputKey] as the user message, runs the loop, and writes the final
// assistant text to state[OutputKey]. Extract may derive additional fields
// from the response; those fields need declared reducers when written by
// concurrent branches.
type AgentNodeConfig struct {
	Factory   AgentFactory
	InputKey  string
	OutputKey string
	Extract   func(response string) State
}

// AddAgentNode registers an agent-backed node on the builder.
func (g *StateGraph) AddAgentNode(name string, cfg AgentNodeConfig) *StateGraph {
	if g.err != nil {
		return g
	}
	if cfg.Factory == nil {
		g.err = &GraphError{Operation: "AddAgentNode", Message: fmt.Sprintf("node '%s' requires an agent factory", name)}
		return g
	}
	if cfg.InputKey == "" || cfg.OutputKey == "" {
		g.err = &GraphError{Operation: "AddAgentNode", Message: fmt.Sprintf("node '%s' requires input and output keys", name)}
		return g
	}

	return g.AddNode(name, func(ctx context.Context, state State) (State, error) {
		input, _ := state[cfg.InputKey].(string)
		if input == "" {
			return nil, fmt.Errorf("state field '%s' is empty", cfg.InputKey)
		}

		a, err := cfg.Factory()
		if err != nil {
			return nil, err
		}

		// Cooperative cancellation: the loop checks ctx between steps.
		result, err := a.Run(ctx, input)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, fmt.Errorf("agent run failed: %s", result.Response)
		}

		update := State{cfg.OutputKey: result.Response}
		if cfg.Extract != nil {
			for field, value := range cfg.Extract(result.Response) {
				update[field] = value
			}
		}
		return update, nil
	})
}
