package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// triageGraph routes on status: analyzer classifies, then exactly one of
// urgent/normal appends its result.
func triageGraph(t *testing.T) *CompiledGraph {
	t.Helper()

	g := NewStateGraph(map[string]Reducer{"results": Append}).
		AddNode("analyzer", func(ctx context.Context, state State) (State, error) {
			task, _ := state["task"].(string)
			status := "normal"
			if strings.Contains(task, "urgent") {
				status = "urgent"
			}
			return State{"status": status}, nil
		}).
		AddNode("urgent", func(ctx context.Context, state State) (State, error) {
			return State{"results": []any{"handled urgently"}}, nil
		}).
		AddNode("normal", func(ctx context.Context, state State) (State, error) {
			return State{"results": []any{"handled normally"}}, nil
		}).
		AddEdge(Start, "analyzer").
		AddConditionalEdges("analyzer", RouteTo(func(state State) string {
			if state["status"] == "urgent" {
				return "urgent"
			}
			return "normal"
		}), []string{"urgent", "normal"}).
		AddEdge("urgent", End).
		AddEdge("normal", End)

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return compiled
}

func TestGraph_ConditionalRouting(t *testing.T) {
	compiled := triageGraph(t)

	final, err := compiled.Invoke(context.Background(), State{"task": "urgent X", "status": "", "results": []any{}})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if final["status"] != "urgent" {
		t.Errorf("status = %v, want urgent", final["status"])
	}
	results := final["results"].([]any)
	if len(results) != 1 || results[0] != "handled urgently" {
		t.Errorf("results = %v, want [handled urgently]", results)
	}

	final, err = compiled.Invoke(context.Background(), State{"task": "routine Y", "status": "", "results": []any{}})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if final["status"] != "normal" {
		t.Errorf("status = %v, want normal", final["status"])
	}
	results = final["results"].([]any)
	if len(results) != 1 || results[0] != "handled normally" {
		t.Errorf("results = %v, want [handled normally]", results)
	}
}

func TestGraph_ParallelBranchMergesThroughReducer(t *testing.T) {
	// A parallel START->logger branch appends alongside the triage path;
	// both entries must land in the final results.
	g := NewStateGraph(map[string]Reducer{"results": Append}).
		AddNode("analyzer", func(ctx context.Context, state State) (State, error) {
			return State{"status": "urgent"}, nil
		}).
		AddNode("urgent", func(ctx context.Context, state State) (State, error) {
			return State{"results": []any{"handled urgently"}}, nil
		}).
		AddNode("normal", func(ctx context.Context, state State) (State, error) {
			return State{"results": []any{"handled normally"}}, nil
		}).
		AddNode("logger", func(ctx context.Context, state State) (State, error) {
			return State{"results": []any{"logged"}}, nil
		}).
		AddEdge(Start, "analyzer").
		AddEdge(Start, "logger").
		AddConditionalEdges("analyzer", RouteTo(func(state State) string {
			return "urgent"
		}), []string{"urgent", "normal"}).
		AddEdge("urgent", End).
		AddEdge("normal", End).
		AddEdge("logger", End)

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	final, err := compiled.Invoke(context.Background(), State{"results": []any{}})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	results := final["results"].([]any)
	seen := map[any]bool{}
	for _, r := range results {
		seen[r] = true
	}
	if !seen["handled urgently"] || !seen["logged"] {
		t.Errorf("results must contain both branch entries (order unspecified), got %v", results)
	}
	if seen["handled normally"] {
		t.Errorf("unchosen branch must be skipped, got %v", results)
	}
}

func TestGraph_ReplaceConflictRejected(t *testing.T) {
	g := NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) {
			return State{"field": "from a"}, nil
		}).
		AddNode("b", func(ctx context.Context, state State) (State, error) {
			return State{"field": "from b"}, nil
		}).
		AddEdge(Start, "a").
		AddEdge(Start, "b").
		AddEdge("a", End).
		AddEdge("b", End)

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	_, err = compiled.Invoke(context.Background(), State{})
	if err == nil {
		t.Fatal("concurrent replace writers must be rejected")
	}
	var graphErr *GraphError
	if !errors.As(err, &graphErr) {
		t.Errorf("expected GraphError, got %v", err)
	}
}

func TestGraph_ValidationErrors(t *testing.T) {
	// Unreachable node.
	_, err := NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddNode("island", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddEdge(Start, "a").
		AddEdge("a", End).
		AddEdge("island", End).
		Compile()
	if err == nil {
		t.Error("unreachable node must be rejected")
	}

	// Dead-end node.
	_, err = NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddEdge(Start, "a").
		Compile()
	if err == nil {
		t.Error("node without outgoing edge must be rejected")
	}

	// Edge into START.
	_, err = NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddEdge(Start, "a").
		AddEdge("a", Start).
		Compile()
	if err == nil {
		t.Error("edge targeting START must be rejected")
	}

	// Unconditional self-loop.
	_, err = NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddEdge(Start, "a").
		AddEdge("a", "a").
		Compile()
	if err == nil {
		t.Error("self-loop without a conditional must be rejected")
	}

	// START with no outgoing edge.
	_, err = NewStateGraph(nil).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		Compile()
	if err == nil {
		t.Error("START without outgoing edges must be rejected")
	}
}

func TestGraph_LayersFollowLongestPath(t *testing.T) {
	g := NewStateGraph(map[string]Reducer{"out": Append}).
		AddNode("a", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddNode("b", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddNode("join", func(ctx context.Context, state State) (State, error) { return nil, nil }).
		AddEdge(Start, "a").
		AddEdge(Start, "join"). // short path
		AddEdge("a", "b").
		AddEdge("b", "join"). // long path wins the layering
		AddEdge("join", End)

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	layers := compiled.Layers()
	if layers["a"] != 1 || layers["b"] != 2 || layers["join"] != 3 {
		t.Errorf("layers = %v, want a=1 b=2 join=3", layers)
	}
}

func TestGraph_NodeFailureAbortsRun(t *testing.T) {
	g := NewStateGraph(nil).
		AddNode("boom", func(ctx context.Context, state State) (State, error) {
			return nil, errors.New("exploded")
		}).
		AddEdge(Start, "boom").
		AddEdge("boom", End)

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if _, err := compiled.Invoke(context.Background(), State{}); err == nil {
		t.Fatal("node failure must abort the run")
	}
}

func TestGraph_StreamEmitsPerNode(t *testing.T) {
	compiled := triageGraph(t)

	events, finalCh, errCh := compiled.Stream(context.Background(), State{"task": "urgent X", "results": []any{}})

	var names []string
	for ev := range events {
		names = append(names, ev.NodeName)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	final := <-finalCh

	if len(names) != 2 || names[0] != "analyzer" || names[1] != "urgent" {
		t.Errorf("node completion order = %v, want [analyzer urgent]", names)
	}
	if final["status"] != "urgent" {
		t.Errorf("final status = %v, want urgent", final["status"])
	}
}
