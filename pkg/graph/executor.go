package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NodeEvent is emitted by the streaming executor as each node completes.
type NodeEvent struct {
	NodeName   string `json:"node_name"`
	StateDelta State  `json:"state_delta"`
}

// CompiledGraph is an executable schedule. It is immutable and safe for
// concurrent runs.
type CompiledGraph struct {
	nodes    map[string]node
	edges    []edge
	reducers map[string]Reducer
	layers   map[string]int
}

// Layers exposes the longest-path layer index per node, mainly for tests.
func (g *CompiledGraph) Layers() map[string]int {
	out := make(map[string]int, len(g.layers))
	for k, v := range g.layers {
		out[k] = v
	}
	return out
}

// Invoke runs the graph to END and returns the final state.
func (g *CompiledGraph) Invoke(ctx context.Context, initial State) (State, error) {
	return g.execute(ctx, initial, nil)
}

// Stream runs the graph while emitting a NodeEvent per completed node, in
// completion order. The channel closes when execution finishes; the final
// state arrives on the result channel.
func (g *CompiledGraph) Stream(ctx context.Context, initial State) (<-chan NodeEvent, <-chan State, <-chan error) {
	events := make(chan NodeEvent, 64)
	finalCh := make(chan State, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(finalCh)
		defer close(errCh)

		final, err := g.execute(ctx, initial, func(ev NodeEvent) {
			events <- ev
		})
		if err != nil {
			errCh <- err
			return
		}
		finalCh <- final
	}()

	return events, finalCh, errCh
}

// execute schedules activated nodes layer by layer. A node runs when its
// layer is reached and at least one incoming edge actually fired; nodes
// END routed around are skipped. A node failure cancels in-flight siblings
// and aborts the run.
func (g *CompiledGraph) execute(ctx context.Context, initial State, emit func(NodeEvent)) (State, error) {
	state := initial.Clone()
	if state == nil {
		state = State{}
	}

	activated := make(map[string]bool)
	ended := false

	fire := func(source string, current State) {
		for _, e := range g.edges {
			if e.source != source {
				continue
			}
			if e.kind == edgeNormal {
				if e.target == End {
					ended = true
				} else {
					activated[e.target] = true
				}
				continue
			}
			for _, target := range e.router(current) {
				if target == End {
					ended = true
					continue
				}
				if !validCandidate(e.candidates, target) {
					continue
				}
				activated[target] = true
			}
		}
	}

	fire(Start, state)

	maxLayer := 0
	for _, layer := range g.layers {
		if layer > maxLayer {
			maxLayer = layer
		}
	}

	for layer := 1; layer <= maxLayer; layer++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ready := g.readyNodes(activated, layer)
		if len(ready) == 0 {
			continue
		}
		for _, name := range ready {
			delete(activated, name)
		}

		// All ready nodes of a layer run in parallel; a failure cancels
		// the siblings through the group context.
		updates := make([]State, len(ready))
		group, groupCtx := errgroup.WithContext(ctx)
		for i, name := range ready {
			group.Go(func() error {
				update, err := g.runNode(groupCtx, name, state.Clone())
				if err != nil {
					return fmt.Errorf("node '%s' failed: %w", name, err)
				}
				updates[i] = update
				if emit != nil && update != nil {
					emit(NodeEvent{NodeName: name, StateDelta: update})
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}

		// Fold the layer's writes through the reducers. Two concurrent
		// writers of a field with no declared reducer make the merge order
		// undefined, which the contract rejects.
		written := make(map[string]string)
		for i, update := range updates {
			for field, value := range update {
				reducer, declared := g.reducers[field]
				if !declared {
					if prev, conflict := written[field]; conflict {
						return nil, &GraphError{
							Operation: "Execute",
							Message: fmt.Sprintf("concurrent nodes '%s' and '%s' write field '%s' with the default replace reducer",
								prev, ready[i], field),
						}
					}
					written[field] = ready[i]
					state[field] = value
					continue
				}
				state[field] = reducer(state[field], value)
			}
		}
		current := state.Clone()

		for _, name := range ready {
			fire(name, current)
		}

		if ended && len(activated) == 0 {
			break
		}
	}

	return state, nil
}

func (g *CompiledGraph) readyNodes(activated map[string]bool, layer int) []string {
	var ready []string
	for name := range activated {
		if g.layers[name] == layer {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

func (g *CompiledGraph) runNode(ctx context.Context, name string, state State) (State, error) {
	tracer := observability.GetTracer("conductor.graph")
	ctx, span := tracer.Start(ctx, observability.SpanGraphNode,
		trace.WithAttributes(attribute.String("graph.node", name)),
	)
	defer span.End()

	n, exists := g.nodes[name]
	if !exists {
		return nil, &GraphError{Operation: "Execute", Message: fmt.Sprintf("node '%s' not found", name)}
	}

	return n.fn(ctx, state)
}

func validCandidate(candidates []string, target string) bool {
	for _, candidate := range candidates {
		if candidate == target {
			return true
		}
	}
	return false
}
