// Package flow is a minimal graph-workflow runner used by the demos and
// tests in this repository. It mirrors the node/edge surface of common
// agent-workflow engines (named nodes, static and conditional edges, an
// entry and a finish point) just far enough to host gated node functions.
// It is a demonstration stand-in, not a workflow engine.
package flow

import (
	"context"
	"errors"
	"fmt"
)

// End is the terminal pseudo-node. Routing to End stops the run.
const End = "end"

// ErrMaxSteps is returned when a run exceeds the step bound, which usually
// means the graph routes in a cycle.
var ErrMaxSteps = errors.New("flow: max steps exceeded")

// State is the mutable data threaded through a run. Nodes receive it,
// may mutate it in place, and return the state for the next node.
type State = map[string]any

// NodeFunc is a single unit of work in the graph.
type NodeFunc func(ctx context.Context, state State) (State, error)

// CondFunc inspects the state after a node ran and picks the label of the
// outgoing route.
type CondFunc func(state State) string

type conditionalEdge struct {
	cond   CondFunc
	routes map[string]string
}

// Graph is a workflow under construction. Build it with AddNode/AddEdge and
// friends, then Compile it into a runnable form.
type Graph struct {
	nodes       map[string]NodeFunc
	order       []string
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
	finish      string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]NodeFunc),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode registers a named node. Re-adding a name replaces its function.
func (g *Graph) AddNode(name string, fn NodeFunc) {
	if _, exists := g.nodes[name]; !exists {
		g.order = append(g.order, name)
	}
	g.nodes[name] = fn
}

// AddEdge wires a static edge from one node to the next. The target may be
// End to terminate the run.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = to
}

// AddConditionalEdges wires a routed edge: after from runs, cond picks a
// label and routes maps that label to the next node (or End).
func (g *Graph) AddConditionalEdges(from string, cond CondFunc, routes map[string]string) {
	g.conditional[from] = conditionalEdge{cond: cond, routes: routes}
}

// SetEntryPoint names the node a run starts at.
func (g *Graph) SetEntryPoint(name string) {
	g.entry = name
}

// SetFinishPoint names the node after which a run stops even without an
// outgoing edge to End.
func (g *Graph) SetFinishPoint(name string) {
	g.finish = name
}

// NodeNames returns the node names in insertion order.
func (g *Graph) NodeNames() []string {
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Node returns the named node function.
func (g *Graph) Node(name string) (NodeFunc, bool) {
	fn, ok := g.nodes[name]
	return fn, ok
}

// ReplaceNode swaps the function behind an existing node, preserving the
// graph structure. It fails when the node is unknown.
func (g *Graph) ReplaceNode(name string, fn NodeFunc) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("flow: unknown node %q", name)
	}
	g.nodes[name] = fn
	return nil
}

// Clone returns a structural copy of the graph sharing the node functions.
func (g *Graph) Clone() *Graph {
	c := New()
	for _, name := range g.order {
		c.AddNode(name, g.nodes[name])
	}
	for from, to := range g.edges {
		c.AddEdge(from, to)
	}
	for from, edge := range g.conditional {
		routes := make(map[string]string, len(edge.routes))
		for label, to := range edge.routes {
			routes[label] = to
		}
		c.AddConditionalEdges(from, edge.cond, routes)
	}
	c.entry = g.entry
	c.finish = g.finish
	return c
}

// Compile validates the graph and returns a runnable form.
func (g *Graph) Compile(opts ...CompileOption) (*Compiled, error) {
	if g.entry == "" {
		return nil, errors.New("flow: entry point not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("flow: entry point %q is not a node", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("flow: edge from unknown node %q", from)
		}
		if to != End {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("flow: edge from %q to unknown node %q", from, to)
			}
		}
	}
	for from, edge := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("flow: conditional edge from unknown node %q", from)
		}
		for label, to := range edge.routes {
			if to != End {
				if _, ok := g.nodes[to]; !ok {
					return nil, fmt.Errorf("flow: route %q from %q to unknown node %q", label, from, to)
				}
			}
		}
	}

	c := &Compiled{graph: g, maxSteps: defaultMaxSteps}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

const defaultMaxSteps = 25

// CompileOption configures a compiled graph.
type CompileOption func(*Compiled)

// WithMaxSteps bounds the number of node executions per run.
func WithMaxSteps(n int) CompileOption {
	return func(c *Compiled) {
		c.maxSteps = n
	}
}

// Compiled is a runnable graph.
type Compiled struct {
	graph    *Graph
	maxSteps int
}

// Invoke runs the graph from its entry point with the given initial state
// and returns the final state. Node errors abort the run and propagate
// unmodified.
func (c *Compiled) Invoke(ctx context.Context, state State) (State, error) {
	if state == nil {
		state = State{}
	}

	current := c.graph.entry
	for steps := 0; current != "" && current != End; steps++ {
		if steps >= c.maxSteps {
			return state, fmt.Errorf("%w after %d steps at node %q", ErrMaxSteps, steps, current)
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		fn, ok := c.graph.nodes[current]
		if !ok {
			return state, fmt.Errorf("flow: routed to unknown node %q", current)
		}

		next, err := fn(ctx, state)
		if err != nil {
			return state, err
		}
		if next != nil {
			state = next
		}

		if current == c.graph.finish {
			return state, nil
		}
		current, err = c.route(current, state)
		if err != nil {
			return state, err
		}
	}

	return state, nil
}

// route resolves the node following current, preferring conditional edges.
func (c *Compiled) route(current string, state State) (string, error) {
	if edge, ok := c.graph.conditional[current]; ok {
		label := edge.cond(state)
		next, ok := edge.routes[label]
		if !ok {
			return "", fmt.Errorf("flow: node %q routed to unmapped label %q", current, label)
		}
		return next, nil
	}
	if next, ok := c.graph.edges[current]; ok {
		return next, nil
	}
	// No outgoing edge: the run ends here.
	return End, nil
}

type configKey struct{}

// WithConfig attaches per-run configuration to the context, mirroring the
// configurable channel workflow engines pass alongside state. Gated nodes
// read it into their verification metadata.
func WithConfig(ctx context.Context, cfg map[string]any) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFrom returns the per-run configuration, or nil when absent.
func ConfigFrom(ctx context.Context) map[string]any {
	cfg, _ := ctx.Value(configKey{}).(map[string]any)
	return cfg
}
