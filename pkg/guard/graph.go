package guard

import (
	"context"
	"fmt"

	"github.com/aporthq/aport-go/pkg/flow"
)

// ProtectGraph returns a copy of the graph with every node wrapped by the
// gate. The original graph is left untouched. nodePolicies maps node names
// to policy overrides; nodes not listed are checked against the gate's
// default policy. Call options apply to every node.
func (g *Gate) ProtectGraph(graph *flow.Graph, nodePolicies map[string]string, opts ...CallOption) *flow.Graph {
	protected := graph.Clone()
	for _, name := range protected.NodeNames() {
		fn, _ := protected.Node(name)
		nodeOpts := opts
		if policy, ok := nodePolicies[name]; ok {
			nodeOpts = append(append([]CallOption{}, opts...), WithPolicy(policy))
		}
		// Node names come from NodeNames, so ReplaceNode cannot fail.
		_ = protected.ReplaceNode(name, g.WrapNode(name, fn, nodeOpts...))
	}
	g.logger.Info("graph protected by verification gate",
		"nodes", len(protected.NodeNames()),
		"policy_overrides", len(nodePolicies))
	return protected
}

// VerifyTransition verifies a state transition that is not tied to a node,
// such as a manual hand-off between workflow stages. The verification
// context describes the transition; no state is annotated.
func (g *Gate) VerifyTransition(ctx context.Context, agentID, fromState, toState string, stateData map[string]any, opts ...CallOption) (*Outcome, error) {
	operation := fmt.Sprintf("transition_%s_to_%s", fromState, toState)
	meta := map[string]any{
		"transition":      fmt.Sprintf("%s -> %s", fromState, toState),
		"from_state":      fromState,
		"to_state":        toState,
		"state_data_size": len(stateData),
	}
	return g.Check(ctx, operation, agentID, meta, opts...)
}
