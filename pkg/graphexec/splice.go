package graphexec

import "github.com/wehubfusion/fluxgraph/pkg/graph"

// spliceInnerEdges implements inner-edge splicing: for every node V in the inner
// graph, for every output edge E of V, for every entry in
// linkedGraph.fields.outputs, if the entry's (id,field) names (V,E), union the host
// node's matching edge's connectors into E, deduplicated by connector id. It also
// applies linkedGraph.data/properties overrides onto the matching inner nodes.
//
// This is what makes a sub-graph behave as a first-class node from the outside: its
// internal outputs gain the outside world's connectors without the inner graph's
// authors ever knowing about the host graph.
func spliceInnerEdges(hostNode *graph.Node, inner *graph.Graph, lg *graph.LinkedGraph) {
	for outputField, ref := range lg.Fields.Outputs {
		hostEdge := hostNode.FindEdge(outputField)
		if hostEdge == nil {
			continue
		}
		innerNode := inner.FindNodeByID(ref.ID)
		if innerNode == nil {
			continue
		}
		innerEdge := innerNode.FindEdge(ref.Field)
		if innerEdge == nil {
			continue
		}
		innerEdge.Connectors = unionConnectors(innerEdge.Connectors, hostEdge.Connectors)
	}

	for nodeID, data := range lg.Data {
		if n := inner.FindNodeByID(nodeID); n != nil {
			if merged, err := graph.MergePayload(n.Data, data); err == nil {
				n.Data = merged
			} else {
				n.Data = data
			}
		}
	}
	for nodeID, props := range lg.Properties {
		if n := inner.FindNodeByID(nodeID); n != nil {
			if merged, err := graph.MergePayload(n.Properties, props); err == nil {
				n.Properties = merged
			} else {
				n.Properties = props
			}
		}
	}
}

// unionConnectors appends every connector in add whose id is not already present in
// base, preserving base's existing order and add's relative order for new entries.
func unionConnectors(base, add []graph.Connector) []graph.Connector {
	seen := make(map[string]bool, len(base))
	for _, c := range base {
		seen[c.ID] = true
	}
	out := base
	for _, c := range add {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
