package graphexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/graph"
	"github.com/wehubfusion/fluxgraph/pkg/loader"
)

// serveOnLoad registers a "load" listener that resolves exactly the given url to raw,
// standing in for a real Fetcher the way a test fixture override would.
func serveOnLoad(bus *eventbus.Bus, url string, raw []byte) {
	bus.AddEventListener(eventbus.EventLoad, func(id, name string, payload eventbus.Payload) {
		if payload["url"] != url {
			return
		}
		if ev, ok := payload["event"].(*loader.LoadEvent); ok {
			ev.SetValue(raw)
		}
	})
}

// resolveLinkedGraph resolves the inner graph through the configured GraphLoader and
// leaves Loaded false until the caller splices and flips it — Loaded must not be set
// by resolution alone.
func TestResolveLinkedGraph_ResolvesWithoutMarkingLoaded(t *testing.T) {
	deps, bus := newDeps(t)

	innerJSON := []byte(`{
		"id": "inner", "version": 1,
		"vectors": [{
			"id": "innerOut", "graphId": "inner", "version": 1, "url": "/vectors/innerOut",
			"edges": [{"field": "result", "connectors": [
				{"id": "c-existing", "vectorId": "sink", "field": "in", "graphId": "inner", "version": 1}
			]}],
			"template": {"set": "return value;"}
		}]
	}`)
	serveOnLoad(bus, "graphs/inner.1", innerJSON)

	lg := &graph.LinkedGraph{
		ID: "inner", Version: 1,
		Fields: graph.FieldMap{
			Outputs: map[string]graph.FieldRef{"out": {ID: "innerOut", Field: "result"}},
		},
	}

	inner, err := resolveLinkedGraph(context.Background(), deps, lg, "graphs/{id}.{version}")
	require.NoError(t, err)
	require.NotNil(t, inner)
	assert.Equal(t, "inner", inner.ID)
	assert.False(t, lg.Loaded, "resolution alone must not flip Loaded; only splicing does")
}

// spliceInnerEdges unions the host edge's connectors into the inner graph's matching
// edge, deduplicated by connector id — the "superset" invariant — and leaves the
// inner graph's own connectors in place rather than replacing them.
func TestSpliceInnerEdges_UnionsConnectorsAsSuperset(t *testing.T) {
	inner := &graph.Graph{ID: "inner", Version: 1}
	innerNode := &graph.Node{
		ID: "innerOut", GraphID: "inner", Version: 1, URL: "/vectors/innerOut",
		Edges: []graph.Edge{{
			Field: "result",
			Connectors: []graph.Connector{
				{ID: "c-existing", VectorID: "sink", Field: "in", GraphID: "inner", Version: 1},
			},
		}},
		Template: graph.Template{Set: "return value;"},
	}
	inner.AppendNode(innerNode)

	hostNode := &graph.Node{
		ID: "host", GraphID: "g1", Version: 1, URL: "/vectors/host",
		Edges: []graph.Edge{{
			Field: "out",
			Connectors: []graph.Connector{
				{ID: "c-host", VectorID: "other", Field: "in", GraphID: "g1", Version: 1},
			},
		}},
	}

	lg := &graph.LinkedGraph{
		ID: "inner", Version: 1,
		Fields: graph.FieldMap{
			Outputs: map[string]graph.FieldRef{"out": {ID: "innerOut", Field: "result"}},
		},
	}

	spliceInnerEdges(hostNode, inner, lg)

	edge := innerNode.FindEdge("result")
	require.NotNil(t, edge)
	ids := make([]string, len(edge.Connectors))
	for i, c := range edge.Connectors {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"c-existing", "c-host"}, ids)

	// splicing again (as a second url(...) call against the same inner graph would)
	// must not duplicate the already-unioned connector.
	spliceInnerEdges(hostNode, inner, lg)
	edge = innerNode.FindEdge("result")
	require.Len(t, edge.Connectors, 2)
}

// spliceInnerEdges also applies the linked graph's data/property overrides onto the
// matching inner nodes, merging rather than replacing.
func TestSpliceInnerEdges_MergesDataAndPropertyOverrides(t *testing.T) {
	inner := &graph.Graph{ID: "inner", Version: 1}
	innerNode := &graph.Node{
		ID: "innerOut", GraphID: "inner", Version: 1,
		Data:       []byte(`{"kept":1,"overridden":"old"}`),
		Properties: []byte(`{"color":"blue"}`),
	}
	inner.AppendNode(innerNode)

	hostNode := &graph.Node{ID: "host", GraphID: "g1", Version: 1}
	lg := &graph.LinkedGraph{
		ID: "inner", Version: 1,
		Data: map[string]json.RawMessage{
			"innerOut": []byte(`{"overridden":"new"}`),
		},
		Properties: map[string]json.RawMessage{
			"innerOut": []byte(`{"size":"large"}`),
		},
	}

	spliceInnerEdges(hostNode, inner, lg)

	assert.JSONEq(t, `{"kept":1,"overridden":"new"}`, string(innerNode.Data))
	assert.JSONEq(t, `{"color":"blue","size":"large"}`, string(innerNode.Properties))
}

// resolveLinkedNode resolves a reusable node template and the Node Executor's
// Step A splices the host's own data/properties over it, per the
// host-data-wins decision.
func TestResolveLinkedNode_ResolvesAndHostDataWinsOnExecute(t *testing.T) {
	deps, bus := newDeps(t)

	nodeJSON := []byte(`{
		"id": "shared", "graphId": "lib", "version": 1, "url": "/vectors/shared",
		"data": {"from": "template"},
		"template": {"set": "return value;"}
	}`)
	serveOnLoad(bus, "nodes/shared.1", nodeJSON)

	host := &graph.Node{
		ID: "host", GraphID: "g1", Version: 1, URL: "/vectors/host",
		Data: []byte(`{"from":"host"}`),
		LinkedNode: &graph.LinkedNode{
			ID: "shared", Version: 1,
		},
	}
	g := &graph.Graph{ID: "g1", Version: 1}
	g.AppendNode(host)

	res := Execute(context.Background(), deps, Invocation{
		CurrentGraph:       g,
		Node:               host,
		Field:              "in",
		Value:              1.0,
		VectorPathTemplate: "nodes/{id}.{version}",
	})

	require.False(t, res.Failed)
	require.True(t, host.LinkedNode.Loaded, "Loaded must flip to true after a successful resolution")
	require.NotNil(t, host.LinkedNode.Node)
	assert.JSONEq(t, `{"from":"host"}`, string(host.LinkedNode.Node.Data))
}

// Execute's Step B resolves a linked graph exactly once: the first call flips Loaded
// to true via splicing, and a second call against the same node reuses lg.Graph
// without re-fetching or re-splicing (no duplicate connector).
func TestExecute_LinkedGraph_ResolvesAndSplicesOnFirstCallOnly(t *testing.T) {
	deps, bus := newDeps(t)

	innerJSON := []byte(`{
		"id": "inner", "version": 1,
		"vectors": [{
			"id": "innerIn", "graphId": "inner", "version": 1, "url": "/vectors/innerIn",
			"edges": [{"field": "out"}],
			"template": {"set": "edges.out = value; return value;"}
		}]
	}`)
	fetchCount := 0
	bus.AddEventListener(eventbus.EventLoad, func(id, name string, payload eventbus.Payload) {
		if payload["url"] != "graphs/inner.1" {
			return
		}
		fetchCount++
		if ev, ok := payload["event"].(*loader.LoadEvent); ok {
			ev.SetValue(innerJSON)
		}
	})

	host := &graph.Node{
		ID: "host", GraphID: "g1", Version: 1, URL: "/vectors/host",
		Edges: []graph.Edge{{Field: "out"}},
		LinkedGraph: &graph.LinkedGraph{
			ID: "inner", Version: 1,
			Fields: graph.FieldMap{
				Inputs:  map[string]graph.FieldRef{"in": {ID: "innerIn", Field: "in"}},
				Outputs: map[string]graph.FieldRef{"out": {ID: "innerIn", Field: "out"}},
			},
		},
	}
	g := &graph.Graph{ID: "g1", Version: 1}
	g.AppendNode(host)

	res := Execute(context.Background(), deps, Invocation{
		CurrentGraph:       g,
		Node:               host,
		Field:              "in",
		Value:              42.0,
		GraphPathTemplate:  "graphs/{id}.{version}",
		VectorPathTemplate: "nodes/{id}.{version}",
	})
	require.False(t, res.Failed)
	assert.True(t, host.LinkedGraph.Loaded)
	assert.Equal(t, 1, fetchCount)

	// second call against the same (now-resolved) host node must not re-fetch.
	res = Execute(context.Background(), deps, Invocation{
		CurrentGraph:       g,
		Node:               host,
		Field:              "in",
		Value:              43.0,
		GraphPathTemplate:  "graphs/{id}.{version}",
		VectorPathTemplate: "nodes/{id}.{version}",
	})
	require.False(t, res.Failed)
	assert.Equal(t, 1, fetchCount, "a resolved linked graph must be reused, not re-fetched")
}
