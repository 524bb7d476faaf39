package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/graph"
)

func TestNew_NilGraphIsAConstructionError(t *testing.T) {
	_, err := New(nil, nil, nil, Config{})
	require.Error(t, err)
}

func mathNode(id, setSource string) *graph.Node {
	return &graph.Node{
		ID:       id,
		GraphID:  "g1",
		Version:  1,
		URL:      "/vectors/" + id,
		Template: graph.Template{Set: setSource},
		Edges:    []graph.Edge{{Field: "out"}},
	}
}

// scenario 1: url() against a pattern matching no node emits `warning` and never
// dispatches `beginedge`.
func TestURL_NoMatchEmitsWarningNotBeginEdge(t *testing.T) {
	g := &graph.Graph{ID: "g1", Version: 1}
	g.AppendNode(mathNode("n1", `return value;`))

	sched, err := New(g, nil, nil, Config{})
	require.NoError(t, err)

	var warned bool
	var beganEdge bool
	sched.AddEventListener(eventbus.EventWarning, func(id, name string, payload eventbus.Payload) {
		warned = true
		assert.Equal(t, "Cannot find vector at the specified URL.", payload["message"])
	})
	sched.AddEventListener(eventbus.EventBeginEdge, func(id, name string, payload eventbus.Payload) {
		beganEdge = true
	})

	_, err = sched.URL(context.Background(), "nonexistent-pattern-xyz", nil, "in", nil)
	require.NoError(t, err)
	assert.True(t, warned)
	assert.False(t, beganEdge)
}

// a matching pattern runs the node's handler and returns its value.
func TestURL_MatchingPatternExecutesHandler(t *testing.T) {
	g := &graph.Graph{ID: "g1", Version: 1}
	g.AppendNode(mathNode("n1", `return value * 2;`))

	sched, err := New(g, nil, nil, Config{})
	require.NoError(t, err)

	ret, err := sched.URL(context.Background(), "/vectors/n1", 21.0, "in", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, ret)
}

// begin precedes end for every url() call, matched or not.
func TestURL_EmitsBeginThenEnd(t *testing.T) {
	g := &graph.Graph{ID: "g1", Version: 1}
	sched, err := New(g, nil, nil, Config{})
	require.NoError(t, err)

	var order []string
	sched.AddEventListener(eventbus.EventBegin, func(id, name string, payload eventbus.Payload) {
		order = append(order, eventbus.EventBegin)
	})
	sched.AddEventListener(eventbus.EventEnd, func(id, name string, payload eventbus.Payload) {
		order = append(order, eventbus.EventEnd)
	})

	_, _ = sched.URL(context.Background(), "no-such-pattern", nil, "", nil)
	require.Equal(t, []string{eventbus.EventBegin, eventbus.EventEnd}, order)
}

func TestScheduler_ClearCachesAreIndependent(t *testing.T) {
	g := &graph.Graph{ID: "g1", Version: 1}
	sched, err := New(g, nil, nil, Config{})
	require.NoError(t, err)

	// no panics, independent no-ops on an empty cache.
	sched.ClearGraphCache()
	sched.ClearNodeCache()
}

func TestScheduler_RemoveEventListenerStopsDelivery(t *testing.T) {
	g := &graph.Graph{ID: "g1", Version: 1}
	sched, err := New(g, nil, nil, Config{})
	require.NoError(t, err)

	calls := 0
	id := sched.AddEventListener(eventbus.EventBegin, func(i, n string, p eventbus.Payload) { calls++ })
	sched.RemoveEventListener(eventbus.EventBegin, id)

	_, _ = sched.URL(context.Background(), "", nil, "", nil)
	assert.Equal(t, 0, calls)
}
