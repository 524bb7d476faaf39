package graphexec

import (
	"context"
	"time"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
)

// ExecuteEdge is the Edge Executor: a thin envelope that brackets one Node
// Executor invocation with beginedge/endedge, and dispatches its own `error` only
// for a panic recovered from Execute. It is used both for the Scheduler's top-level call and
// recursively for every connector fan-out, so beginedge/endedge bracket every node
// invocation regardless of where it originated.
func ExecuteEdge(ctx context.Context, deps *Deps, inv Invocation) NodeResult {
	start := time.Now()

	deps.Bus.DispatchEvent(eventbus.EventBeginEdge, eventbus.Payload{
		"vectorId": inv.Node.ID,
		"graphId":  inv.CurrentGraph.ID,
		"field":    inv.Field,
		"value":    inv.Value,
	})

	// Execute already dispatches its own `error` event for every modeled error kind
	// before returning — the engine never rejects past a node boundary. A recovered
	// panic here is therefore a genuinely unexpected failure (a bug, not a modeled
	// error kind), and is the only case where this envelope emits its own `error`
	// event.
	res := func() (res NodeResult) {
		defer func() {
			if r := recover(); r != nil {
				emitError(deps, "unexpected panic during node execution", ErrHandlerThrow, eventbus.Payload{
					"vectorId": inv.Node.ID,
					"graphId":  inv.CurrentGraph.ID,
					"field":    inv.Field,
					"recovered": r,
				})
				res = NodeResult{Failed: true, Message: "unexpected panic during node execution"}
			}
		}()
		return Execute(ctx, deps, inv)
	}()

	duration := time.Since(start)
	deps.Bus.DispatchEvent(eventbus.EventEndEdge, eventbus.Payload{
		"vectorId": inv.Node.ID,
		"graphId":  inv.CurrentGraph.ID,
		"field":    inv.Field,
		"value":    inv.Value,
		"duration": duration,
	})

	return res
}
