package graphexec

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/graph"
	"github.com/wehubfusion/fluxgraph/pkg/handler"
	"github.com/wehubfusion/fluxgraph/pkg/loader"
)

// Deps bundles everything the Edge/Node executors need but do not own: these belong
// to the Scheduler, which constructs graphexec calls with a *Deps built from its own
// fields. Keeping Deps a plain struct (rather than an interface implemented by
// Scheduler) avoids a graphexec<->scheduler import cycle.
type Deps struct {
	Bus         *eventbus.Bus
	GraphLoader *loader.Loader[graph.Graph]
	NodeLoader  *loader.Loader[graph.Node]
	Compiler    *handler.Compiler
	Logger      *zap.Logger
	Tracer      trace.Tracer // optional; nil disables span creation

	// VectorCache is the Scheduler's per-node runtime cache, keyed by node id.
	// Shared across every invocation for the Scheduler's lifetime.
	VectorCache map[string]map[string]interface{}

	// State is the Scheduler-owned, globally shared mutable mapping handlers read
	// and write via the `state` parameter.
	State map[string]interface{}

	// Require backs the handler's require() shim.
	Require handler.RequireFunc

	// SchedulerHandle is whatever value a handler should see as its `scheduler`
	// parameter. The Scheduler sets this to itself (or a narrower facade) so
	// handlers can re-enter via scheduler.url(...).
	SchedulerHandle interface{}
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// vectorCacheFor returns (creating if absent) the runtime cache for nodeID.
func (d *Deps) vectorCacheFor(nodeID string) map[string]interface{} {
	if d.VectorCache == nil {
		d.VectorCache = make(map[string]map[string]interface{})
	}
	if _, ok := d.VectorCache[nodeID]; !ok {
		d.VectorCache[nodeID] = make(map[string]interface{})
	}
	return d.VectorCache[nodeID]
}
