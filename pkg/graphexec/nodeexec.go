package graphexec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/graph"
	"github.com/wehubfusion/fluxgraph/pkg/handler"
	loaderpkg "github.com/wehubfusion/fluxgraph/pkg/loader"
)

// Invocation is the full set of inputs to one Node Executor call, corresponding to
// the execute(scheduler, currentGraph, node, field, value) entry point. Context
// (the handler `this`) and URL templates travel through Deps/Scheduler.
type Invocation struct {
	CurrentGraph *graph.Graph
	Node         *graph.Node
	Field        string
	Value        interface{}

	// Context is the value bound as the handler's `this` for this call, absent any
	// "set" listener rebind via setContext.
	Context interface{}

	GraphPathTemplate  string
	VectorPathTemplate string
}

// NodeResult is the settled outcome of a Node Executor invocation: the handler's
// return value (possibly nil) plus whether a handler-level error occurred. A
// handler throw never escapes as a Go error — it is already reported on the
// event bus; Failed and Message let the Scheduler mark its url() span as failed.
type NodeResult struct {
	Return  interface{}
	Failed  bool
	Message string
}

// Execute runs linked-artifact resolution, inner-edge splicing, handler compile
// and invocation, and edge fan-out, in that order, against deps and inv.
func Execute(ctx context.Context, deps *Deps, inv Invocation) NodeResult {
	log := deps.logger()
	node := inv.Node
	currentGraph := inv.CurrentGraph
	field := inv.Field

	// Step A — linked node resolution.
	if node.LinkedNode != nil && !node.LinkedNode.Loaded {
		resolved, err := resolveLinkedNode(ctx, deps, node, inv.VectorPathTemplate)
		if err != nil {
			emitError(deps, "linked node resolution failed", err, eventbus.Payload{"vectorId": node.ID})
			// continue with the original node rather than aborting the traversal.
		} else if resolved != nil {
			node.LinkedNode.Node = resolved
			node.LinkedNode.Loaded = true
			// host node's data/properties win over the linked node's own.
			if node.Data != nil {
				resolved.Data = node.Data
			}
			if node.Properties != nil {
				resolved.Properties = node.Properties
			}
			node = resolved
		} else {
			emitError(deps, "linked node resolved to null", ErrResolutionFailed, eventbus.Payload{"vectorId": inv.Node.ID})
		}
	}

	// Step B — linked graph resolution and inner-edge splicing.
	effectiveGraph := currentGraph
	if node.LinkedGraph != nil {
		lg := node.LinkedGraph
		reported := false
		if !lg.Loaded {
			inner, err := resolveLinkedGraph(ctx, deps, lg, inv.GraphPathTemplate)
			if err != nil {
				emitError(deps, "linked graph resolution failed", err, eventbus.Payload{"vectorId": node.ID})
				reported = true
			} else if inner == nil {
				emitError(deps, "linked graph resolved to null", ErrResolutionFailed, eventbus.Payload{"vectorId": node.ID})
				reported = true
			} else {
				lg.Graph = inner
				spliceInnerEdges(node, inner, lg)
				lg.Loaded = true
			}
		}

		if lg.Graph == nil {
			if !reported {
				emitError(deps, "linked graph resolved to null", ErrResolutionFailed, eventbus.Payload{"vectorId": node.ID})
			}
		} else {
			effectiveGraph = lg.Graph
			if ref, ok := lg.Fields.Inputs[field]; ok {
				if inner := lg.Graph.FindNodeByID(ref.ID); inner != nil {
					field = ref.Field
					node = inner
				}
			}
		}
	}

	// Step C — edges proxy is built lazily inside runHandler, since it needs the
	// handler compiler and the fan-out callback.

	// Step D — per-node runtime cache.
	cache := deps.vectorCacheFor(node.ID)

	// Step E — handler environment and compilation.
	if strings.TrimSpace(node.Template.Set) == "" {
		if node.LinkedGraph != nil {
			// Pass-through graph: valid, nothing further to do.
			return NodeResult{}
		}
		emitError(deps, "No template for set found", ErrTemplateMissing, eventbus.Payload{"vectorId": node.ID})
		return NodeResult{Failed: true, Message: "No template for set found"}
	}

	return runHandler(ctx, deps, log, effectiveGraph, node, field, inv.Value, inv.Context, cache, inv.GraphPathTemplate, inv.VectorPathTemplate)
}

func runHandler(
	ctx context.Context,
	deps *Deps,
	log *zap.Logger,
	currentGraph *graph.Graph,
	node *graph.Node,
	field string,
	value interface{},
	contextVal interface{},
	cache map[string]interface{},
	graphPathTemplate, vectorPathTemplate string,
) NodeResult {
	compiled, err := handler.Compile(node.Template.Set)
	if err != nil {
		emitError(deps, "handler compilation failed", err, eventbus.Payload{"vectorId": node.ID})
		return NodeResult{Failed: true, Message: err.Error()}
	}

	edgeFields := make([]string, len(node.Edges))
	for i, e := range node.Edges {
		edgeFields[i] = e.Field
	}

	setCtx := contextVal
	deps.Bus.DispatchEvent(eventbus.EventSet, eventbus.Payload{
		"vectorId": node.ID,
		"graphId":  currentGraph.ID,
		"field":    field,
		"setContext": func(v interface{}) {
			setCtx = v
		},
	})

	env := handler.Environment{
		Scheduler:  deps.SchedulerHandle,
		Graph:      currentGraph,
		Cache:      cache,
		Vector:     node,
		Field:      field,
		State:      deps.State,
		Value:      value,
		EdgeFields: edgeFields,
		Data:       node.Data,
		Properties: node.Properties,
		Require:    deps.Require,
		This:       setCtx,
		OnEdgeWrite: func(writtenField string, v interface{}) {
			fanOut(ctx, deps, currentGraph, node, writtenField, v, graphPathTemplate, vectorPathTemplate)
		},
	}

	res := deps.Compiler.Execute(ctx, compiled, env)

	afterSetPayload := eventbus.Payload{
		"vectorId": node.ID,
		"return":   res.Return,
	}
	if res.Err != nil {
		afterSetPayload["err"] = res.Err
	}
	deps.Bus.DispatchEvent(eventbus.EventAfterSet, afterSetPayload)

	if res.Err != nil {
		msg := fmt.Sprintf("%s: %s", res.Err.Kind, res.Err.Message)
		emitError(deps, msg, fmt.Errorf("%w: %s", ErrHandlerThrow, msg), eventbus.Payload{"vectorId": node.ID})
		return NodeResult{Return: res.Return, Failed: true, Message: res.Err.Error()}
	}
	return NodeResult{Return: res.Return}
}

// fanOut implements Step C: for each connector on the written edge, possibly load a
// cross-graph target, locate the downstream node, and recursively invoke the Edge
// Executor, sequentially, in declared connector order.
func fanOut(ctx context.Context, deps *Deps, currentGraph *graph.Graph, node *graph.Node, field string, value interface{}, graphPathTemplate, vectorPathTemplate string) {
	edge := node.FindEdge(field)
	if edge == nil {
		return
	}

	for _, conn := range edge.Connectors {
		func(conn graph.Connector) {
			defer func() {
				if r := recover(); r != nil {
					emitError(deps, "edge setter error", fmt.Errorf("%w: %v", ErrSetterThrow, r), eventbus.Payload{"connector": conn})
				}
			}()

			targetGraph := currentGraph
			id, version := currentGraph.Identity()
			if conn.GraphID != id || conn.Version != version {
				g, err := deps.GraphLoader.Load(ctx, templateURL(graphPathTemplate, conn.GraphID, conn.Version))
				if err != nil {
					emitError(deps, "cross-graph load failed", err, eventbus.Payload{"connector": conn})
					return
				}
				targetGraph = g
			}

			targetNode := targetGraph.FindNodeByID(conn.VectorID)
			if targetNode == nil {
				emitError(deps, "connector target node not present in graph", fmt.Errorf("%w: %s", ErrDanglingConnector, conn.VectorID), eventbus.Payload{"connector": conn})
				return
			}

			deps.Bus.DispatchEvent(eventbus.EventBeginConnector, eventbus.Payload{"connector": conn, "value": value})
			ExecuteEdge(ctx, deps, Invocation{
				CurrentGraph:       targetGraph,
				Node:               targetNode,
				Field:              conn.Field,
				Value:              value,
				GraphPathTemplate:  graphPathTemplate,
				VectorPathTemplate: vectorPathTemplate,
			})
			deps.Bus.DispatchEvent(eventbus.EventEndConnector, eventbus.Payload{"connector": conn, "value": value})
		}(conn)
	}
}

func resolveLinkedNode(ctx context.Context, deps *Deps, node *graph.Node, vectorPathTemplate string) (*graph.Node, error) {
	ln := node.LinkedNode
	url := templateURL(vectorPathTemplate, ln.ID, ln.Version)
	n, err := deps.NodeLoader.Load(ctx, url)
	if err != nil {
		if errors.Is(err, loaderpkg.ErrFetchUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return n, nil
}

func resolveLinkedGraph(ctx context.Context, deps *Deps, lg *graph.LinkedGraph, graphPathTemplate string) (*graph.Graph, error) {
	url := templateURL(graphPathTemplate, lg.ID, lg.Version)
	g, err := deps.GraphLoader.Load(ctx, url)
	if err != nil {
		if errors.Is(err, loaderpkg.ErrFetchUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	return g, nil
}

// templateURL substitutes {id} and {version} in tmpl.
func templateURL(tmpl, id string, version int) string {
	r := strings.NewReplacer("{id}", id, "{version}", strconv.Itoa(version))
	return r.Replace(tmpl)
}

func emitError(deps *Deps, message string, err error, extra eventbus.Payload) {
	deps.logger().Warn(message, zap.Error(err))
	payload := eventbus.Payload{"message": message, "err": err}
	for k, v := range extra {
		payload[k] = v
	}
	deps.Bus.DispatchEvent(eventbus.EventError, payload)
}
