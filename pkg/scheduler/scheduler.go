package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/graph"
	"github.com/wehubfusion/fluxgraph/pkg/graphexec"
	"github.com/wehubfusion/fluxgraph/pkg/handler"
	"github.com/wehubfusion/fluxgraph/pkg/loader"
)

// Scheduler is the engine's top-level entry point. It owns the base graph, the
// handler's shared `this`/state, the per-node runtime cache, the Graph and Node
// loaders, the two URL templates, and the event bus every component broadcasts
// through.
type Scheduler struct {
	baseGraph *graph.Graph
	context   interface{}
	state     map[string]interface{}

	vectorCache map[string]map[string]interface{}

	bus         *eventbus.Bus
	graphLoader *loader.Loader[graph.Graph]
	nodeLoader  *loader.Loader[graph.Node]
	compiler    *handler.Compiler

	// GraphPath and VectorPath are the mutable artifact URL templates, exposed as
	// instance fields a caller may override.
	GraphPath  string
	VectorPath string

	logger   *zap.Logger
	tracer   trace.Tracer
	notifier Notifier
	require  handler.RequireFunc

	traversalCount uint64
}

// New constructs a Scheduler from a base graph and configuration. A nil graph is
// a construction error, the one case the engine fails synchronously rather than
// funneling through the event bus.
func New(g *graph.Graph, ctxValue interface{}, state map[string]interface{}, cfg Config) (*Scheduler, error) {
	if g == nil {
		return nil, graphexec.ErrConstruction
	}
	cfg.ApplyDefaults()

	if state == nil {
		state = make(map[string]interface{})
	}

	bus := eventbus.New(cfg.Logger)
	if cfg.EventSink != nil {
		bus.AddEventListener(eventbus.EventBegin, cfg.EventSink)
		bus.AddEventListener(eventbus.EventEnd, cfg.EventSink)
		bus.AddEventListener(eventbus.EventBeginEdge, cfg.EventSink)
		bus.AddEventListener(eventbus.EventEndEdge, cfg.EventSink)
		bus.AddEventListener(eventbus.EventBeginConnector, cfg.EventSink)
		bus.AddEventListener(eventbus.EventEndConnector, cfg.EventSink)
		bus.AddEventListener(eventbus.EventSet, cfg.EventSink)
		bus.AddEventListener(eventbus.EventAfterSet, cfg.EventSink)
		bus.AddEventListener(eventbus.EventLoad, cfg.EventSink)
		bus.AddEventListener(eventbus.EventWarning, cfg.EventSink)
		bus.AddEventListener(eventbus.EventError, cfg.EventSink)
	}

	graphLoader := loader.New[graph.Graph](bus, cfg.GraphFetcher, cfg.GraphValidator, cfg.Logger, eventbus.Payload{"kind": "graph"})
	nodeLoader := loader.New[graph.Node](bus, cfg.NodeFetcher, cfg.NodeValidator, cfg.Logger, eventbus.Payload{"kind": "node"})

	compiler, err := handler.NewCompiler(handler.Config{Pool: cfg.HandlerPool, Modules: cfg.Modules}, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler: constructing handler compiler: %w", err)
	}

	s := &Scheduler{
		baseGraph:   g,
		context:     ctxValue,
		state:       state,
		vectorCache: make(map[string]map[string]interface{}),
		bus:         bus,
		graphLoader: graphLoader,
		nodeLoader:  nodeLoader,
		compiler:    compiler,
		GraphPath:   cfg.GraphPathTemplate,
		VectorPath:  cfg.VectorPathTemplate,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		notifier:    cfg.Notifier,
		require:     cfg.Require,
	}
	return s, nil
}

// AddEventListener registers fn for the named lifecycle event.
func (s *Scheduler) AddEventListener(name string, fn eventbus.Listener) eventbus.SubscriptionID {
	return s.bus.AddEventListener(name, fn)
}

// RemoveEventListener unregisters a previously added listener; a no-op for an
// unknown id or event name.
func (s *Scheduler) RemoveEventListener(name string, id eventbus.SubscriptionID) {
	s.bus.RemoveEventListener(name, id)
}

// ClearGraphCache invalidates every cached Graph artifact.
func (s *Scheduler) ClearGraphCache() { s.graphLoader.ClearCache() }

// ClearNodeCache invalidates every cached Node artifact.
func (s *Scheduler) ClearNodeCache() { s.nodeLoader.ClearCache() }

// State returns the Scheduler's shared mutable state mapping.
func (s *Scheduler) State() map[string]interface{} { return s.state }

// BaseGraph returns the graph the Scheduler was constructed with.
func (s *Scheduler) BaseGraph() *graph.Graph { return s.baseGraph }

// URL implements Scheduler.url(pattern, value, field?, currentVector?). It matches
// pattern as a regular expression against the current search graph's node URLs,
// and if found, invokes the Edge Executor at that node.
func (s *Scheduler) URL(ctx context.Context, pattern string, value interface{}, field string, currentVector *graph.Node) (interface{}, error) {
	start := time.Now()
	s.traversalCount++

	s.bus.DispatchEvent(eventbus.EventBegin, eventbus.Payload{"url": pattern})

	searchGraph := s.baseGraph
	if currentVector != nil && currentVector.LinkedGraph != nil && currentVector.LinkedGraph.Graph != nil {
		searchGraph = currentVector.LinkedGraph.Graph
	}

	var span trace.Span
	if s.tracer != nil {
		spanAttrs := append([]attribute.KeyValue{attribute.String("fluxgraph.pattern", pattern)}, spanAttributesForGraph(searchGraph)...)
		ctx, span = s.tracer.Start(ctx, "scheduler.url", trace.WithAttributes(spanAttrs...))
		defer span.End()
	}

	node, matchErr := searchGraph.FindNodeByURL(pattern)
	if matchErr != nil || node == nil {
		if pattern != "" {
			s.bus.DispatchEvent(eventbus.EventWarning, eventbus.Payload{
				"message": "Cannot find vector at the specified URL.",
				"url":     pattern,
			})
		}
		s.emitEnd(ctx, pattern, time.Since(start), false)
		return nil, nil
	}

	res := graphexec.ExecuteEdge(ctx, s.deps(), graphexec.Invocation{
		CurrentGraph:       searchGraph,
		Node:               node,
		Field:              field,
		Value:              value,
		Context:            s.context,
		GraphPathTemplate:  s.GraphPath,
		VectorPathTemplate: s.VectorPath,
	})

	if res.Failed && span != nil {
		span.SetStatus(codes.Error, res.Message)
	}
	s.emitEnd(ctx, pattern, time.Since(start), res.Failed)
	return res.Return, nil
}

func (s *Scheduler) emitEnd(ctx context.Context, pattern string, duration time.Duration, failed bool) {
	s.bus.DispatchEvent(eventbus.EventEnd, eventbus.Payload{"url": pattern, "duration": duration})
	if s.notifier != nil {
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.Notify(notifyCtx, pattern, float64(duration.Milliseconds()), failed); err != nil {
				s.logger.Warn("notifier failed", zap.Error(err))
			}
		}()
	}
}

func (s *Scheduler) deps() *graphexec.Deps {
	return &graphexec.Deps{
		Bus:             s.bus,
		GraphLoader:     s.graphLoader,
		NodeLoader:      s.nodeLoader,
		Compiler:        s.compiler,
		Logger:          s.logger,
		Tracer:          s.tracer,
		VectorCache:     s.vectorCache,
		State:           s.state,
		Require:         s.require,
		SchedulerHandle: s,
	}
}

// Close calls the handler compiler's Close (which releases nothing) and closes the
// notifier if it has a Close method (as TemporalNotifier does).
func (s *Scheduler) Close() {
	s.compiler.Close()
	if closer, ok := s.notifier.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Error mirrors graphexec.Error for callers that only import pkg/scheduler.
type Error = graphexec.Error
