// Package scheduler implements the engine's top-level entry point: construction from
// a base graph, ownership of shared state/context/caches/loaders, URL-pattern
// traversal entry (url()), and the lifecycle event wiring that the rest of the
// engine's components plug into.
package scheduler

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"github.com/wehubfusion/fluxgraph/pkg/handler"
	"github.com/wehubfusion/fluxgraph/pkg/loader"
)

// DefaultGraphPathTemplate and DefaultVectorPathTemplate are the default artifact
// URL templates.
const (
	DefaultGraphPathTemplate  = "artifacts/graph/{id}.{version}"
	DefaultVectorPathTemplate = "artifacts/vectors/{id}.{version}"
)

// Config configures a Scheduler: a plain struct with ApplyDefaults and fluent With*
// setters.
type Config struct {
	GraphPathTemplate  string
	VectorPathTemplate string

	HandlerPool handler.PoolConfig
	Modules     map[string]handler.ModuleFactory

	GraphFetcher loader.Fetcher
	NodeFetcher  loader.Fetcher
	FetchTimeout time.Duration

	GraphValidator loader.SchemaValidator
	NodeValidator  loader.SchemaValidator

	Logger *zap.Logger
	Tracer trace.Tracer

	// EventSink, if set, receives every dispatched event (e.g. an
	// eventbus.NATSSink.Listener()) in addition to any listeners the caller adds
	// directly.
	EventSink eventbus.Listener

	Require handler.RequireFunc

	Notifier Notifier
}

// ApplyDefaults fills unset fields with the Scheduler's defaults.
func (c *Config) ApplyDefaults() {
	if c.GraphPathTemplate == "" {
		c.GraphPathTemplate = DefaultGraphPathTemplate
	}
	if c.VectorPathTemplate == "" {
		c.VectorPathTemplate = DefaultVectorPathTemplate
	}
	c.HandlerPool.ApplyDefaults()
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.GraphFetcher == nil {
		c.GraphFetcher = loader.NewHTTPFetcher(c.FetchTimeout)
	}
	if c.NodeFetcher == nil {
		c.NodeFetcher = loader.NewHTTPFetcher(c.FetchTimeout)
	}
}

// WithGraphPathTemplate overrides the Graph artifact URL template.
func (c Config) WithGraphPathTemplate(tmpl string) Config {
	c.GraphPathTemplate = tmpl
	return c
}

// WithVectorPathTemplate overrides the Node artifact URL template.
func (c Config) WithVectorPathTemplate(tmpl string) Config {
	c.VectorPathTemplate = tmpl
	return c
}

// WithLogger sets the Scheduler's structured logger.
func (c Config) WithLogger(l *zap.Logger) Config {
	c.Logger = l
	return c
}

// WithTracer sets the OpenTelemetry tracer used to wrap url() calls.
func (c Config) WithTracer(t trace.Tracer) Config {
	c.Tracer = t
	return c
}

// WithGraphFetcher overrides the Fetcher used by the Graph Loader.
func (c Config) WithGraphFetcher(f loader.Fetcher) Config {
	c.GraphFetcher = f
	return c
}

// WithNodeFetcher overrides the Fetcher used by the Node Loader.
func (c Config) WithNodeFetcher(f loader.Fetcher) Config {
	c.NodeFetcher = f
	return c
}

// WithNotifier installs an external notifier invoked when a top-level url() call's
// `end` event fires.
func (c Config) WithNotifier(n Notifier) Config {
	c.Notifier = n
	return c
}
