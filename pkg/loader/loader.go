// Package loader implements the engine's artifact loader: an override-first, cache-
// next, fetch-last resolver for Graph and Node JSON artifacts, generic over the
// artifact type so the same machinery backs both the Graph Loader and the Node
// Loader the scheduler owns.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wehubfusion/fluxgraph/pkg/eventbus"
	"go.uber.org/zap"
)

// ErrFetchUnavailable is returned when an artifact is neither cached, overridden by a
// "load" listener, nor resolvable because no Fetcher was configured. The message text
// deliberately matches the host-fetch-undefined phrasing callers historically match
// against ("Fetch is not defined").
var ErrFetchUnavailable = errors.New("Fetch is not defined")

// Fetcher retrieves the raw bytes of an artifact addressed by url. Implementations
// wrap a transport (plain HTTP, Azure Blob Storage, a local filesystem for tests).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SchemaValidator validates a freshly fetched artifact's JSON shape before it is
// unmarshaled and cached. A validator that returns an error prevents the artifact
// from ever entering the cache.
type SchemaValidator interface {
	Validate(data []byte) error
}

// LoadEvent is the payload carried by the "load" lifecycle event. A listener that
// wants to override resolution (serve a fixture, apply an in-memory patch) calls
// SetValue with the raw artifact bytes; Loader.Load treats that as an immediate
// resolution and skips both the cache and the Fetcher.
type LoadEvent struct {
	URL string

	resolved bool
	value    []byte
}

// SetValue overrides this load with raw, that is,  resolution, short-circuiting the
// cache and the Fetcher for this call only. The artifact is still stored in the
// cache afterward at the same key.
func (e *LoadEvent) SetValue(raw []byte) {
	e.value = raw
	e.resolved = true
}

// Loader[T] resolves an artifact of type T by URL: a "load" event listener
// override, then a cache hit, then Fetcher.Fetch, in that order, with an optional
// schema validation pass applied to whatever the override or the Fetcher returns.
type Loader[T any] struct {
	mu        sync.RWMutex
	cache     map[string]*T
	fetcher   Fetcher
	bus       *eventbus.Bus
	validator SchemaValidator
	logger    *zap.Logger
	// eventExtra is merged into every dispatched "load"/"warning"/"error" payload,
	// e.g. {"kind": "graph"} vs {"kind": "node"} so one listener can tell the two
	// loader instances apart.
	eventExtra eventbus.Payload
}

// New constructs a Loader. bus and fetcher may be nil; a nil fetcher means only cache
// hits and load-event overrides can resolve an artifact.
func New[T any](bus *eventbus.Bus, fetcher Fetcher, validator SchemaValidator, logger *zap.Logger, eventExtra eventbus.Payload) *Loader[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader[T]{
		cache:      make(map[string]*T),
		fetcher:    fetcher,
		bus:        bus,
		validator:  validator,
		logger:     logger,
		eventExtra: eventExtra,
	}
}

// Load resolves the artifact at url, in override/cache/fetch order, unmarshals it
// into a *T, validates it if a validator is configured, and caches the result.
func (l *Loader[T]) Load(ctx context.Context, url string) (*T, error) {
	raw, cachedValue, err := l.resolveRaw(ctx, url)
	if err != nil {
		return nil, err
	}
	if cachedValue != nil {
		return cachedValue, nil
	}

	if l.validator != nil {
		if err := l.validator.Validate(raw); err != nil {
			l.dispatchError(url, err)
			return nil, fmt.Errorf("loader: artifact at %q failed schema validation: %w", url, err)
		}
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		l.dispatchError(url, err)
		return nil, fmt.Errorf("loader: artifact at %q is not valid JSON for the expected shape: %w", url, err)
	}

	l.store(url, &v)
	return &v, nil
}

func (l *Loader[T]) cached(url string) (*T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.cache[url]
	return v, ok
}

func (l *Loader[T]) store(url string, v *T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[url] = v
}

func (l *Loader[T]) resolveRaw(ctx context.Context, url string) ([]byte, *T, error) {
	ev := &LoadEvent{URL: url}
	if l.bus != nil {
		payload := eventbus.Payload{"url": url, "event": ev}
		for k, v := range l.eventExtra {
			payload[k] = v
		}
		l.bus.DispatchEvent(eventbus.EventLoad, payload)
	}
	if ev.resolved {
		return ev.value, nil, nil
	}

	if v, ok := l.cached(url); ok {
		return nil, v, nil
	}

	if l.fetcher == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrFetchUnavailable, url)
	}

	raw, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		l.dispatchError(url, err)
		return nil, nil, fmt.Errorf("loader: fetch of %q failed: %w", url, err)
	}
	return raw, nil, nil
}

func (l *Loader[T]) dispatchError(url string, err error) {
	l.logger.Warn("artifact resolution failed", zap.String("url", url), zap.Error(err))
	if l.bus == nil {
		return
	}
	payload := eventbus.Payload{"url": url, "message": err.Error()}
	for k, v := range l.eventExtra {
		payload[k] = v
	}
	l.bus.DispatchEvent(eventbus.EventError, payload)
}

// ClearCache drops every cached artifact. Used by tests and by callers that need to
// force re-resolution after an out-of-band artifact update.
func (l *Loader[T]) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*T)
}

// Evict drops a single cached artifact by url.
func (l *Loader[T]) Evict(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, url)
}
