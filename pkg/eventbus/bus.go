// Package eventbus implements the engine's identifier generation and lifecycle event
// dispatch: every traversal step (begin/end, beginedge/endedge, beginconnector/
// endconnector, set/afterSet, load, warning, error) is announced here so callers can
// observe propagation without altering it.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Names of the lifecycle events the engine dispatches. Kept as typed constants so
// call sites can't typo an event name past the compiler.
const (
	EventBegin          = "begin"
	EventEnd            = "end"
	EventBeginEdge      = "beginedge"
	EventEndEdge        = "endedge"
	EventBeginConnector = "beginconnector"
	EventEndConnector   = "endconnector"
	EventSet            = "set"
	EventAfterSet       = "afterSet"
	EventLoad           = "load"
	EventWarning        = "warning"
	EventError          = "error"
)

// Payload is the event-specific data carried by a dispatched event. Keys are
// documented per event name at each DispatchEvent call site; callers type-assert the
// values they expect.
type Payload map[string]interface{}

// Listener receives a dispatched event's name, a fresh identifier for this particular
// dispatch, and its payload.
type Listener func(id string, name string, payload Payload)

// SubscriptionID identifies a registered listener for later removal. Go functions
// aren't comparable, so removal by matching an identical function reference isn't
// an option here; AddEventListener returns a handle instead, and
// RemoveEventListener(name, id) is the equivalent no-op-safe removal call.
type SubscriptionID uint64

// subscription pairs a registered listener with the handle a caller can later pass
// to RemoveEventListener.
type subscription struct {
	id SubscriptionID
	fn Listener
}

// Bus is the engine's identifier generator and lifecycle event dispatcher. The zero
// value is not usable; construct with New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]subscription
	nextID    SubscriptionID
	logger    *zap.Logger
}

// New creates an event bus. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		listeners: make(map[string][]subscription),
		logger:    logger,
	}
}

// NewIdentifier returns a fresh RFC-4122 v4 identifier, used as both the dispatch id
// on every event and, by callers, as node/edge/connector traversal identifiers.
func (b *Bus) NewIdentifier() string {
	return uuid.New().String()
}

// AddEventListener registers fn to be invoked, in registration order, whenever name
// is dispatched. Returns a handle for RemoveEventListener.
func (b *Bus) AddEventListener(name string, fn Listener) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], subscription{id: id, fn: fn})
	return id
}

// RemoveEventListener unregisters the listener identified by id for the given event
// name. Removing an id that was never registered, or removing from an event name with
// no listeners, is a silent no-op.
func (b *Bus) RemoveEventListener(name string, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[name]
	for i, s := range subs {
		if s.id == id {
			b.listeners[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// DispatchEvent invokes every listener registered for name, synchronously, in
// registration order, passing a freshly minted dispatch id and the given payload.
// Listener panics are recovered and logged so one broken observer can't abort
// traversal — errors never abort traversal, an invariant extended here to the
// observation layer itself.
func (b *Bus) DispatchEvent(name string, payload Payload) string {
	id := b.NewIdentifier()
	b.mu.RLock()
	subs := b.listeners[name]
	ls := make([]Listener, len(subs))
	for i, s := range subs {
		ls[i] = s.fn
	}
	b.mu.RUnlock()

	for _, fn := range ls {
		b.invoke(fn, id, name, payload)
	}
	return id
}

func (b *Bus) invoke(fn Listener, id, name string, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("event", name),
				zap.Any("recovered", r))
		}
	}()
	fn(id, name, payload)
}

// ListenerCount reports how many listeners are registered for name, for tests and
// diagnostics.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}
