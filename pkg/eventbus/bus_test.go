package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchEvent_InvokesListenersInOrder(t *testing.T) {
	b := New(nil)
	var order []string

	b.AddEventListener(EventBegin, func(id, name string, payload Payload) {
		order = append(order, "first")
	})
	b.AddEventListener(EventBegin, func(id, name string, payload Payload) {
		order = append(order, "second")
	})

	dispatchID := b.DispatchEvent(EventBegin, Payload{"vectorId": "n1"})

	require.NotEmpty(t, dispatchID)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatchEvent_EachDispatchGetsAFreshIdentifier(t *testing.T) {
	b := New(nil)
	id1 := b.DispatchEvent(EventBegin, nil)
	id2 := b.DispatchEvent(EventBegin, nil)
	assert.NotEqual(t, id1, id2)
}

func TestRemoveEventListener_StopsFutureDispatches(t *testing.T) {
	b := New(nil)
	calls := 0
	sub := b.AddEventListener(EventSet, func(id, name string, payload Payload) {
		calls++
	})

	b.DispatchEvent(EventSet, nil)
	assert.Equal(t, 1, calls)

	b.RemoveEventListener(EventSet, sub)
	b.DispatchEvent(EventSet, nil)
	assert.Equal(t, 1, calls, "listener should not be invoked after removal")
}

func TestRemoveEventListener_UnknownIDOrEventIsANoOp(t *testing.T) {
	b := New(nil)
	assert.NotPanics(t, func() {
		b.RemoveEventListener("never-registered", SubscriptionID(999))
	})
}

func TestDispatchEvent_ListenerPanicDoesNotAbortOtherListeners(t *testing.T) {
	b := New(nil)
	secondCalled := false

	b.AddEventListener(EventError, func(id, name string, payload Payload) {
		panic("boom")
	})
	b.AddEventListener(EventError, func(id, name string, payload Payload) {
		secondCalled = true
	})

	assert.NotPanics(t, func() {
		b.DispatchEvent(EventError, nil)
	})
	assert.True(t, secondCalled)
}

func TestNewIdentifier_ReturnsDistinctValues(t *testing.T) {
	b := New(nil)
	a := b.NewIdentifier()
	c := b.NewIdentifier()
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36) // canonical UUID string form
}
