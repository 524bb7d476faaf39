package handler

import "github.com/dop251/goja"

// edgesObject backs the `edges` parameter: a write-only proxy where assigning to a
// known output field triggers fan-out. It implements goja.DynamicObject so property
// assignment from JS (`edges.out = v`) is intercepted natively rather than requiring
// an explicit `edges.write(field, v)` call — the idiomatic form for a host language
// that has property setters, which goja's target dialect does.
type edgesObject struct {
	fields  map[string]bool
	onWrite EdgeWriteFunc
}

func newEdgesObject(vm *goja.Runtime, fields []string, onWrite EdgeWriteFunc) goja.Value {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return vm.NewDynamicObject(&edgesObject{fields: set, onWrite: onWrite})
}

// Get always reports undefined: edges is write-only, a pure side-effect sink
// rather than a readable store.
func (e *edgesObject) Get(key string) goja.Value {
	return goja.Undefined()
}

// Set forwards every write to onWrite, including a write to a field with no declared
// output edge; such a write is accepted (returns true) rather than rejected, and the
// fan-out side finds no edge for it and does nothing — a handler writing an edge the
// author never wired up does not throw.
func (e *edgesObject) Set(key string, val goja.Value) bool {
	if e.onWrite != nil {
		e.onWrite(key, val.Export())
	}
	return true
}

// Has reports whether key was declared as an output field for this invocation.
func (e *edgesObject) Has(key string) bool {
	return e.fields[key]
}

// Delete is a no-op; output fields cannot be removed mid-invocation.
func (e *edgesObject) Delete(key string) bool {
	return false
}

// Keys lists the declared output fields.
func (e *edgesObject) Keys() []string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	return keys
}
