package handler

import "time"

// Config configures a Compiler: VM pool sizing and the module registry behind the
// require shim. There is deliberately no SecurityLevel here —
// handler code is never sandboxed, so every compiled handler runs with full
// authority over its runtime.
type Config struct {
	Pool PoolConfig

	// Modules backs the require(name) shim: require("json") resolves to
	// Modules["json"]. An unresolved name is a plain "module not found" error, not a
	// security denial.
	Modules map[string]ModuleFactory
}

// ModuleFactory builds the value returned by require(name) for one specific runtime,
// since goja values are not shareable across goja.Runtime instances.
type ModuleFactory func(vm interface{}) interface{}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	c.Pool.ApplyDefaults()
	if c.Modules == nil {
		c.Modules = make(map[string]ModuleFactory)
	}
}

// DefaultDeadlineMargin is added to an explicit handler Deadline before the
// interrupt fires, giving in-flight native calls (JSON marshal, etc.) a moment to
// unwind cleanly rather than being interrupted mid-instruction.
const DefaultDeadlineMargin = 5 * time.Millisecond
