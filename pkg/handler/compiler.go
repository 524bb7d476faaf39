package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// paramNames is the fixed parameter order every compiled handler is wrapped in.
var paramNames = []string{
	"scheduler", "graph", "cache", "vector", "field",
	"state", "value", "edges", "data", "properties", "require",
}

// Compiled wraps a node's set-handler source, parsed to a goja program exactly once.
// Re-running the same Compiled against different pooled runtimes avoids re-parsing
// the source on every invocation.
type Compiled struct {
	source  string
	program *goja.Program
}

// Compile parses source (the raw `template.set` text) into a callable wrapped in the
// fixed parameter list. A parse failure is reported as a HandlerError of kind
// syntax_error rather than a bare Go error, so callers can route it the same way as
// a runtime throw.
func Compile(source string) (*Compiled, error) {
	wrapped := fmt.Sprintf("(function(%s) {\n%s\n})", joinParams(), source)
	prog, err := goja.Compile("handler.js", wrapped, false)
	if err != nil {
		return nil, NewCompileError(err)
	}
	return &Compiled{source: source, program: prog}, nil
}

func joinParams() string {
	out := ""
	for i, p := range paramNames {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// Result is the outcome of a handler invocation.
type Result struct {
	Return interface{}
	Err    *HandlerError
}

// Compiler runs Compiled handlers against pooled, unsandboxed goja runtimes.
type Compiler struct {
	pool   *Pool
	cfg    Config
	logger *zap.Logger
}

// NewCompiler constructs a Compiler. A nil logger is replaced with a no-op logger.
func NewCompiler(cfg Config, logger *zap.Logger) (*Compiler, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compiler{cfg: cfg, logger: logger}

	pool, err := NewPool(cfg.Pool, c.installUtilities)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// installUtilities runs once per freshly created runtime: it has no access to a
// per-invocation Environment, so it only installs process-wide natives (console).
// The require() shim is bound per call in Execute.
func (c *Compiler) installUtilities(vm *goja.Runtime) {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		lvl := level
		_ = console.Set(lvl, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			c.logger.Debug("handler console output", zap.String("level", lvl), zap.Any("args", args))
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)
}

// Execute runs compiled against a pooled runtime with env bound in, returning the
// handler's return value or a categorized HandlerError. It never returns a bare Go
// error for a handler-side failure — a handler throw is always surfaced through
// Result.Err so graphexec can emit it as an `error` event without further
// translation.
func (c *Compiler) Execute(ctx context.Context, compiled *Compiled, env Environment) (res Result) {
	pv, err := c.pool.Acquire(ctx)
	if err != nil {
		res.Err = &HandlerError{Kind: KindRuntimeError, Message: err.Error()}
		return res
	}
	defer c.pool.Release(pv)

	vm := pv.vm

	defer func() {
		if r := recover(); r != nil {
			sentry.CaptureException(fmt.Errorf("handler panic: %v", r))
			res.Err = &HandlerError{Kind: KindRuntimeError, Message: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()

	if err := c.bind(vm, env); err != nil {
		res.Err = &HandlerError{Kind: KindRuntimeError, Message: err.Error()}
		return res
	}

	if !env.Deadline.IsZero() {
		d := time.Until(env.Deadline)
		if d <= 0 {
			res.Err = NewTimeoutError(compiled.source)
			return res
		}
		timer := time.AfterFunc(d+DefaultDeadlineMargin, func() {
			vm.Interrupt("handler deadline exceeded")
		})
		defer timer.Stop()
	}

	fnVal, err := vm.RunProgram(compiled.program)
	if err != nil {
		res.Err = classifyRunError(err)
		return res
	}

	callable, ok := goja.AssertFunction(fnVal)
	if !ok {
		res.Err = &HandlerError{Kind: KindRuntimeError, Message: "compiled handler did not evaluate to a function"}
		return res
	}

	args := c.args(vm, env)
	thisVal := vm.ToValue(env.This)

	ret, err := callable(thisVal, args...)
	if err != nil {
		res.Err = classifyRunError(err)
		return res
	}

	res.Return = ret.Export()
	return res
}

func classifyRunError(err error) *HandlerError {
	if exc, ok := err.(*goja.Exception); ok {
		return ParseGojaException(exc)
	}
	if _, ok := err.(*goja.InterruptedError); ok {
		return &HandlerError{Kind: KindTimeoutError, Message: err.Error()}
	}
	return &HandlerError{Kind: KindRuntimeError, Message: err.Error()}
}

func (c *Compiler) bind(vm *goja.Runtime, env Environment) error {
	requireFn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("require: module name required"))
		}
		name := call.Arguments[0].String()
		if env.Require != nil {
			if v, err := env.Require(name); err == nil {
				return vm.ToValue(v)
			}
		}
		if factory, ok := c.cfg.Modules[name]; ok {
			return vm.ToValue(factory(vm))
		}
		panic(vm.NewGoError(fmt.Errorf("module not found: %s", name)))
	}
	return vm.GlobalObject().Set("__fluxgraph_require", requireFn)
}

func (c *Compiler) args(vm *goja.Runtime, env Environment) []goja.Value {
	edges := newEdgesObject(vm, env.EdgeFields, env.OnEdgeWrite)
	require := vm.Get("__fluxgraph_require")

	values := map[string]interface{}{
		"scheduler":  env.Scheduler,
		"graph":      env.Graph,
		"cache":      env.Cache,
		"vector":     env.Vector,
		"field":      env.Field,
		"state":      env.State,
		"value":      env.Value,
		"data":       env.Data,
		"properties": env.Properties,
	}

	out := make([]goja.Value, len(paramNames))
	for i, name := range paramNames {
		switch name {
		case "edges":
			out[i] = edges
		case "require":
			out[i] = require
		default:
			out[i] = vm.ToValue(values[name])
		}
	}
	return out
}

// Close is called at Scheduler teardown. It does nothing: pooled runtimes are not
// released or drained.
func (c *Compiler) Close() {}

// PoolStats exposes the underlying pool's counters for diagnostics.
func (c *Compiler) PoolStats() Stats { return c.pool.Stats() }
