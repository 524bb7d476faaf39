package handler

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorKind categorizes a handler failure so pkg/graphexec can surface a stable,
// matchable message on the "error" event regardless of exactly what the handler's
// host language runtime calls the underlying exception type.
type ErrorKind string

const (
	KindSyntaxError    ErrorKind = "syntax_error"
	KindReferenceError ErrorKind = "reference_error"
	KindTypeError      ErrorKind = "type_error"
	KindRangeError     ErrorKind = "range_error"
	KindTimeoutError   ErrorKind = "timeout_error"
	KindRuntimeError   ErrorKind = "runtime_error"
)

// HandlerError wraps a failure raised while compiling or executing a node's set
// handler, with the original message preserved verbatim so callers can still
// substring-match on it, e.g. to recognize a reference-error-kind message for an
// undeclared identifier.
type HandlerError struct {
	Kind    ErrorKind
	Message string
	Stack   string
}

func (e *HandlerError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Kind, e.Message, e.Stack)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ParseGojaException classifies a goja.Exception into a HandlerError by substring
// heuristics: goja's own exception values carry a "name" matching the ECMAScript
// error constructor used (ReferenceError, TypeError, SyntaxError, RangeError) when
// the throw originated from an actual Error object, which is the common case for
// undeclared-identifier access and the like.
func ParseGojaException(exc *goja.Exception) *HandlerError {
	val := exc.Value()
	msg := val.String()
	kind := classify(msg)

	var stack string
	if obj, ok := val.(*goja.Object); ok {
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
	}

	return &HandlerError{Kind: kind, Message: msg, Stack: stack}
}

func classify(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.HasPrefix(msg, "ReferenceError") || strings.Contains(lower, "is not defined"):
		return KindReferenceError
	case strings.HasPrefix(msg, "TypeError"):
		return KindTypeError
	case strings.HasPrefix(msg, "SyntaxError") || strings.Contains(lower, "unexpected token"):
		return KindSyntaxError
	case strings.HasPrefix(msg, "RangeError"):
		return KindRangeError
	case strings.Contains(lower, "interrupted") || strings.Contains(lower, "timeout"):
		return KindTimeoutError
	default:
		return KindRuntimeError
	}
}

// NewTimeoutError builds a HandlerError for a handler that was interrupted by its
// deadline.
func NewTimeoutError(source string) *HandlerError {
	return &HandlerError{Kind: KindTimeoutError, Message: fmt.Sprintf("handler execution for %q exceeded its deadline", source)}
}

// NewCompileError wraps a goja compile-time failure, which goja surfaces as a plain
// error rather than a goja.Exception.
func NewCompileError(err error) *HandlerError {
	return &HandlerError{Kind: KindSyntaxError, Message: err.Error()}
}
