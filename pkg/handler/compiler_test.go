package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler(Config{}, nil)
	require.NoError(t, err)
	return c
}

func TestExecute_MathScenario(t *testing.T) {
	c := newTestCompiler(t)
	compiled, err := Compile(`edges.out = Math.cos(value); return edges.out = Math.cos(value);`)
	require.NoError(t, err)

	var written interface{}
	env := Environment{
		Value:      10,
		EdgeFields: []string{"out"},
		OnEdgeWrite: func(field string, value interface{}) {
			written = value
		},
		State: map[string]interface{}{},
		Cache: map[string]interface{}{},
	}

	res := c.Execute(context.Background(), compiled, env)
	require.Nil(t, res.Err)
	assert.InDelta(t, -0.8390715290764524, res.Return, 1e-12)
	assert.InDelta(t, -0.8390715290764524, written, 1e-12)
}

func TestExecute_ReferenceErrorScenario(t *testing.T) {
	c := newTestCompiler(t)
	compiled, err := Compile(`x;`)
	require.NoError(t, err)

	res := c.Execute(context.Background(), compiled, Environment{
		State: map[string]interface{}{},
		Cache: map[string]interface{}{},
	})

	require.NotNil(t, res.Err)
	assert.Equal(t, KindReferenceError, res.Err.Kind)
}

func TestExecute_ConsoleInfoCallSucceeds(t *testing.T) {
	c := newTestCompiler(t)
	compiled, err := Compile(`console.info(value);`)
	require.NoError(t, err)

	res := c.Execute(context.Background(), compiled, Environment{
		Value: "hello",
		State: map[string]interface{}{},
		Cache: map[string]interface{}{},
	})
	assert.Nil(t, res.Err)
}

func TestExecute_WriteToUndeclaredFieldIsForwarded(t *testing.T) {
	c := newTestCompiler(t)
	compiled, err := Compile(`edges.unwired = 1;`)
	require.NoError(t, err)

	called := false
	res := c.Execute(context.Background(), compiled, Environment{
		EdgeFields: nil,
		OnEdgeWrite: func(field string, value interface{}) {
			called = true
		},
		State: map[string]interface{}{},
		Cache: map[string]interface{}{},
	})
	assert.Nil(t, res.Err)
	assert.True(t, called, "write should still fan out even for a field not pre-declared, per EnsureEdge semantics")
}
