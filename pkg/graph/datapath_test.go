package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	raw := json.RawMessage(`{"user":{"email":"a@example.com"},"count":3}`)

	assert.Equal(t, "a@example.com", GetPath(raw, "user.email").String())
	assert.Equal(t, int64(3), GetPath(raw, "count").Int())
	assert.False(t, GetPath(raw, "missing").Exists())
	assert.False(t, GetPath(nil, "anything").Exists())
}

func TestSetPath(t *testing.T) {
	out, err := SetPath(nil, "name", "Ada")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "Ada", decoded["name"])

	out2, err := SetPath(out, "user.email", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", GetPath(out2, "user.email").String())
	assert.Equal(t, "Ada", GetPath(out2, "name").String())
}

func TestMergePayload(t *testing.T) {
	base := json.RawMessage(`{"a":1,"b":2}`)
	overlay := json.RawMessage(`{"b":5,"c":9}`)

	merged, err := MergePayload(base, overlay)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(merged, &decoded))
	assert.Equal(t, float64(1), decoded["a"])
	assert.Equal(t, float64(5), decoded["b"])
	assert.Equal(t, float64(9), decoded["c"])
}

func TestMergePayload_EmptyOverlayReturnsBaseUnchanged(t *testing.T) {
	base := json.RawMessage(`{"a":1}`)
	merged, err := MergePayload(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, merged)
}

func TestMergePayload_EmptyBaseTreatedAsEmptyObject(t *testing.T) {
	merged, err := MergePayload(nil, json.RawMessage(`{"x":true}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(merged, &decoded))
	assert.Equal(t, true, decoded["x"])
}

func TestMergePayload_InvalidOverlayErrors(t *testing.T) {
	_, err := MergePayload(json.RawMessage(`{}`), json.RawMessage(`not json`))
	assert.Error(t, err)
}
