package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artifactSchema = `{
	"$id": "https://fluxgraph.local/schemas/artifact.json",
	"type": "object",
	"required": ["id", "name"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string"}
	}
}`

func TestJSONSchemaValidator_AcceptsMatchingDocument(t *testing.T) {
	v, err := NewJSONSchemaValidator("https://fluxgraph.local/schemas/artifact.json", []byte(artifactSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`{"id":"n1","name":"first"}`))
	assert.NoError(t, err)
}

func TestJSONSchemaValidator_RejectsMissingRequiredField(t *testing.T) {
	v, err := NewJSONSchemaValidator("https://fluxgraph.local/schemas/artifact.json", []byte(artifactSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`{"id":"n1"}`))
	assert.Error(t, err)
}

func TestJSONSchemaValidator_RejectsMalformedJSON(t *testing.T) {
	v, err := NewJSONSchemaValidator("https://fluxgraph.local/schemas/artifact.json", []byte(artifactSchema))
	require.NoError(t, err)

	err = v.Validate([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewJSONSchemaValidator_InvalidSchemaDocumentErrors(t *testing.T) {
	_, err := NewJSONSchemaValidator("https://fluxgraph.local/schemas/broken.json", []byte(`not json`))
	assert.Error(t, err)
}

func TestLoader_SchemaValidationFailureSurfacesAndSkipsCache(t *testing.T) {
	v, err := NewJSONSchemaValidator("https://fluxgraph.local/schemas/artifact.json", []byte(artifactSchema))
	require.NoError(t, err)

	fetcher := &fakeFetcher{data: map[string][]byte{
		"artifacts/vectors/bad.0": []byte(`{"id":"n1"}`),
	}}
	l := New[artifact](nil, fetcher, v, nil, nil)

	_, err = l.Load(context.Background(), "artifacts/vectors/bad.0")
	assert.Error(t, err)
}
