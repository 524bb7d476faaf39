package loader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaValidator validates fetched artifacts against a compiled JSON Schema
// before they enter a Loader's cache.
type JSONSchemaValidator struct {
	schema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles schemaDoc (a JSON Schema document) and returns a
// validator for use with Loader.
func NewJSONSchemaValidator(schemaID string, schemaDoc []byte) (*JSONSchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	var doc interface{}
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema document: %w", err)
	}
	if err := compiler.AddResource(schemaID, bytes.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %q: %w", schemaID, err)
	}
	return &JSONSchemaValidator{schema: schema}, nil
}

// Validate checks data against the compiled schema.
func (v *JSONSchemaValidator) Validate(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("artifact is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
