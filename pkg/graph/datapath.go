package graph

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetPath reads a dotted/indexed JSON path out of a data or properties payload,
// returning gjson's zero Result (Exists() == false) if the path is absent or raw is
// empty.
func GetPath(raw json.RawMessage, path string) gjson.Result {
	if len(raw) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(raw, path)
}

// SetPath writes value at path inside raw, returning the updated payload. An empty
// or nil raw is treated as an empty object, matching FieldMapper's destJSON
// fallback.
func SetPath(raw json.RawMessage, path string, value interface{}) (json.RawMessage, error) {
	base := raw
	if len(base) == 0 || !json.Valid(base) {
		base = json.RawMessage("{}")
	}
	out, err := sjson.SetBytes(base, path, value)
	if err != nil {
		return nil, fmt.Errorf("graph: setting path %q: %w", path, err)
	}
	return out, nil
}

// MergePayload overlays every top-level key of overlay onto base, overlay winning on
// conflicts. A nil/empty overlay returns base unchanged; a nil/empty base is treated
// as an empty object. Used to apply a LinkedGraph's per-node data/properties
// overrides without discarding fields the inner node's own artifact already set,
// the way FieldMapper.MergeInputs folds one input over another.
func MergePayload(base, overlay json.RawMessage) (json.RawMessage, error) {
	if len(overlay) == 0 {
		return base, nil
	}
	if !json.Valid(overlay) {
		return nil, fmt.Errorf("graph: overlay payload is not valid JSON")
	}

	result := base
	if len(result) == 0 || !json.Valid(result) {
		result = json.RawMessage("{}")
	}

	var overlayMap map[string]json.RawMessage
	if err := json.Unmarshal(overlay, &overlayMap); err != nil {
		return nil, fmt.Errorf("graph: overlay payload is not a JSON object: %w", err)
	}

	merged := string(result)
	for key, val := range overlayMap {
		var decoded interface{}
		if err := json.Unmarshal(val, &decoded); err != nil {
			return nil, fmt.Errorf("graph: decoding overlay key %q: %w", key, err)
		}
		var err error
		merged, err = sjson.Set(merged, key, decoded)
		if err != nil {
			return nil, fmt.Errorf("graph: merging overlay key %q: %w", key, err)
		}
	}
	return json.RawMessage(merged), nil
}
