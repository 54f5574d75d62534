// Package jsonschema generates LLM-consumable JSON Schemas from Go struct
// types and validates arbitrary data against a generated schema.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// Generate reflects T into a JSON Schema shaped as
// {type:"object", properties, required?, additionalProperties?} — the
// shape requires for tool definitions and the submit_result
// structured-output tool.
func Generate[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	schemaMap, err := toMap(schema)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: failed to convert schema to map: %w", err)
	}

	if schemaMap["type"] != "object" {
		return schemaMap, nil
	}

	result := map[string]any{
		"type":       "object",
		"properties": schemaMap["properties"],
	}
	if required := schemaMap["required"]; required != nil {
		result["required"] = required
	}
	if addProps, ok := schemaMap["additionalProperties"]; ok {
		result["additionalProperties"] = addProps
	}
	return result, nil
}

var compiledCache sync.Map

// Validate checks data against schema (as produced by Generate), returning
// a descriptive error naming the first violation. schema is marshaled and
// compiled once per distinct schema and cached by its JSON encoding.
func Validate(schema map[string]any, data map[string]any) error {
	compiled, err := compile(schema)
	if err != nil {
		return fmt.Errorf("jsonschema: invalid schema: %w", err)
	}

	// santhosh-tekuri/jsonschema validates decoded JSON values (map[string]any
	// with float64 numbers), not Go input types directly, so it is marshaled
	// and re-decoded rather than passed through as-is.
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("jsonschema: failed to encode data: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("jsonschema: failed to decode data: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("jsonschema: validation failed: %w", err)
	}
	return nil
}

func compile(schema map[string]any) (*validator.Schema, error) {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(encoded)

	if cached, ok := compiledCache.Load(key); ok {
		return cached.(*validator.Schema), nil
	}

	compiled, err := validator.CompileString("submit_result.schema.json", key)
	if err != nil {
		return nil, err
	}
	compiledCache.Store(key, compiled)
	return compiled, nil
}

func toMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
