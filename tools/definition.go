package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// HandlerFunc runs a tool with its raw JSON arguments and returns the text
// submitted back to the service.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (string, error)

type ToolDefinition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Function    HandlerFunc
}

// GenerateSchema reflects T into an inline object schema. Fields without
// omitempty are listed as required.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Parameters returns the input schema as a plain JSON object, without the
// $schema/$id keys that function-calling APIs do not accept.
func (d ToolDefinition) Parameters() map[string]any {
	if d.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(d.InputSchema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Required returns the required top-level field names of the input schema.
func (d ToolDefinition) Required() []string {
	if d.InputSchema == nil {
		return nil
	}
	return d.InputSchema.Required
}
