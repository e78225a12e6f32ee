// Package tools defines tool contracts, the registry the orchestrator
// dispatches through, and the built-in tool implementations.
//
// Includes:
//   - ToolDefinition: name, description, JSON input schema, handler.
//   - GenerateSchema[T](): derive JSON Schema from Go structs.
//   - Registry: name lookup plus argument validation before a handler runs.
//   - get_weather: reference handler with a fixed city table.
package tools
