package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
)

var (
	// ErrUnhandledToolCall is returned by Invoke for a name with no handler.
	ErrUnhandledToolCall = errors.New("unhandled tool call")
	// ErrInvalidToolArguments is returned when arguments are not a JSON
	// object, lack a required field or carry a field of the wrong type.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
)

// Registry maps tool names to definitions. It is safe for concurrent use;
// Definitions preserves registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]ToolDefinition
	order []string
}

func New(defs ...ToolDefinition) *Registry {
	r := &Registry{defs: make(map[string]ToolDefinition, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Default returns a registry with every built-in tool.
func Default() *Registry {
	return New(WeatherDefinition)
}

// Register adds def, replacing any existing tool with the same name.
func (r *Registry) Register(def ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; !ok {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
}

func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Invoke validates args against the tool's required fields and runs its
// handler.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	def, ok := r.Lookup(name)
	if !ok || def.Function == nil {
		return "", fmt.Errorf("%w: %q", ErrUnhandledToolCall, name)
	}
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := validateArgs(args, def.InputSchema); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return def.Function(ctx, args)
}

// validateArgs checks that args is an object carrying every required field
// with a non-null value, and that each declared property present has the
// declared JSON type.
func validateArgs(args json.RawMessage, schema *jsonschema.Schema) error {
	if !gjson.ValidBytes(args) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidToolArguments)
	}
	doc := gjson.ParseBytes(args)
	if !doc.IsObject() {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidToolArguments)
	}
	if schema == nil {
		return nil
	}
	for _, field := range schema.Required {
		if v := doc.Get(gjsonEscape(field)); !v.Exists() || v.Type == gjson.Null {
			return fmt.Errorf("%w: missing required field %q", ErrInvalidToolArguments, field)
		}
	}
	if schema.Properties == nil {
		return nil
	}
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		v := doc.Get(gjsonEscape(pair.Key))
		if !v.Exists() || v.Type == gjson.Null || pair.Value == nil {
			continue
		}
		if !hasType(v, pair.Value.Type) {
			return fmt.Errorf("%w: field %q must be %s", ErrInvalidToolArguments, pair.Key, pair.Value.Type)
		}
	}
	return nil
}

// hasType reports whether v matches a JSON Schema primitive type. An empty
// or unknown type accepts anything.
func hasType(v gjson.Result, typ string) bool {
	switch typ {
	case "string":
		return v.Type == gjson.String
	case "number":
		return v.Type == gjson.Number
	case "integer":
		return v.Type == gjson.Number && v.Float() == float64(int64(v.Float()))
	case "boolean":
		return v.Type == gjson.True || v.Type == gjson.False
	case "object":
		return v.IsObject()
	case "array":
		return v.IsArray()
	}
	return true
}

// gjsonEscape quotes path metacharacters so field names match literally.
func gjsonEscape(field string) string {
	var b strings.Builder
	for _, c := range field {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
