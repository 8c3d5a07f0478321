package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompiledSchema is a JSON schema compiled once and reused across calls.
type CompiledSchema struct {
	raw    map[string]any
	schema *jsonschema.Schema
}

// CompileSchema compiles schemaMap under the given resource name.
func CompileSchema(name string, schemaMap map[string]any) (*CompiledSchema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &CompiledSchema{raw: schemaMap, schema: schema}, nil
}

// Map returns the schema as sent to the model.
func (c *CompiledSchema) Map() map[string]any { return c.raw }

// Validate checks data strictly against the schema.
func (c *CompiledSchema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := c.schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schemas    map[Mode]*CompiledSchema
	schemaErr  error
)

// SchemaForMode returns the compiled output schema for mode.
func SchemaForMode(mode Mode) (*CompiledSchema, error) {
	schemaOnce.Do(func() {
		schemas = map[Mode]*CompiledSchema{}
		for _, m := range []Mode{ModeSummary, ModeAnalysis} {
			cs, err := CompileSchema(string(m)+".schema.json", SchemaFor(m))
			if err != nil {
				schemaErr = fmt.Errorf("%s schema: %w", m, err)
				return
			}
			schemas[m] = cs
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	cs, ok := schemas[mode]
	if !ok {
		return nil, fmt.Errorf("unknown extraction mode %q", mode)
	}
	return cs, nil
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	cs, err := CompileSchema("schema.json", schemaMap)
	if err != nil {
		return err
	}
	return cs.Validate(data)
}
