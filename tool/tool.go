// Package tool defines the function definitions a caller exposes to a
// model. Definitions are declarative: this client ships them over the
// wire, it never executes them.
package tool

import (
	"github.com/invopop/jsonschema"

	"github.com/patchbay-ai/patchbay/pkg/jsonx"
)

// Definition describes one callable function: its name, a description
// the model uses to decide when to call it, and a JSON schema for its
// arguments.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	_ struct{} // require keyed literals
}

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
}

// New builds a definition whose parameter schema is reflected from the
// struct type T. Field names and json tags become parameter names.
func New[T any](name, description string) Definition {
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	return Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}
}

// SchemaMap returns the parameter schema as a dynamic JSON object, the
// shape provider request bodies embed directly. A definition without a
// schema yields a permissive empty object schema.
func (d Definition) SchemaMap() (map[string]any, error) {
	if d.Parameters == nil {
		return map[string]any{"type": "object"}, nil
	}
	return jsonx.ToDynamicJSON(d.Parameters)
}
