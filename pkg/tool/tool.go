// Package tool defines the shared vocabulary of the tool system: schemas,
// definitions, invocation requests and results. Every other package
// (store, security, registry, engine) speaks in these types.
package tool

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Kind distinguishes host-native tools from model-authored ones.
type Kind string

const (
	// KindBuiltin is a fixed host capability, registered at process start.
	KindBuiltin Kind = "builtin"
	// KindDynamic is a runtime-created tool backed by a stored code payload.
	KindDynamic Kind = "dynamic"
)

// namePattern restricts tool names to identifier-safe characters.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateName checks that a tool name matches the restricted identifier
// pattern (alphanumeric plus underscore, non-empty).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("tool name %q must contain only letters, digits and underscores", name)
	}
	return nil
}

// Parameter describes a single argument a tool accepts.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// Schema is the public description of a tool: its unique name, a
// human-readable description, and the shape of its arguments.
type Schema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Validate checks structural validity: name pattern, known parameter type
// tags, and no duplicate field names.
func (s Schema) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	seen := map[string]bool{}
	for _, p := range s.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
		if !validParamTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
	}
	return nil
}

// JSONSchema renders the parameter list as a JSON Schema object, the form
// providers expect for tool declarations.
func (s Schema) JSONSchema() map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}

	for _, p := range s.Parameters {
		prop := map[string]interface{}{
			"type": p.Type,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Compile builds a validator for the parameter schema. The result is safe
// for concurrent use and should be cached by the caller.
func (s Schema) Compile() (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewGoLoader(s.JSONSchema())
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", s.Name, err)
	}
	return compiled, nil
}

// ParametersFromJSONSchema converts a JSON-Schema-shaped object (the form
// the model supplies in create_tool) into a Parameter list. Unknown type
// tags and non-object shapes are rejected.
func ParametersFromJSONSchema(raw map[string]interface{}) ([]Parameter, error) {
	if raw == nil {
		return nil, nil
	}
	if t, ok := raw["type"].(string); ok && t != "object" {
		return nil, fmt.Errorf("parameters schema must have type \"object\", got %q", t)
	}

	properties, _ := raw["properties"].(map[string]interface{})
	requiredSet := map[string]bool{}
	if reqList, ok := raw["required"].([]interface{}); ok {
		for _, r := range reqList {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("required entries must be strings")
			}
			requiredSet[name] = true
		}
	}

	params := make([]Parameter, 0, len(properties))
	for name, rawProp := range properties {
		prop, ok := rawProp.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("property %q must be an object", name)
		}
		paramType, _ := prop["type"].(string)
		if !validParamTypes[paramType] {
			return nil, fmt.Errorf("invalid parameter type %q for %s", paramType, name)
		}
		desc, _ := prop["description"].(string)
		params = append(params, Parameter{
			Name:        name,
			Type:        paramType,
			Description: desc,
			Required:    requiredSet[name],
			Default:     prop["default"],
		})
	}
	return params, nil
}

// Handler is the native execution function of a builtin tool.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Definition is the registry's view of a tool: the public schema plus the
// variant-specific payload. Builtin definitions carry a native handler and
// are immutable after process start; dynamic definitions carry a stored
// code payload and a creation timestamp.
type Definition struct {
	Schema    Schema    `json:"schema"`
	Kind      Kind      `json:"kind"`
	Handler   Handler   `json:"-"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Compiled is the cached argument validator for this definition.
	Compiled *gojsonschema.Schema `json:"-"`
}
