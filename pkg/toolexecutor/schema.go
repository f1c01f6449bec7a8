package toolexecutor

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
	"any": true,
}

// validateDescriptor validates a tool descriptor
func validateDescriptor(desc ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !toolNamePattern.MatchString(desc.Name) {
		return fmt.Errorf("invalid tool name %q", desc.Name)
	}
	if desc.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if desc.Timeout < 0 {
		return fmt.Errorf("tool timeout cannot be negative")
	}

	for _, param := range desc.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if isReservedParam(param.Name) {
			return fmt.Errorf("parameter name %s is reserved", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	for _, dep := range desc.Dependencies {
		if dep == desc.Name {
			return fmt.Errorf("%w: %s depends on itself", ErrCyclicDependency, desc.Name)
		}
	}

	return nil
}

func isReservedParam(name string) bool {
	return name == ParamDependencies || name == ParamPrevious || name == ParamChain
}

// generateJSONSchema generates a JSON Schema from tool parameters. Tools
// without declared parameters accept any object.
func generateJSONSchema(desc ToolDescriptor) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": len(desc.Parameters) == 0,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range desc.Parameters {
		paramSchema := map[string]interface{}{}
		if param.Type != "any" {
			paramSchema["type"] = param.Type
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema. Keys
// injected by the executor are not part of the tool's schema.
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	view := make(map[string]interface{}, len(params))
	for k, v := range params {
		if !isReservedParam(k) {
			view[k] = v
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(view))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%w: %v", ErrInvalidParameters, errs)
	}

	return nil
}
