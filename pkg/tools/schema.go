package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// SchemaOf derives a JSON schema map from a typed payload struct. Native
// tools declare their parameters as a struct with jsonschema tags instead
// of hand-writing schema maps.
func SchemaOf(payload any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schema := reflector.Reflect(payload)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}

	// Providers expect a bare object schema
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeArguments decodes a validated argument map into a typed payload.
// Unknown fields pass through silently; type mismatches are weakly coerced
// where safe.
func DecodeArguments(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build argument decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

// requiredFields extracts the required property names from a JSON schema.
func requiredFields(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	raw, ok := schema["required"]
	if !ok {
		return nil
	}

	switch list := raw.(type) {
	case []string:
		return list
	case []any:
		fields := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	default:
		return nil
	}
}

// validateRequired reports the required fields missing from args.
func validateRequired(schema map[string]any, args map[string]any) []string {
	var missing []string
	for _, field := range requiredFields(schema) {
		if _, present := args[field]; !present {
			missing = append(missing, field)
		}
	}
	return missing
}
