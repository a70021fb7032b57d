package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kaptinlin/jsonschema"
)

// Validator checks JSON documents against one compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

func Compile(schemaJSON []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

func (validator *Validator) ValidateJSON(data []byte) error {
	result := validator.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

// ValidateValue marshals value to JSON and validates the encoded form, so the
// check sees exactly what would be written to disk.
func (validator *Validator) ValidateValue(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return validator.ValidateJSON(data)
}

func (validator *Validator) ValidateJSONFile(jsonPath string) error {
	// #nosec G304 -- document path is explicit local input.
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	return validator.ValidateJSON(data)
}
