package project

import (
	_ "embed"
	"sync"

	"github.com/davidahmann/sift/core/schema/validate"
)

//go:embed project.schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*validate.Validator, error) {
	return validate.Compile(schemaJSON)
})

// SchemaJSON returns the raw control document schema.
func SchemaJSON() []byte {
	return append([]byte{}, schemaJSON...)
}

// Validator returns the compiled control document schema.
func Validator() (*validate.Validator, error) {
	return compiledSchema()
}
