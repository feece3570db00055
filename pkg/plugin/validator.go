package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// compiledSchema compiles ManifestSchema on first use.
func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(ManifestSchema))
	})
	return schema, schemaErr
}

// Validate checks raw manifest JSON against the schema and returns the
// decoded manifest. Violations are reported as a *ValidationError.
func Validate(data []byte) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Errors: []string{"/: invalid JSON: " + err.Error()}}
	}
	return validate(gojsonschema.NewBytesLoader(data), data)
}

// ValidateDocument validates an already-decoded document, such as a map
// built in code.
func ValidateDocument(doc any) (*Manifest, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, &ValidationError{Errors: []string{"/: " + err.Error()}}
	}
	return validate(gojsonschema.NewBytesLoader(data), data)
}

func validate(document gojsonschema.JSONLoader, data []byte) (*Manifest, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	result, err := s.Validate(document)
	if err != nil {
		return nil, &ValidationError{Errors: []string{"/: " + err.Error()}}
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			errs = append(errs, pointer(re)+": "+re.Description())
		}
		return nil, &ValidationError{Errors: errs}
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, &ValidationError{Errors: []string{"/: " + err.Error()}}
	}
	return &manifest, nil
}

// pointer renders the location of a schema violation as a JSON pointer.
func pointer(re gojsonschema.ResultError) string {
	path := strings.TrimPrefix(re.Context().String("/"), gojsonschema.STRING_CONTEXT_ROOT)
	if path == "" {
		return "/"
	}
	return path
}
