// Package schema validates run directory documents against JSON schemas.
package schema

import (
	"fmt"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ogulcanaydogan/runtrack/schemas"
)

// Validate checks doc against the schema file at schemaPath and returns one
// message per violation.
func Validate(schemaPath string, doc any) ([]string, error) {
	abs, err := filepath.Abs(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", schemaPath, err)
	}
	return validate(gojsonschema.NewReferenceLoader("file://"+filepath.ToSlash(abs)), schemaPath, doc)
}

// ValidateEmbedded checks doc against one of the schemas compiled into the
// binary, e.g. schemas.RunV1.
func ValidateEmbedded(name string, doc any) ([]string, error) {
	raw, err := schemas.FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("load embedded schema %s: %w", name, err)
	}
	return validate(gojsonschema.NewBytesLoader(raw), name, doc)
}

// ValidateIn uses the schema name under dir, or the embedded copy when dir is
// empty.
func ValidateIn(dir, name string, doc any) ([]string, error) {
	if dir == "" {
		return ValidateEmbedded(name, doc)
	}
	return Validate(filepath.Join(dir, filepath.FromSlash(name)), doc)
}

func validate(schemaLoader gojsonschema.JSONLoader, name string, doc any) ([]string, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
