package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/pkg/schema"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
	"github.com/ogulcanaydogan/runtrack/schemas"
)

// VerifyRunSchema validates run.json as a generic document so unknown or
// mistyped fields are reported rather than dropped by decoding.
func VerifyRunSchema(schemaDir, runDir string) error {
	var doc map[string]any
	if err := readDoc(filepath.Join(runDir, tracking.RunFile), &doc); err != nil {
		return err
	}
	errs, err := schema.ValidateIn(schemaDir, schemas.RunV1, doc)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("run record schema invalid: %v", errs)
	}
	return nil
}

// VerifyArtifactsSchema validates artifacts.json, if present, and returns the
// decoded records.
func VerifyArtifactsSchema(schemaDir, runDir string) ([]types.ArtifactRecord, error) {
	path := filepath.Join(runDir, tracking.ArtifactsFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var doc []any
	if err := readDoc(path, &doc); err != nil {
		return nil, err
	}
	errs, err := schema.ValidateIn(schemaDir, schemas.ArtifactsV1, doc)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("artifacts schema invalid: %v", errs)
	}
	return tracking.ReadArtifacts(runDir)
}

func readDoc(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
