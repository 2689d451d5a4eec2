// Package schemas embeds the JSON schemas for run directory files.
package schemas

import "embed"

//go:embed v1/*.json
var FS embed.FS

const (
	RunV1       = "v1/run.schema.json"
	ArtifactsV1 = "v1/artifacts.schema.json"
)
