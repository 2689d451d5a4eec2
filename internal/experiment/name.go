package experiment

import (
	"path/filepath"
	"regexp"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// sanitizeName derives an artifact name from a file path.
func sanitizeName(filename string) string {
	name := unsafeNameChars.ReplaceAllString(filepath.Base(filename), "_")
	if name == "" || name == "." || name == ".." {
		return "artifact"
	}
	return name
}
