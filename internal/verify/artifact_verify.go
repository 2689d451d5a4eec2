package verify

import (
	"fmt"
	"path/filepath"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// VerifyArtifacts re-digests every stored artifact file and the manifest
// digest over the entries.
func VerifyArtifacts(runDir string, records []types.ArtifactRecord) error {
	for _, rec := range records {
		m := rec.Manifest
		entries := append([]types.ArtifactEntry(nil), m.Entries...)
		if got := hash.DigestEntries(entries); got != m.Digest {
			return fmt.Errorf("manifest digest mismatch for %s", m.Name)
		}
		base := filepath.Join(runDir, filepath.FromSlash(rec.LocalPath))
		for _, e := range m.Entries {
			path := filepath.Join(base, filepath.FromSlash(e.Path))
			if !hash.FileExists(path) {
				return fmt.Errorf("artifact file missing: %s/%s", m.Name, e.Path)
			}
			digest, size, err := hash.DigestFile(path)
			if err != nil {
				return fmt.Errorf("cannot digest %s/%s: %w", m.Name, e.Path, err)
			}
			if digest != e.Digest || size != e.SizeBytes {
				return fmt.Errorf("artifact digest mismatch for %s/%s", m.Name, e.Path)
			}
		}
	}
	return nil
}
