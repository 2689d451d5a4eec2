// Package store persists logged artifacts: always to the run directory, and
// in online mode additionally to a remote backend (OCI registry or S3).
package store

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// Upload is one artifact version ready to be stored.
type Upload struct {
	RunID    string
	Manifest types.ArtifactManifest
	// Sources maps manifest entry paths to the local files holding their bytes.
	Sources map[string]string
}

// Store writes an artifact version and returns where it ended up.
type Store interface {
	Put(ctx context.Context, u Upload) (string, error)
}

func (u Upload) validate() error {
	if u.Manifest.Name == "" {
		return fmt.Errorf("artifact name is required")
	}
	if u.Manifest.Digest == "" {
		return fmt.Errorf("artifact %s has no digest", u.Manifest.Name)
	}
	for _, e := range u.Manifest.Entries {
		if _, ok := u.Sources[e.Path]; !ok {
			return fmt.Errorf("artifact %s: no source for entry %s", u.Manifest.Name, e.Path)
		}
		if err := checkEntryPath(e.Path); err != nil {
			return fmt.Errorf("artifact %s: %w", u.Manifest.Name, err)
		}
	}
	return nil
}

func checkEntryPath(p string) error {
	clean := path.Clean(p)
	if p == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid entry path %q", p)
	}
	return nil
}

var unsafeTagChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// VersionTag is the tag or directory name used for one artifact version,
// e.g. "result_0-1a2b3c4d5e6f".
func VersionTag(name, digest string) string {
	safe := strings.Trim(unsafeTagChars.ReplaceAllString(name, "-"), "-.")
	if safe == "" {
		safe = "artifact"
	}
	if len(safe) > 100 {
		safe = safe[:100]
	}
	return safe + "-" + shortDigest(digest)
}

func shortDigest(digest string) string {
	hexPart := strings.TrimPrefix(digest, "sha256:")
	if len(hexPart) > 12 {
		return hexPart[:12]
	}
	return hexPart
}
