package hash

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// DigestEntries sorts entries by path and digests the NUL separated manifest
// built from them. The result is independent of insertion order.
func DigestEntries(entries []types.ArtifactEntry) string {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s\x00%s\x00%d\n", e.Path, e.Digest, e.SizeBytes)
	}
	return DigestBytes([]byte(sb.String()))
}

// DigestTree walks root and returns one entry per regular file, keyed by the
// slash separated path relative to root.
func DigestTree(root string) (string, []types.ArtifactEntry, error) {
	entries := make([]types.ArtifactEntry, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		digest, size, err := DigestFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, types.ArtifactEntry{Path: filepath.ToSlash(rel), Digest: digest, SizeBytes: size})
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("walk tree %s: %w", root, err)
	}
	return DigestEntries(entries), entries, nil
}
