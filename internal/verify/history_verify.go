package verify

import (
	"fmt"
	"path/filepath"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// VerifyHistory checks that history rows decode, that steps increase by one
// from zero, and that every referenced image file is intact. It returns the
// number of rows.
func VerifyHistory(runDir string) (int, error) {
	rows, err := tracking.ReadHistory(runDir)
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		step, ok := row[types.HistoryStepKey].(float64)
		if !ok || step != float64(i) {
			return 0, fmt.Errorf("history row %d has step %v, want %d", i, row[types.HistoryStepKey], i)
		}
		for key, v := range row {
			m, ok := v.(map[string]any)
			if !ok || m["_type"] != types.ImageFileType {
				continue
			}
			path, _ := m["path"].(string)
			want, _ := m["digest"].(string)
			got, _, err := hash.DigestFile(filepath.Join(runDir, filepath.FromSlash(path)))
			if err != nil {
				return 0, fmt.Errorf("history row %d image %s: %w", i, key, err)
			}
			if got != want {
				return 0, fmt.Errorf("history row %d image %s digest mismatch", i, key)
			}
		}
	}
	return len(rows), nil
}
