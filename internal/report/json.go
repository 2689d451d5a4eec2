package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/runtrack/internal/verify"
)

func WriteJSON(path string, r verify.Report) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
