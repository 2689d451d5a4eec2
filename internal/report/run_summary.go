package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

// BuildRunSummary renders one run directory: record fields, config, final
// metric values and logged artifacts.
func BuildRunSummary(runDir string) (string, error) {
	rec, err := tracking.ReadRunRecord(runDir)
	if err != nil {
		return "", err
	}
	var cfg map[string]any
	if err := tracking.LoadYAML(filepath.Join(runDir, tracking.ConfigFile), &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	artifacts, err := tracking.ReadArtifacts(runDir)
	if err != nil {
		return "", err
	}
	rows, err := tracking.ReadHistory(runDir)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Run %s\n\n", rec.RunID))
	b.WriteString(fmt.Sprintf("- Project: `%s`\n", rec.Project))
	if rec.Name != "" {
		b.WriteString(fmt.Sprintf("- Name: `%s`\n", rec.Name))
	}
	b.WriteString(fmt.Sprintf("- State: **%s**\n", rec.State))
	b.WriteString(fmt.Sprintf("- Mode: `%s`\n", rec.Mode))
	b.WriteString(fmt.Sprintf("- Started: `%s`\n", rec.StartedAt))
	if rec.FinishedAt != "" {
		b.WriteString(fmt.Sprintf("- Finished: `%s` (%.1fs)\n", rec.FinishedAt, rec.RuntimeSecs))
	}
	if rec.ConfigDigest != "" {
		b.WriteString(fmt.Sprintf("- Config Digest: `%s`\n", hash.Short(rec.ConfigDigest, 12)))
	}
	if rec.Job != nil {
		b.WriteString(fmt.Sprintf("- Job: `%s` from image `%s`\n", rec.Job.Artifact, rec.Job.Image))
	}
	b.WriteString(fmt.Sprintf("- History Rows: `%d`\n", len(rows)))

	if len(cfg) > 0 {
		b.WriteString("\n## Config\n\n")
		b.WriteString("| Key | Value |\n")
		b.WriteString("|---|---|\n")
		for _, k := range sortedKeys(cfg) {
			b.WriteString(fmt.Sprintf("| %s | %s |\n", k, escapeCell(fmt.Sprint(cfg[k]))))
		}
	}

	if len(rec.Summary) > 0 {
		b.WriteString("\n## Summary\n\n")
		b.WriteString("| Metric | Last Value |\n")
		b.WriteString("|---|---|\n")
		for _, k := range sortedKeys(rec.Summary) {
			b.WriteString(fmt.Sprintf("| %s | %s |\n", k, escapeCell(summaryValue(rec.Summary[k]))))
		}
	}

	if len(artifacts) > 0 {
		b.WriteString("\n## Artifacts\n\n")
		b.WriteString("| Name | Type | Files | Digest | Remote |\n")
		b.WriteString("|---|---|---:|---|---|\n")
		for _, a := range artifacts {
			m := a.Manifest
			b.WriteString(fmt.Sprintf("| %s | %s | %d | `%s` | %s |\n",
				m.Name, m.Type, len(m.Entries), hash.Short(m.Digest, 12), dash(a.RemoteRef)))
		}
	}
	return b.String(), nil
}

func WriteRunSummary(path, runDir string) error {
	md, err := BuildRunSummary(runDir)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(md), 0o644)
}

// summaryValue shows image entries by their media path.
func summaryValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		if p, ok := m["path"].(string); ok {
			return p
		}
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
