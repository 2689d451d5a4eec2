// Package report renders verification reports and run summaries.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/ogulcanaydogan/runtrack/internal/verify"
)

func BuildMarkdown(r verify.Report) string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	var b strings.Builder
	b.WriteString("# Run Verification Report\n\n")
	b.WriteString(fmt.Sprintf("- Status: **%s**\n", status))
	b.WriteString(fmt.Sprintf("- Exit Code: `%d`\n", r.ExitCode))
	b.WriteString(fmt.Sprintf("- Runs Checked: `%d`\n\n", r.RunCount))

	b.WriteString("## Checks\n\n")
	b.WriteString("| Run | Check | Passed | Message |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, c := range r.Checks {
		b.WriteString(fmt.Sprintf("| %s | %s | %t | %s |\n", c.Run, c.Check, c.Passed, escapeCell(c.Message)))
	}

	if len(r.Violations) > 0 {
		b.WriteString("\n## Violations\n\n")
		for _, v := range r.Violations {
			b.WriteString("- " + v + "\n")
		}
	}

	if len(r.Runs) > 0 {
		b.WriteString("\n## Runs\n\n")
		b.WriteString("| Run | Project | State | Artifacts | History Rows | Job Image |\n")
		b.WriteString("|---|---|---|---:|---:|---|\n")
		for _, s := range r.Runs {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %s |\n",
				s.RunID, s.Project, s.State, s.Artifacts, s.HistoryRows, dash(s.JobImage)))
		}
	}

	return b.String()
}

func WriteMarkdown(path string, r verify.Report) error {
	return os.WriteFile(path, []byte(BuildMarkdown(r)), 0o644)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
