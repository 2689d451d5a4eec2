// Package verify checks that recorded run directories are complete and
// untampered.
package verify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

type Options struct {
	// Source is a tracking directory (containing runs/) or a single run
	// directory.
	Source string
	// SchemaDir holds v1/*.schema.json. Empty uses the embedded schemas.
	SchemaDir string
}

func Run(opts Options) Report {
	report := Report{Passed: true, ExitCode: ExitPass, Checks: []CheckResult{}, Violations: []string{}, Runs: []RunSummary{}}
	dirs, err := runDirs(opts.Source)
	if err != nil {
		report.Passed = false
		report.ExitCode = ExitMissing
		report.Violations = append(report.Violations, err.Error())
		return report
	}
	if len(dirs) == 0 {
		report.Passed = false
		report.ExitCode = ExitMissing
		report.Violations = append(report.Violations, "no runs found")
		return report
	}
	report.RunCount = len(dirs)

	for _, dir := range dirs {
		name := filepath.Base(dir)
		rec, err := tracking.ReadRunRecord(dir)
		if err != nil {
			report.addFailure(name, "run_read", ExitMissing, err)
			continue
		}
		if err := VerifyRunSchema(opts.SchemaDir, dir); err != nil {
			report.addFailure(name, "schema", ExitSchemaFail, err)
			continue
		}
		report.pass(name, "schema")

		artifacts, err := VerifyArtifactsSchema(opts.SchemaDir, dir)
		if err != nil {
			report.addFailure(name, "artifacts_schema", ExitSchemaFail, err)
			continue
		}
		if err := VerifyArtifacts(dir, artifacts); err != nil {
			report.addFailure(name, "artifact_digest", ExitDigestMismatch, err)
			continue
		}
		report.pass(name, "artifact_digest")

		rows, err := VerifyHistory(dir)
		if err != nil {
			report.addFailure(name, "history", ExitSchemaFail, err)
			continue
		}
		report.pass(name, "history")

		if err := VerifyJob(rec, artifacts); err != nil {
			report.addFailure(name, "job", ExitSchemaFail, err)
			continue
		}
		report.pass(name, "job")

		summary := RunSummary{
			RunID:       rec.RunID,
			Project:     rec.Project,
			State:       rec.State,
			Artifacts:   len(artifacts),
			HistoryRows: rows,
		}
		if rec.Job != nil {
			summary.JobImage = rec.Job.Image
		}
		report.Runs = append(report.Runs, summary)
	}
	if report.Passed {
		report.ExitCode = ExitPass
	}
	return report
}

func (r *Report) pass(run, check string) {
	r.Checks = append(r.Checks, CheckResult{Run: run, Check: check, Passed: true, Message: "ok"})
}

func (r *Report) addFailure(run, check string, exit int, err error) {
	r.Passed = false
	if r.ExitCode == ExitPass || exit > r.ExitCode {
		r.ExitCode = exit
	}
	msg := err.Error()
	r.Checks = append(r.Checks, CheckResult{Run: run, Check: check, Passed: false, Message: msg})
	r.Violations = append(r.Violations, fmt.Sprintf("%s: %s: %s", run, check, msg))
}

func runDirs(source string) ([]string, error) {
	fi, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", source)
	}
	if hash.FileExists(filepath.Join(source, tracking.RunFile)) {
		return []string{source}, nil
	}
	return tracking.RunDirs(source)
}
