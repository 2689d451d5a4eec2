package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ogulcanaydogan/runtrack/internal/store"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/internal/verify"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// setupWorkspace moves the test into an empty directory with a private
// tracking dir and returns that dir.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Chdir(tmp)
	dir := filepath.Join(tmp, ".runtrack")
	t.Setenv("RUNTRACK_DIR", dir)
	t.Setenv("RUNTRACK_PROJECT", "cli-test")
	t.Setenv("RUNTRACK_MODE", "")
	t.Setenv("RUNTRACK_DOCKER", "")
	t.Setenv("RUNTRACK_JOB_SOURCE", "")
	t.Setenv("RUNTRACK_RUN_ID", "")
	t.Setenv("RUNTRACK_ARTIFACT_STORE", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandSubcommands(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{
		"init": false, "job": false, "demo": false, "runs": false, "verify": false,
		"report": false, "artifact": false, "agent": false, "queue": false,
	}
	for _, c := range root.Commands() {
		want[c.Name()] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand: %s", name)
		}
	}
}

func TestInvalidLogLevel(t *testing.T) {
	setupWorkspace(t)
	_, err := execute(t, "--log-level", "loud", "runs", "list")
	if err == nil || !strings.Contains(err.Error(), "invalid --log-level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestMalformedDotEnv(t *testing.T) {
	setupWorkspace(t)
	if err := os.WriteFile(".env", []byte("BAD-KEY=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "runs", "list")
	if err == nil || !strings.Contains(err.Error(), "load .env") {
		t.Fatalf("expected .env parse error, got %v", err)
	}
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	setupWorkspace(t)
	if err := loadDotEnv(); err != nil {
		t.Fatalf("loadDotEnv without .env: %v", err)
	}
}

func TestInitWritesProjectFile(t *testing.T) {
	dir := setupWorkspace(t)
	if _, err := execute(t, "init", "--project", "mnist"); err != nil {
		t.Fatal(err)
	}
	var pf tracking.ProjectFile
	if err := tracking.LoadYAML(projectFile, &pf); err != nil {
		t.Fatal(err)
	}
	if pf.Settings.Project != "mnist" {
		t.Errorf("project = %q", pf.Settings.Project)
	}
	if _, err := os.Stat(filepath.Join(dir, "runs")); err != nil {
		t.Errorf("runs dir not created: %v", err)
	}

	// A second init keeps the existing file.
	if _, err := execute(t, "init", "--project", "other"); err != nil {
		t.Fatal(err)
	}
	if err := tracking.LoadYAML(projectFile, &pf); err != nil {
		t.Fatal(err)
	}
	if pf.Settings.Project != "mnist" {
		t.Errorf("project overwritten: %q", pf.Settings.Project)
	}
}

func TestDemoThenListShowAndVerify(t *testing.T) {
	dir := setupWorkspace(t)
	out, err := execute(t, "demo", "--epochs", "3")
	if err != nil {
		t.Fatalf("demo failed: %v", err)
	}
	runDir := strings.TrimSpace(out)
	rec, err := tracking.ReadRunRecord(runDir)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != types.RunStateFinished || rec.Project != "cli-test" {
		t.Fatalf("record = %+v", rec)
	}
	artifacts, err := tracking.ReadArtifacts(runDir)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, a := range artifacts {
		names[a.Manifest.Name] = true
	}
	for _, want := range []string{"model.txt", "result_2"} {
		if !names[want] {
			t.Errorf("missing artifact %s in %v", want, names)
		}
	}

	out, err = execute(t, "runs", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, rec.RunID) || !strings.Contains(out, "finished") {
		t.Errorf("runs list output:\n%s", out)
	}

	out, err = execute(t, "runs", "show", rec.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "# Run "+rec.RunID) {
		t.Errorf("runs show output:\n%s", out)
	}

	reportPath := filepath.Join(t.TempDir(), "verify.json")
	if _, err := execute(t, "verify", "--runs", dir, "--out", reportPath); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	var r verify.Report
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatal(err)
	}
	if !r.Passed || r.RunCount != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestVerifyDigestMismatchExitCode(t *testing.T) {
	setupWorkspace(t)
	out, err := execute(t, "demo", "--epochs", "2")
	if err != nil {
		t.Fatal(err)
	}
	runDir := strings.TrimSpace(out)
	rec, err := findArtifact(runDir, "model.txt")
	if err != nil {
		t.Fatal(err)
	}
	stored := filepath.Join(runDir, filepath.FromSlash(rec.LocalPath), "model.txt")
	if err := os.WriteFile(stored, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = execute(t, "verify", "--runs", runDir, "--format", "md", "--out", filepath.Join(t.TempDir(), "verify.md"))
	var ce cliError
	if !errors.As(err, &ce) {
		t.Fatalf("expected cliError, got %T: %v", err, err)
	}
	if ce.code != verify.ExitDigestMismatch {
		t.Fatalf("exit code = %d, want %d", ce.code, verify.ExitDigestMismatch)
	}
}

func TestVerifyUnsupportedFormat(t *testing.T) {
	dir := setupWorkspace(t)
	_, err := execute(t, "verify", "--runs", dir, "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestReportCommand(t *testing.T) {
	setupWorkspace(t)
	tmp := t.TempDir()
	in := filepath.Join(tmp, "verify.json")
	raw, _ := json.Marshal(verify.Report{Passed: false, ExitCode: verify.ExitMissing, Violations: []string{"run a: run.json missing"}})
	if err := os.WriteFile(in, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(tmp, "verify.md")
	if _, err := execute(t, "report", "--in", in, "--out", out); err != nil {
		t.Fatal(err)
	}
	md, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "run.json missing") {
		t.Errorf("markdown:\n%s", md)
	}

	if _, err := execute(t, "report", "--in", in); err == nil || !strings.Contains(err.Error(), "--in and --out are required") {
		t.Fatalf("expected required flag error, got %v", err)
	}
}

func TestJobContainerCommand(t *testing.T) {
	setupWorkspace(t)
	out, err := execute(t, "job", "container")
	if err != nil {
		t.Fatal(err)
	}
	rec, err := tracking.ReadRunRecord(strings.TrimSpace(out))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Job == nil || rec.Job.Image != "my-test-container:dummy" {
		t.Fatalf("job = %+v", rec.Job)
	}
}

func TestArtifactPushUsesLocalCopy(t *testing.T) {
	setupWorkspace(t)
	out, err := execute(t, "demo", "--epochs", "2")
	if err != nil {
		t.Fatal(err)
	}
	runDir := strings.TrimSpace(out)

	original := ociPushFunc
	t.Cleanup(func() { ociPushFunc = original })
	var got store.Upload
	var gotRepo string
	ociPushFunc = func(_ context.Context, repository string, u store.Upload) (string, error) {
		gotRepo, got = repository, u
		for _, e := range u.Manifest.Entries {
			if _, err := os.Stat(u.Sources[e.Path]); err != nil {
				return "", err
			}
		}
		return repository + ":" + store.VersionTag(u.Manifest.Name, u.Manifest.Digest), nil
	}

	out, err = execute(t, "artifact", "push", "--run", runDir, "--name", "model.txt", "--repository", "ghcr.io/example/models")
	if err != nil {
		t.Fatal(err)
	}
	if gotRepo != "ghcr.io/example/models" || got.Manifest.Name != "model.txt" || got.RunID == "" {
		t.Fatalf("upload = %+v to %s", got, gotRepo)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "ghcr.io/example/models:") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "artifact", "push", "--run", runDir, "--name", "nope", "--repository", "r"); err == nil {
		t.Fatal("expected unknown artifact error")
	}
	if _, err := execute(t, "artifact", "push", "--run", runDir, "--name", "model.txt"); err == nil || !strings.Contains(err.Error(), "--repository is required") {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestArtifactPull(t *testing.T) {
	setupWorkspace(t)
	original := ociPullFunc
	t.Cleanup(func() { ociPullFunc = original })
	var gotRef, gotOut string
	ociPullFunc = func(_ context.Context, ref, outDir string) (types.ArtifactManifest, error) {
		gotRef, gotOut = ref, outDir
		return types.ArtifactManifest{Name: "model", Digest: "sha256:abc", Entries: []types.ArtifactEntry{{Path: "model.pkl"}}}, nil
	}
	outDir := t.TempDir()
	out, err := execute(t, "artifact", "pull", "ghcr.io/example/models:model-abc", "--out", outDir)
	if err != nil {
		t.Fatal(err)
	}
	if gotRef != "ghcr.io/example/models:model-abc" || gotOut != outDir {
		t.Fatalf("pull called with %s %s", gotRef, gotOut)
	}
	if !strings.Contains(out, "pulled model (sha256:abc, 1 files)") {
		t.Errorf("output = %q", out)
	}
}

func TestQueuePushAndLen(t *testing.T) {
	setupWorkspace(t)
	out, err := execute(t, "queue", "push", "--queue", "gpu", "--image", "my-test-container:dummy", "--", "python", "train.py")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected item id")
	}
	out, err = execute(t, "queue", "len", "--queue", "gpu")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Errorf("len = %q", out)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b,c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("splitCSV = %v", got)
	}
}
