//go:build e2e

package e2e

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("cannot resolve test file path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func schemaDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(repoRoot(t), "schemas", "v1")
}

func newClient(t *testing.T) (*tracking.Client, tracking.Settings) {
	t.Helper()
	s := tracking.DefaultSettings()
	s.Dir = t.TempDir()
	s.Project = "e2e"
	client, err := tracking.NewClient(s)
	if err != nil {
		t.Fatal(err)
	}
	return client, s
}

func ctx() context.Context { return context.Background() }
