package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ogulcanaydogan/runtrack/internal/store"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per call.
func stepClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := testEpoch.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func newTestClient(t *testing.T, mutate func(*Settings), opts ...ClientOption) *Client {
	t.Helper()
	s := DefaultSettings()
	s.Dir = t.TempDir()
	if mutate != nil {
		mutate(&s)
	}
	c, err := NewClient(s, append([]ClientOption{WithClock(stepClock())}, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

type recordingStore struct {
	uploads []store.Upload
	err     error
}

func (s *recordingStore) Put(_ context.Context, u store.Upload) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.uploads = append(s.uploads, u)
	return "mem://" + store.VersionTag(u.Manifest.Name, u.Manifest.Digest), nil
}

func TestInitWritesRunDirectory(t *testing.T) {
	c := newTestClient(t, nil)
	run, err := c.Init(context.Background(), InitOptions{
		Project: "test-job",
		Config:  map[string]any{"foo": "bar", "lr": 0.1, "epochs": 5},
		ID:      "run-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Dir() != filepath.Join(c.Settings().Dir, "runs", "run-1") {
		t.Errorf("Dir = %s", run.Dir())
	}
	rec, err := ReadRunRecord(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != types.RunStateRunning || rec.Project != "test-job" || rec.SchemaVersion != types.SchemaVersion {
		t.Errorf("unexpected record: %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(run.Dir(), ConfigFile)); err != nil {
		t.Errorf("config not written: %v", err)
	}
}

func TestInitRejectsDuplicateAndInvalidIDs(t *testing.T) {
	c := newTestClient(t, nil)
	if _, err := c.Init(context.Background(), InitOptions{ID: "dup"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Init(context.Background(), InitOptions{ID: "dup"}); err == nil {
		t.Error("expected error for duplicate run id")
	}
	if _, err := c.Init(context.Background(), InitOptions{ID: "../escape"}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
}

func TestInitGeneratesID(t *testing.T) {
	c := newTestClient(t, nil)
	a, err := c.Init(context.Background(), InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Init(context.Background(), InitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids %q and %q should be distinct and non-empty", a.ID(), b.ID())
	}
	if a.Project() != DefaultProject {
		t.Errorf("Project = %q", a.Project())
	}
}

func TestInitSettingsOverride(t *testing.T) {
	c := newTestClient(t, nil)
	override := c.Settings()
	override.Dir = t.TempDir()
	override.JobSource = types.JobSourceImage
	run, err := c.Init(context.Background(), InitOptions{ID: "override", Settings: &override})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(run.Dir(), override.Dir) {
		t.Errorf("run dir %s not under override dir %s", run.Dir(), override.Dir)
	}
}

func TestLogAppendsHistory(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	run, err := c.Init(ctx, InitOptions{ID: "hist"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 5; i++ {
		if err := run.Log(ctx, map[string]any{"loss": 1.0 / float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	for i, row := range rows {
		if row[types.HistoryStepKey] != float64(i) {
			t.Errorf("row %d step = %v", i, row[types.HistoryStepKey])
		}
	}
	if got := run.Summary()["loss"]; got != 0.25 {
		t.Errorf("summary loss = %v, want 0.25", got)
	}
}

func TestLogRejectsReservedKeys(t *testing.T) {
	ctx := context.Background()
	run, err := newTestClient(t, nil).Init(ctx, InitOptions{ID: "keys"})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "_step"} {
		if err := run.Log(ctx, map[string]any{key: 1}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("key %q: err = %v, want ErrInvalidName", key, err)
		}
	}
	rows, err := ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("rejected rows were written: %v", rows)
	}
}

func TestLogImageWritesPNG(t *testing.T) {
	ctx := context.Background()
	run, err := newTestClient(t, nil).Init(ctx, InitOptions{ID: "img"})
	if err != nil {
		t.Fatal(err)
	}
	arr, err := ArrayFrom2D([][]float64{{0, 0.5}, {1, 0.25}})
	if err != nil {
		t.Fatal(err)
	}
	im, err := NewImage(arr)
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Log(ctx, map[string]any{"result_0": im}); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	file, ok := rows[0]["result_0"].(map[string]any)
	if !ok {
		t.Fatalf("history value = %#v", rows[0]["result_0"])
	}
	if file["_type"] != types.ImageFileType {
		t.Errorf("_type = %v", file["_type"])
	}
	p, _ := file["path"].(string)
	if _, err := os.Stat(filepath.Join(run.Dir(), filepath.FromSlash(p))); err != nil {
		t.Errorf("image file missing: %v", err)
	}
}

func TestLogEncodesNonFiniteFloats(t *testing.T) {
	ctx := context.Background()
	run, err := newTestClient(t, nil).Init(ctx, InitOptions{ID: "nonfinite"})
	if err != nil {
		t.Fatal(err)
	}
	err = run.Log(ctx, map[string]any{
		"nan":    math.NaN(),
		"inf":    math.Inf(1),
		"neginf": float32(math.Inf(-1)),
		"nested": map[string]any{"v": math.NaN(), "ok": 1.5},
		"loss":   0.5,
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	rows, err := ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"nan":    "NaN",
		"inf":    "Infinity",
		"neginf": "-Infinity",
		"nested": map[string]any{"v": "NaN", "ok": 1.5},
		"loss":   0.5,
	}
	for k, v := range want {
		if diff := cmp.Diff(v, rows[0][k]); diff != "" {
			t.Errorf("%s (-want +got):\n%s", k, diff)
		}
	}
	if got := run.Summary()["nan"]; got != "NaN" {
		t.Errorf("summary nan = %v", got)
	}
	if err := run.Finish(ctx); err != nil {
		t.Fatalf("finish with non-finite summary: %v", err)
	}
}

func TestLogFailureLeavesNoImages(t *testing.T) {
	ctx := context.Background()
	run, err := newTestClient(t, nil).Init(ctx, InitOptions{ID: "orphans"})
	if err != nil {
		t.Fatal(err)
	}
	arr, _ := ArrayFrom2D([][]float64{{0, 1}})
	im, err := NewImage(arr)
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Log(ctx, map[string]any{"img": im, "_bad": 1}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
	if err := run.Log(ctx, map[string]any{"img": im, "broken": &Image{}}); err == nil {
		t.Fatal("expected encode error for zero image")
	}
	entries, err := os.ReadDir(filepath.Join(run.Dir(), MediaDir, "images"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("orphan media files: %v", entries)
	}
	rows, err := ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("rows written: %v", rows)
	}
}

func TestLogArtifact(t *testing.T) {
	ctx := context.Background()
	remote := &recordingStore{}
	run, err := newTestClient(t, nil, WithRemoteStore(remote)).Init(ctx, InitOptions{ID: "art"})
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(src, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := NewArtifact("model", types.ArtifactTypeFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.AddFile(src); err != nil {
		t.Fatal(err)
	}
	rec, err := run.LogArtifact(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(remote.uploads) != 1 || !strings.HasPrefix(rec.RemoteRef, "mem://model-") {
		t.Errorf("remote not used: uploads=%d ref=%q", len(remote.uploads), rec.RemoteRef)
	}
	copied := filepath.Join(run.Dir(), filepath.FromSlash(rec.LocalPath), "model.bin")
	if raw, err := os.ReadFile(copied); err != nil || string(raw) != "weights" {
		t.Errorf("local copy = %q, %v", raw, err)
	}
	if err := a.AddFile(src); !errors.Is(err, ErrArtifactFinalized) {
		t.Errorf("err = %v, want ErrArtifactFinalized", err)
	}

	logged, err := ReadArtifacts(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]types.ArtifactRecord{rec}, logged); diff != "" {
		t.Errorf("artifacts.json mismatch (-want +got):\n%s", diff)
	}
}

func TestLogArtifactRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := &recordingStore{err: errors.New("registry down")}
	run, err := newTestClient(t, nil, WithRemoteStore(remote)).Init(ctx, InitOptions{ID: "remote-fail"})
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(src, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, _ := NewArtifact("a", types.ArtifactTypeFile)
	if err := a.AddFile(src); err != nil {
		t.Fatal(err)
	}
	if _, err := run.LogArtifact(ctx, a); err == nil || !strings.Contains(err.Error(), "registry down") {
		t.Fatalf("err = %v, want remote failure", err)
	}
}

func TestFinish(t *testing.T) {
	ctx := context.Background()
	run, err := newTestClient(t, nil).Init(ctx, InitOptions{ID: "fin", Config: map[string]any{"lr": 0.1}})
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Log(ctx, map[string]any{"loss": 0.5}); err != nil {
		t.Fatal(err)
	}
	run.Config().Set("epochs", 5)
	if err := run.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	rec, err := ReadRunRecord(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != types.RunStateFinished || rec.FinishedAt == "" || rec.RuntimeSecs <= 0 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !strings.HasPrefix(rec.ConfigDigest, "sha256:") {
		t.Errorf("ConfigDigest = %q", rec.ConfigDigest)
	}
	if rec.Summary["loss"] != 0.5 {
		t.Errorf("summary = %v", rec.Summary)
	}
	if rec.Job != nil {
		t.Errorf("unexpected job info %+v", rec.Job)
	}

	if err := run.Finish(ctx); !errors.Is(err, ErrRunFinished) {
		t.Errorf("second Finish err = %v, want ErrRunFinished", err)
	}
	if err := run.Log(ctx, map[string]any{"loss": 0.1}); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Log after Finish err = %v, want ErrRunFinished", err)
	}
}

func TestFinishLogsJobArtifact(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(s *Settings) {
		s.Docker = "my-test-container:dummy"
		s.JobSource = types.JobSourceImage
	})
	run, err := c.Init(ctx, InitOptions{
		Project: "test-job",
		ID:      "job",
		Config:  map[string]any{"foo": "bar", "lr": 0.1, "epochs": 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	rec := run.Record()
	want := &types.JobInfo{Source: types.JobSourceImage, Image: "my-test-container:dummy", Artifact: "job-my-test-container_dummy"}
	if diff := cmp.Diff(want, rec.Job); diff != "" {
		t.Errorf("job info mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(filepath.Join(run.Dir(), jobFile))
	if err != nil {
		t.Fatal(err)
	}
	var spec JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatal(err)
	}
	wantTypes := map[string]any{"foo": "string", "lr": "number", "epochs": "integer"}
	if diff := cmp.Diff(wantTypes, spec.InputTypes); diff != "" {
		t.Errorf("input types mismatch (-want +got):\n%s", diff)
	}

	arts, err := ReadArtifacts(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 || arts[0].Manifest.Type != types.ArtifactTypeJob {
		t.Fatalf("artifacts = %+v", arts)
	}
}

func TestFinishWithoutDockerSkipsJob(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(s *Settings) { s.JobSource = types.JobSourceImage })
	run, err := c.Init(ctx, InitOptions{ID: "nodocker"})
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if run.Record().Job != nil {
		t.Error("job artifact logged without an image")
	}
}

func TestDisabledRunIsNoop(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(s *Settings) { s.Mode = types.ModeDisabled })
	run, err := c.Init(ctx, InitOptions{ID: "off"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Dir() != "" {
		t.Errorf("Dir = %q, want empty", run.Dir())
	}
	if err := run.Log(ctx, map[string]any{"loss": 1}); err != nil {
		t.Fatal(err)
	}
	if err := run.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	dirs, err := RunDirs(c.Settings().Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 0 {
		t.Errorf("disabled run wrote %v", dirs)
	}
}

func TestListRunsOrdersByStart(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	for _, id := range []string{"b-second", "a-third", "c-fourth"} {
		if _, err := c.Init(ctx, InitOptions{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := ListRuns(c.Settings().Dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range runs {
		got = append(got, r.RunID)
	}
	if diff := cmp.Diff([]string{"b-second", "a-third", "c-fourth"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
