package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ogulcanaydogan/runtrack/internal/observer"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

type call struct {
	Hook string
	Arg  any
}

type recordingObserver struct {
	calls      []call
	startErr   error
	metricsErr error
}

func (r *recordingObserver) StartedEvent(_ context.Context, ev observer.StartedEvent) error {
	r.calls = append(r.calls, call{"started", ev.Config})
	return r.startErr
}

func (r *recordingObserver) CompletedEvent(_ context.Context, _ time.Time, result any) error {
	r.calls = append(r.calls, call{"completed", result})
	return nil
}

func (r *recordingObserver) ArtifactEvent(_ context.Context, name, _ string, _ map[string]any, contentType string) error {
	r.calls = append(r.calls, call{"artifact", name + ":" + contentType})
	return nil
}

func (r *recordingObserver) ResourceEvent(_ context.Context, filename string) error {
	r.calls = append(r.calls, call{"resource", filepath.Base(filename)})
	return nil
}

func (r *recordingObserver) LogMetrics(_ context.Context, metrics map[string]observer.MetricSeries, _ map[string]any) error {
	r.calls = append(r.calls, call{"metrics", metrics})
	return r.metricsErr
}

func TestRunEventOrder(t *testing.T) {
	res := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(res, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	obs := &recordingObserver{}
	exp := &Experiment{Name: "demo", Config: map[string]any{"lr": 0.1}, Observers: []observer.Observer{obs}}

	result, err := exp.Run(context.Background(), func(ctx context.Context, rc *RunContext) (any, error) {
		f, err := rc.OpenResource(ctx, res)
		if err != nil {
			return nil, err
		}
		f.Close()
		rc.LogScalar("loss", 0.9, -1)
		rc.LogScalar("loss", 0.5, -1)
		if err := rc.AddArtifact(ctx, res, "", nil, ""); err != nil {
			return nil, err
		}
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != 42 {
		t.Errorf("result = %v", result)
	}

	want := []call{
		{"started", map[string]any{"lr": 0.1}},
		{"resource", "data.csv"},
		{"artifact", "data.csv:"},
		{"metrics", map[string]observer.MetricSeries{"loss": {Steps: []int64{0, 1}, Values: []any{0.9, 0.5}}}},
		{"completed", 42},
	}
	if diff := cmp.Diff(want, obs.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStartFailureAborts(t *testing.T) {
	obs := &recordingObserver{startErr: errors.New("no run")}
	exp := &Experiment{Name: "demo", Observers: []observer.Observer{obs}}
	ran := false
	_, err := exp.Run(context.Background(), func(context.Context, *RunContext) (any, error) {
		ran = true
		return nil, nil
	})
	if err == nil || !errors.Is(err, obs.startErr) {
		t.Fatalf("err = %v, want start failure", err)
	}
	if ran {
		t.Error("main ran after StartedEvent failed")
	}
}

func TestRunMainErrorSkipsCompletion(t *testing.T) {
	obs := &recordingObserver{}
	exp := &Experiment{Name: "demo", Observers: []observer.Observer{obs}}
	boom := errors.New("boom")
	_, err := exp.Run(context.Background(), func(_ context.Context, rc *RunContext) (any, error) {
		rc.LogScalar("loss", 1.0, 0)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	for _, c := range obs.calls {
		if c.Hook == "completed" {
			t.Error("CompletedEvent sent after main failed")
		}
	}
	if got := obs.calls[len(obs.calls)-1].Hook; got != "metrics" {
		t.Errorf("last hook = %s, want buffered metrics flushed", got)
	}
}

func TestRunJoinsLaterObserverErrors(t *testing.T) {
	failing := &recordingObserver{metricsErr: errors.New("metrics rejected")}
	healthy := &recordingObserver{}
	exp := &Experiment{Name: "demo", Observers: []observer.Observer{failing, healthy}}
	result, err := exp.Run(context.Background(), func(_ context.Context, rc *RunContext) (any, error) {
		rc.LogScalar("acc", 0.8, 5)
		return "done", nil
	})
	if !errors.Is(err, failing.metricsErr) {
		t.Fatalf("err = %v, want joined metrics error", err)
	}
	if result != "done" {
		t.Errorf("result = %v", result)
	}
	if got := healthy.calls[len(healthy.calls)-1]; got.Hook != "completed" {
		t.Errorf("healthy observer last call = %+v", got)
	}
}

func TestLogScalarSteps(t *testing.T) {
	rc := &RunContext{metrics: map[string]*observer.MetricSeries{}, steps: map[string]int64{}}
	rc.LogScalar("a", 1, -1)
	rc.LogScalar("a", 2, 10)
	rc.LogScalar("a", 3, -1)
	if diff := cmp.Diff([]int64{0, 10, 11}, rc.metrics["a"].Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"/tmp/model v1.pkl": "model_v1.pkl",
		"weights.bin":       "weights.bin",
		"/":                 "_",
		".":                 "artifact",
	}
	for in, want := range tests {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunWithTrackingObserver(t *testing.T) {
	ctx := context.Background()
	s := tracking.DefaultSettings()
	s.Dir = t.TempDir()
	client, err := tracking.NewClient(s)
	if err != nil {
		t.Fatal(err)
	}
	obs, err := observer.New(ctx, client, tracking.InitOptions{Project: "experiments", ID: "exp-1"})
	if err != nil {
		t.Fatal(err)
	}
	exp := &Experiment{Name: "mnist", Config: map[string]any{"epochs": 3}, Observers: []observer.Observer{obs}}
	if _, err := exp.Run(ctx, func(_ context.Context, rc *RunContext) (any, error) {
		for i := 0; i < 3; i++ {
			rc.LogScalar("loss", 1/float64(i+1), -1)
		}
		return []any{0.97, map[string]any{"val_loss": 0.2}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	run := obs.Run().(*tracking.Run)
	rows, err := tracking.ReadHistory(run.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("history rows = %d, want 5", len(rows))
	}
	if _, ok := run.Config().Get("epochs"); !ok {
		t.Error("experiment config not merged into run config")
	}
	raw, err := os.ReadFile(filepath.Join(run.Dir(), tracking.ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "resources: []") {
		t.Errorf("config.yaml = %s", raw)
	}
}
