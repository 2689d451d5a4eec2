// Package experiment is a small experiment host: it runs a main function and
// reports its configuration, metrics, artifacts, resources and result to a
// set of observers.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/ogulcanaydogan/runtrack/internal/observer"
)

// MainFunc is the body of an experiment. Its return value is passed to the
// observers' CompletedEvent.
type MainFunc func(ctx context.Context, rc *RunContext) (any, error)

type Experiment struct {
	Name      string
	Config    map[string]any
	Observers []observer.Observer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Run starts every observer, runs main and completes the observers with its
// result. A failing StartedEvent aborts before main runs. Later observer
// failures are logged and joined into the returned error. When main fails,
// CompletedEvent is not sent.
func (e *Experiment) Run(ctx context.Context, main MainFunc) (any, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	rc := &RunContext{
		ID:      uuid.NewString(),
		Config:  maps.Clone(e.Config),
		exp:     e,
		metrics: map[string]*observer.MetricSeries{},
		steps:   map[string]int64{},
	}
	if rc.Config == nil {
		rc.Config = map[string]any{}
	}
	log := clog.FromContext(ctx).With("experiment", e.Name, "experiment_run_id", rc.ID)
	ctx = clog.WithLogger(ctx, log)

	ev := observer.StartedEvent{
		ExperimentInfo: map[string]any{"name": e.Name},
		Command:        "main",
		HostInfo:       hostInfo(),
		StartTime:      now().UTC(),
		Config:         maps.Clone(rc.Config),
		Meta:           map[string]any{"observers": len(e.Observers)},
		RunID:          rc.ID,
	}
	for i, obs := range e.Observers {
		if err := obs.StartedEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("start observer %d: %w", i, err)
		}
	}
	log.Info("experiment started")

	result, err := main(ctx, rc)
	rc.Flush(ctx)
	if err != nil {
		log.With("error", err).Error("experiment failed")
		return nil, errors.Join(append([]error{fmt.Errorf("run %s: %w", e.Name, err)}, rc.errs...)...)
	}

	stop := now().UTC()
	for i, obs := range e.Observers {
		if err := obs.CompletedEvent(ctx, stop, result); err != nil {
			rc.record(ctx, fmt.Errorf("complete observer %d: %w", i, err))
		}
	}
	log.With("duration", stop.Sub(ev.StartTime).String()).Info("experiment completed")
	return result, errors.Join(rc.errs...)
}

func hostInfo() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"hostname":   host,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"go_version": runtime.Version(),
		"cpu_count":  runtime.NumCPU(),
	}
}

// RunContext is handed to the experiment body for reporting. It is not safe
// for concurrent use.
type RunContext struct {
	ID     string
	Config map[string]any

	exp     *Experiment
	metrics map[string]*observer.MetricSeries
	steps   map[string]int64
	errs    []error
}

// LogScalar buffers one metric value. A negative step means one past the
// previous step for that metric.
func (rc *RunContext) LogScalar(name string, value any, step int64) {
	if step < 0 {
		step = rc.steps[name]
	}
	rc.steps[name] = step + 1
	s, ok := rc.metrics[name]
	if !ok {
		s = &observer.MetricSeries{}
		rc.metrics[name] = s
	}
	s.Steps = append(s.Steps, step)
	s.Values = append(s.Values, value)
}

// Flush sends buffered metrics to every observer.
func (rc *RunContext) Flush(ctx context.Context) error {
	if len(rc.metrics) == 0 {
		return nil
	}
	batch := make(map[string]observer.MetricSeries, len(rc.metrics))
	for name, s := range rc.metrics {
		batch[name] = *s
	}
	rc.metrics = map[string]*observer.MetricSeries{}
	info := map[string]any{"metric_names": sortedKeys(batch)}

	var errs []error
	for i, obs := range rc.exp.Observers {
		if err := obs.LogMetrics(ctx, batch, info); err != nil {
			errs = append(errs, rc.record(ctx, fmt.Errorf("flush metrics to observer %d: %w", i, err)))
		}
	}
	return errors.Join(errs...)
}

// AddArtifact reports filename as an artifact to every observer.
func (rc *RunContext) AddArtifact(ctx context.Context, filename, name string, metadata map[string]any, contentType string) error {
	if name == "" {
		name = sanitizeName(filename)
	}
	var errs []error
	for i, obs := range rc.exp.Observers {
		if err := obs.ArtifactEvent(ctx, name, filename, metadata, contentType); err != nil {
			errs = append(errs, rc.record(ctx, fmt.Errorf("artifact %s to observer %d: %w", name, i, err)))
		}
	}
	return errors.Join(errs...)
}

// OpenResource reports filename as a resource and opens it for reading.
func (rc *RunContext) OpenResource(ctx context.Context, filename string) (*os.File, error) {
	for i, obs := range rc.exp.Observers {
		if err := obs.ResourceEvent(ctx, filename); err != nil {
			rc.record(ctx, fmt.Errorf("resource %s to observer %d: %w", filename, i, err))
		}
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open resource: %w", err)
	}
	return f, nil
}

func (rc *RunContext) record(ctx context.Context, err error) error {
	clog.FromContext(ctx).With("error", err).Warn("observer failed")
	rc.errs = append(rc.errs, err)
	return err
}

func sortedKeys(m map[string]observer.MetricSeries) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
