package observer

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// Run is the part of a tracked run the observer writes to. *tracking.Run
// implements it.
type Run interface {
	Config() *tracking.Config
	Log(ctx context.Context, data map[string]any) error
	LogArtifact(ctx context.Context, a *tracking.Artifact) (types.ArtifactRecord, error)
}

// configSyncer is implemented by runs that persist config changes eagerly.
type configSyncer interface {
	SyncConfig() error
}

// DigestFunc computes the content digest of a resource file.
type DigestFunc func(path string) (string, error)

// TrackingObserver records experiment events in a single run. It is meant to
// be driven from one goroutine.
type TrackingObserver struct {
	run       Run
	digest    DigestFunc
	resources map[string]string
}

var _ Observer = (*TrackingObserver)(nil)

type Option func(*TrackingObserver)

// WithDigestFunc replaces the sha256 file digest used for resources.
func WithDigestFunc(fn DigestFunc) Option {
	return func(o *TrackingObserver) { o.digest = fn }
}

// New starts a run with opts and returns an observer that owns it.
func New(ctx context.Context, client *tracking.Client, opts tracking.InitOptions, options ...Option) (*TrackingObserver, error) {
	run, err := client.Init(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init run: %w", err)
	}
	return NewWithRun(run, options...), nil
}

func NewWithRun(run Run, options ...Option) *TrackingObserver {
	o := &TrackingObserver{
		run:       run,
		digest:    digestFile,
		resources: map[string]string{},
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func digestFile(path string) (string, error) {
	d, _, err := hash.DigestFile(path)
	return d, err
}

func (o *TrackingObserver) Run() Run { return o.run }

// Resources returns a copy of the resource digests seen so far, keyed by filename.
func (o *TrackingObserver) Resources() map[string]string {
	return maps.Clone(o.resources)
}

// StartedEvent merges the experiment config into the run config and resets
// the resources list.
func (o *TrackingObserver) StartedEvent(ctx context.Context, ev StartedEvent) error {
	cfg := o.run.Config()
	for k, v := range ev.Config {
		cfg.Set(k, v)
	}
	cfg.Set("resources", []any{})
	if s, ok := o.run.(configSyncer); ok {
		if err := s.SyncConfig(); err != nil {
			return observe(EventStarted, eventErr(EventStarted, -1, err))
		}
	}
	clog.FromContext(ctx).With("experiment_run_id", ev.RunID, "config_keys", len(ev.Config)).Debug("experiment started")
	return observe(EventStarted, nil)
}

// CompletedEvent logs each result value according to its kind. Values of an
// unsupported type are skipped with a warning.
func (o *TrackingObserver) CompletedEvent(ctx context.Context, stopTime time.Time, result any) error {
	if result == nil {
		return observe(EventCompleted, nil)
	}
	log := clog.FromContext(ctx)
	for i, v := range results(result) {
		r := Classify(i, v)
		if err := o.logResult(ctx, r); err != nil {
			return observe(EventCompleted, eventErr(EventCompleted, i, err))
		}
		if r.Kind == KindUnsupported {
			unsupportedCounter.Inc()
			log.With("index", i, "type", r.Type).Warn(fmt.Sprintf("unsupported result type %s at index %d, skipping", r.Type, i))
		}
	}
	log.With("stop_time", stopTime.UTC().Format(time.RFC3339)).Debug("experiment completed")
	return observe(EventCompleted, nil)
}

func (o *TrackingObserver) logResult(ctx context.Context, r Result) error {
	key := fmt.Sprintf("result_%d", r.Index)
	switch r.Kind {
	case KindScalar:
		return o.run.Log(ctx, map[string]any{key: r.Scalar})
	case KindMapping:
		return o.run.Log(ctx, r.Mapping)
	case KindArray:
		if r.Err != nil {
			return r.Err
		}
		im, err := tracking.NewImage(r.Array)
		if err != nil {
			return err
		}
		return o.run.Log(ctx, map[string]any{key: im})
	case KindFilePath:
		a, err := tracking.NewArtifact(key, types.ArtifactTypeResult)
		if err != nil {
			return err
		}
		if err := a.AddFile(r.Path); err != nil {
			return err
		}
		_, err = o.run.LogArtifact(ctx, a)
		return err
	}
	return nil
}

// ArtifactEvent stores filename as an artifact called name. An empty content
// type defaults to "file".
func (o *TrackingObserver) ArtifactEvent(ctx context.Context, name, filename string, metadata map[string]any, contentType string) error {
	if contentType == "" {
		contentType = types.ArtifactTypeFile
	}
	a, err := tracking.NewArtifact(name, contentType)
	if err != nil {
		return observe(EventArtifact, eventErr(EventArtifact, -1, err))
	}
	maps.Copy(a.Metadata, metadata)
	if err := a.AddFile(filename); err != nil {
		return observe(EventArtifact, eventErr(EventArtifact, -1, err))
	}
	if _, err := o.run.LogArtifact(ctx, a); err != nil {
		return observe(EventArtifact, eventErr(EventArtifact, -1, err))
	}
	return observe(EventArtifact, nil)
}

// ResourceEvent digests filename the first time it is seen.
func (o *TrackingObserver) ResourceEvent(ctx context.Context, filename string) error {
	if _, ok := o.resources[filename]; ok {
		return observe(EventResource, nil)
	}
	d, err := o.digest(filename)
	if err != nil {
		return observe(EventResource, eventErr(EventResource, -1, err))
	}
	digestCounter.Inc()
	o.resources[filename] = d
	clog.FromContext(ctx).With("resource", filename, "digest", d).Debug("resource recorded")
	return observe(EventResource, nil)
}

// LogMetrics logs every (step, value) pair of every series, one call per
// pair. Names are processed in sorted order and steps are not forwarded.
func (o *TrackingObserver) LogMetrics(ctx context.Context, metrics map[string]MetricSeries, info map[string]any) error {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		series := metrics[name]
		n := min(len(series.Steps), len(series.Values))
		for i := 0; i < n; i++ {
			v := series.Values[i]
			if arr, ok, err := asArray(v); ok {
				if err != nil {
					return observe(EventMetrics, eventErr(EventMetrics, i, fmt.Errorf("metric %s: %w", name, err)))
				}
				im, err := tracking.NewImage(arr)
				if err != nil {
					return observe(EventMetrics, eventErr(EventMetrics, i, fmt.Errorf("metric %s: %w", name, err)))
				}
				v = im
			}
			if err := o.run.Log(ctx, map[string]any{name: v}); err != nil {
				return observe(EventMetrics, eventErr(EventMetrics, i, fmt.Errorf("metric %s: %w", name, err)))
			}
		}
	}
	return observe(EventMetrics, nil)
}
