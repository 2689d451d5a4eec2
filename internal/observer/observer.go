// Package observer bridges experiment lifecycle events into a tracked run.
package observer

import (
	"context"
	"time"
)

// Observer receives events from an experiment host. Hosts call StartedEvent
// before CompletedEvent; no other ordering is guaranteed.
type Observer interface {
	StartedEvent(ctx context.Context, ev StartedEvent) error
	CompletedEvent(ctx context.Context, stopTime time.Time, result any) error
	ArtifactEvent(ctx context.Context, name, filename string, metadata map[string]any, contentType string) error
	ResourceEvent(ctx context.Context, filename string) error
	LogMetrics(ctx context.Context, metrics map[string]MetricSeries, info map[string]any) error
}

// StartedEvent describes an experiment that is about to run.
type StartedEvent struct {
	ExperimentInfo map[string]any
	Command        string
	HostInfo       map[string]any
	StartTime      time.Time
	Config         map[string]any
	Meta           map[string]any
	RunID          string
}

// MetricSeries holds the values reported for one metric, paired with their
// steps by position.
type MetricSeries struct {
	Steps  []int64
	Values []any
}

// FilePath marks a result value as a path to a file that should be stored as
// an artifact. Plain strings are not treated as paths.
type FilePath string
