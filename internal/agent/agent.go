// Package agent polls run queues and launches the queued jobs.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultPollInterval = 10 * time.Second

type Config struct {
	// Dir is the tracking directory holding queues/ and agents/.
	Dir          string
	Entity       string
	Project      string
	Queues       []string
	PollInterval time.Duration
	ID           string
}

type Agent struct {
	cfg        Config
	queue      Queue
	backendFor func(resource string) (Backend, error)
	now        func() time.Time

	mu    sync.Mutex
	jobs  map[string]Job
	state string
	ticks int

	running prometheus.Gauge
}

type Option func(*Agent)

// WithQueue replaces the directory queue.
func WithQueue(q Queue) Option {
	return func(a *Agent) { a.queue = q }
}

// WithBackendLoader replaces LoadBackend.
func WithBackendLoader(fn func(resource string) (Backend, error)) Option {
	return func(a *Agent) { a.backendFor = fn }
}

func New(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("agent needs a tracking dir")
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("agent needs a project")
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{"default"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ID == "" {
		cfg.ID = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	env := Env{Dir: cfg.Dir, Project: cfg.Project, Entity: cfg.Entity}
	a := &Agent{
		cfg:        cfg,
		queue:      NewDirQueue(cfg.Dir),
		backendFor: func(resource string) (Backend, error) { return LoadBackend(resource, env) },
		now:        time.Now,
		jobs:       map[string]Job{},
		state:      StatusPolling,
		running:    runningJobsGauge.WithLabelValues(cfg.ID),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) ID() string { return a.cfg.ID }

// JobIDs returns the ids of jobs still tracked as running.
func (a *Agent) JobIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.jobIDsLocked()
}

func (a *Agent) jobIDsLocked() []string {
	ids := make([]string, 0, len(a.jobs))
	for id := range a.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the current agent status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Agent) statusLocked() Status {
	return Status{
		AgentID:   a.cfg.ID,
		Entity:    a.cfg.Entity,
		Project:   a.cfg.Project,
		Queues:    append([]string(nil), a.cfg.Queues...),
		State:     a.state,
		JobIDs:    a.jobIDsLocked(),
		Ticks:     a.ticks,
		UpdatedAt: a.now().UTC().Format(time.RFC3339Nano),
	}
}

func (a *Agent) setStateLocked(ctx context.Context, state string) {
	a.state = state
	if err := writeStatus(a.cfg.Dir, a.statusLocked()); err != nil {
		clog.FromContext(ctx).With("state", state, "error", err).Error("failed to update agent status")
	}
}

// Loop polls the queues until ctx is cancelled, then marks the agent KILLED.
func (a *Agent) Loop(ctx context.Context) error {
	log := clog.FromContext(ctx).With("agent_id", a.cfg.ID)
	ctx = clog.WithLogger(ctx, log)
	log.Info(fmt.Sprintf("launch agent polling project %s/%s on queues: %s",
		a.cfg.Entity, a.cfg.Project, strings.Join(a.cfg.Queues, ",")))

	a.mu.Lock()
	a.setStateLocked(ctx, StatusPolling)
	a.mu.Unlock()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			a.shutdown(ctx)
			return nil
		}
		launched, err := a.tick(ctx)
		if err != nil {
			log.With("error", err).Error("failed to launch job")
		}
		if launched {
			continue
		}
		select {
		case <-ctx.Done():
			a.shutdown(ctx)
			return nil
		case <-ticker.C:
		}
		a.reap(ctx)
		a.mu.Lock()
		ticks := a.ticks
		a.mu.Unlock()
		if ticks%2 == 0 {
			a.printStatus(ctx)
		}
	}
}

// tick runs one poll: the first queue with an item wins. It reports whether
// a job was launched.
func (a *Agent) tick(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.ticks++
	a.mu.Unlock()

	item, err := a.pop(ctx)
	if item == nil {
		return false, err
	}
	pollCounter.WithLabelValues(a.cfg.ID, "job").Inc()
	return true, a.runJob(ctx, *item)
}

func (a *Agent) pop(ctx context.Context) (*Item, error) {
	var errs []error
	for _, q := range a.cfg.Queues {
		item, err := a.queue.Pop(ctx, q)
		if err != nil {
			pollCounter.WithLabelValues(a.cfg.ID, "error").Inc()
			errs = append(errs, fmt.Errorf("pop %s: %w", q, err))
			continue
		}
		if item != nil {
			return item, nil
		}
	}
	pollCounter.WithLabelValues(a.cfg.ID, "empty").Inc()
	return nil, errors.Join(errs...)
}

func (a *Agent) runJob(ctx context.Context, item Item) error {
	log := clog.FromContext(ctx).With("job_id", item.ID, "queue", item.Queue)
	log.Info("agent: got job")

	a.mu.Lock()
	a.setStateLocked(ctx, StatusRunning)
	a.mu.Unlock()

	backend, err := a.backendFor(item.RunSpec.Resource)
	if err == nil {
		err = backend.Verify(ctx)
	}
	var job Job
	if err == nil {
		job, err = backend.Run(ctx, item)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		jobCounter.WithLabelValues(a.cfg.ID, string(JobFailed)).Inc()
		if len(a.jobs) == 0 {
			a.setStateLocked(ctx, StatusPolling)
		}
		return fmt.Errorf("run job %s: %w", item.ID, err)
	}
	a.jobs[job.ID()] = job
	a.running.Set(float64(len(a.jobs)))
	a.setStateLocked(ctx, StatusRunning)
	return nil
}

// reap drops finished or failed jobs and returns to POLLING once none remain.
func (a *Agent) reap(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := false
	for id, job := range a.jobs {
		switch st := job.State(); st {
		case JobFinished, JobFailed:
			delete(a.jobs, id)
			jobCounter.WithLabelValues(a.cfg.ID, string(st)).Inc()
			clog.FromContext(ctx).With("job_id", id, "state", st).Info("job done")
			removed = true
		}
	}
	a.running.Set(float64(len(a.jobs)))
	if removed && len(a.jobs) == 0 {
		a.setStateLocked(ctx, StatusPolling)
	}
}

func (a *Agent) printStatus(ctx context.Context) {
	clog.FromContext(ctx).With("running", len(a.JobIDs())).
		Info(fmt.Sprintf("polling on project %s, queues %s for jobs", a.cfg.Project, strings.Join(a.cfg.Queues, " ")))
}

func (a *Agent) shutdown(ctx context.Context) {
	a.mu.Lock()
	a.setStateLocked(context.WithoutCancel(ctx), StatusKilled)
	ids := a.jobIDsLocked()
	a.mu.Unlock()
	clog.FromContext(ctx).With("active_jobs", strings.Join(ids, ",")).Info("shutting down")
	a.printStatus(ctx)
}
