package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

const ResourceLocal = "local"

type JobState string

const (
	JobRunning  JobState = "running"
	JobFinished JobState = "finished"
	JobFailed   JobState = "failed"
)

// Job is a launched queue item.
type Job interface {
	ID() string
	State() JobState
}

// Backend launches queue items on one kind of resource.
type Backend interface {
	Verify(ctx context.Context) error
	Run(ctx context.Context, item Item) (Job, error)
}

// LoadBackend returns the backend for a resource name. Only local execution
// is supported.
func LoadBackend(resource string, env Env) (Backend, error) {
	if resource == "" {
		resource = ResourceLocal
	}
	if resource != ResourceLocal {
		return nil, fmt.Errorf("unsupported resource %q", resource)
	}
	return &ExecBackend{Env: env}, nil
}

// Env is the tracking environment handed to launched jobs.
type Env struct {
	Dir     string
	Project string
	Entity  string
}

// ExecBackend runs the item's command as a local process with the tracking
// environment set, so the job records an image-sourced run.
type ExecBackend struct {
	Env Env
}

func (b *ExecBackend) Verify(context.Context) error { return nil }

func (b *ExecBackend) Run(ctx context.Context, item Item) (Job, error) {
	spec := item.RunSpec
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("item %s has no command", item.ID)
	}
	path, err := exec.LookPath(spec.Command[0])
	if err != nil {
		return nil, fmt.Errorf("resolve command: %w", err)
	}
	args := append(append([]string(nil), spec.Command[1:]...), spec.Overrides.Args...)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), b.environ(item)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", item.ID, err)
	}

	j := &execJob{id: item.ID, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
		close(j.done)
		if err != nil {
			clog.FromContext(ctx).With("job_id", item.ID, "error", err).Warn("job exited with error")
		}
	}()
	return j, nil
}

func (b *ExecBackend) environ(item Item) []string {
	spec := item.RunSpec
	env := []string{
		"RUNTRACK_JOB_SOURCE=" + types.JobSourceImage,
		"RUNTRACK_RUN_QUEUE_ITEM_ID=" + item.ID,
	}
	if spec.Image != "" {
		env = append(env, "RUNTRACK_DOCKER="+spec.Image)
	}
	if p := firstNonEmpty(spec.Project, b.Env.Project); p != "" {
		env = append(env, "RUNTRACK_PROJECT="+p)
	}
	if e := firstNonEmpty(spec.Entity, b.Env.Entity); e != "" {
		env = append(env, "RUNTRACK_ENTITY="+e)
	}
	if b.Env.Dir != "" {
		env = append(env, "RUNTRACK_DIR="+b.Env.Dir)
	}
	return env
}

type execJob struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (j *execJob) ID() string { return j.id }

func (j *execJob) State() JobState {
	select {
	case <-j.done:
	default:
		return JobRunning
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return JobFailed
	}
	return JobFinished
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
