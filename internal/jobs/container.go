// Package jobs holds the job programs shipped with runtrack.
package jobs

import (
	"context"
	"fmt"
	"os"

	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

const (
	ContainerImage   = "my-test-container:dummy"
	ContainerProject = "test-job"
)

// ContainerConfig is the config every container-creation run starts with.
func ContainerConfig() map[string]any {
	return map[string]any{"foo": "bar", "lr": 0.1, "epochs": 5}
}

// ContainerCreation records a run that looks like it came from the
// my-test-container:dummy image, so finishing it logs a job artifact. Any
// tracking failure ends the job.
func ContainerCreation(ctx context.Context, projectFile string) (*tracking.Run, error) {
	if err := os.Setenv("RUNTRACK_DOCKER", ContainerImage); err != nil {
		return nil, fmt.Errorf("set docker marker: %w", err)
	}
	settings, err := tracking.LoadSettings(ctx, projectFile)
	if err != nil {
		return nil, err
	}
	if err := settings.Update(map[string]string{"job_source": "image"}); err != nil {
		return nil, err
	}
	client, err := tracking.NewClient(settings)
	if err != nil {
		return nil, err
	}

	cfg := ContainerConfig()
	run, err := client.Init(ctx, tracking.InitOptions{
		Project:  ContainerProject,
		Config:   cfg,
		Settings: &settings,
	})
	if err != nil {
		return nil, err
	}
	v, _ := run.Config().Get("epochs")
	epochs, ok := v.(int)
	if !ok {
		return nil, fmt.Errorf("config epochs is %T, want int", v)
	}
	for i := 1; i < epochs; i++ {
		if err := run.Log(ctx, map[string]any{"loss": i}); err != nil {
			return nil, err
		}
	}
	if err := run.Finish(ctx); err != nil {
		return nil, err
	}
	return run, nil
}
