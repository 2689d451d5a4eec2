package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/runtrack/internal/experiment"
	"github.com/ogulcanaydogan/runtrack/internal/observer"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
)

func newDemoCommand() *cobra.Command {
	var epochs int
	var workDir string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a small experiment recorded through the tracking observer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir = filepath.Join(s.Dir, "demo")
			}
			run, err := runDemo(cmd.Context(), s, workDir, epochs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), run.Dir())
			return nil
		},
	}
	cmd.Flags().IntVar(&epochs, "epochs", 5, "number of training epochs")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "directory for demo input and output files")
	return cmd
}

// runDemo trains a toy model under an experiment observed by a tracking run.
// The result mixes every kind of value the observer understands.
func runDemo(ctx context.Context, s tracking.Settings, workDir string, epochs int) (*tracking.Run, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	dataPath := filepath.Join(workDir, "train.csv")
	if err := os.WriteFile(dataPath, []byte("x,y\n1,2\n2,4\n3,6\n"), 0o644); err != nil {
		return nil, err
	}

	client, err := tracking.NewClient(s)
	if err != nil {
		return nil, err
	}
	cfg := map[string]any{"epochs": epochs, "lr": 0.05}
	run, err := client.Init(ctx, tracking.InitOptions{Name: "demo", JobType: "train", Config: cfg})
	if err != nil {
		return nil, err
	}
	obs := observer.NewWithRun(run)
	exp := &experiment.Experiment{Name: "demo", Config: cfg, Observers: []observer.Observer{obs}}

	_, runErr := exp.Run(ctx, func(ctx context.Context, rc *experiment.RunContext) (any, error) {
		f, err := rc.OpenResource(ctx, dataPath)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(io.Discard, f)
		f.Close()
		if err != nil {
			return nil, err
		}

		w, loss := 0.0, 0.0
		for epoch := range epochs {
			grad := 0.0
			for x := 1.0; x <= 3; x++ {
				grad += 2 * (w*x - 2*x) * x
			}
			w -= 0.05 * grad / 3
			loss = (w - 2) * (w - 2)
			rc.LogScalar("loss", loss, int64(epoch))
			rc.LogScalar("weight", w, -1)
		}

		modelPath := filepath.Join(workDir, "model.txt")
		if err := os.WriteFile(modelPath, fmt.Appendf(nil, "w=%g\n", w), 0o644); err != nil {
			return nil, err
		}
		if err := rc.AddArtifact(ctx, modelPath, "", map[string]any{"epochs": epochs}, "text/plain"); err != nil {
			return nil, err
		}
		return []any{
			loss,
			map[string]any{"weight": w, "final_loss": loss},
			observer.FilePath(modelPath),
			[][]float64{{0, 0.5}, {0.5, 1}},
			"done",
		}, nil
	})
	if err := run.Finish(ctx); err != nil {
		return nil, err
	}
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}
