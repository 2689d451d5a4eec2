package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/runtrack/internal/store"
	"github.com/ogulcanaydogan/runtrack/internal/tracking"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

var (
	ociPushFunc = func(ctx context.Context, repository string, u store.Upload) (string, error) {
		return store.NewOCIStore(repository).Put(ctx, u)
	}
	ociPullFunc = store.PullOCI
)

func newArtifactCommand() *cobra.Command {
	artifactCmd := &cobra.Command{Use: "artifact", Short: "Publish or fetch logged artifacts"}

	var runDir, name, repository string
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Push an artifact logged by a run to an OCI registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runDir == "" || name == "" {
				return fmt.Errorf("--run and --name are required")
			}
			if repository == "" {
				s, err := loadSettings(cmd)
				if err != nil {
					return err
				}
				repository = s.OCIRepository
			}
			if repository == "" {
				return fmt.Errorf("--repository is required when oci_repository is not configured")
			}
			rec, err := findArtifact(runDir, name)
			if err != nil {
				return err
			}
			run, err := tracking.ReadRunRecord(runDir)
			if err != nil {
				return err
			}
			ref, err := ociPushFunc(cmd.Context(), repository, uploadFor(runDir, run.RunID, rec))
			if err != nil {
				return err
			}
			clog.FromContext(cmd.Context()).With("artifact", name, "ref", ref).Info("pushed artifact")
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
	pushCmd.Flags().StringVar(&runDir, "run", "", "run directory")
	pushCmd.Flags().StringVar(&name, "name", "", "artifact name")
	pushCmd.Flags().StringVar(&repository, "repository", "", "OCI repository (default: settings oci_repository)")

	var outDir string
	pullCmd := &cobra.Command{
		Use:   "pull <oci-ref>",
		Short: "Pull an artifact from an OCI registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ociPullFunc(cmd.Context(), args[0], outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %s (%s, %d files) to %s\n", m.Name, m.Digest, len(m.Entries), outDir)
			return nil
		},
	}
	pullCmd.Flags().StringVar(&outDir, "out", ".", "output directory")

	artifactCmd.AddCommand(pushCmd, pullCmd)
	return artifactCmd
}

// findArtifact returns the latest version of name logged by the run.
func findArtifact(runDir, name string) (types.ArtifactRecord, error) {
	records, err := tracking.ReadArtifacts(runDir)
	if err != nil {
		return types.ArtifactRecord{}, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Manifest.Name == name {
			return records[i], nil
		}
	}
	return types.ArtifactRecord{}, fmt.Errorf("artifact %s not found in %s", name, runDir)
}

func uploadFor(runDir, runID string, rec types.ArtifactRecord) store.Upload {
	base := filepath.Join(runDir, filepath.FromSlash(rec.LocalPath))
	sources := make(map[string]string, len(rec.Manifest.Entries))
	for _, e := range rec.Manifest.Entries {
		sources[e.Path] = filepath.Join(base, filepath.FromSlash(e.Path))
	}
	return store.Upload{RunID: runID, Manifest: rec.Manifest, Sources: sources}
}
