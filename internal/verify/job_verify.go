package verify

import (
	"fmt"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// VerifyJob checks that a run launched from an image carries the job
// artifact its record points at.
func VerifyJob(rec types.RunRecord, artifacts []types.ArtifactRecord) error {
	if rec.Job == nil {
		return nil
	}
	for _, a := range artifacts {
		if a.Manifest.Name != rec.Job.Artifact {
			continue
		}
		if a.Manifest.Type != types.ArtifactTypeJob {
			return fmt.Errorf("artifact %s has type %s, want %s", a.Manifest.Name, a.Manifest.Type, types.ArtifactTypeJob)
		}
		if img, _ := a.Manifest.Metadata["image"].(string); img != rec.Job.Image {
			return fmt.Errorf("job artifact image %q does not match run image %q", img, rec.Job.Image)
		}
		return nil
	}
	return fmt.Errorf("job artifact %s not found", rec.Job.Artifact)
}
