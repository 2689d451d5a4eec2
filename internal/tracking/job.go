package tracking

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/chainguard-dev/clog"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

const jobFile = "job.json"

var unsafeJobChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// JobSpec is the content of a job artifact: enough to launch the same
// container again with a different config.
type JobSpec struct {
	SourceType string         `json:"source_type"`
	Image      string         `json:"image"`
	Project    string         `json:"project"`
	Entity     string         `json:"entity,omitempty"`
	RunID      string         `json:"run_id"`
	InputTypes map[string]any `json:"input_types"`
}

// JobArtifactName derives the job artifact name from a container image,
// e.g. "my-test-container:dummy" becomes "job-my-test-container_dummy".
func JobArtifactName(image string) string {
	return "job-" + unsafeJobChars.ReplaceAllString(image, "_")
}

func (r *Run) logJobLocked(ctx context.Context) error {
	s := r.client.settings
	if s.JobSource != types.JobSourceImage {
		return nil
	}
	if s.Docker == "" {
		clog.FromContext(ctx).With("run_id", r.record.RunID).
			Warn("job_source is image but RUNTRACK_DOCKER is not set, skipping job artifact")
		return nil
	}

	spec := JobSpec{
		SourceType: types.JobSourceImage,
		Image:      s.Docker,
		Project:    r.record.Project,
		Entity:     r.record.Entity,
		RunID:      r.record.RunID,
		InputTypes: inputTypes(r.config.Snapshot()),
	}
	path := filepath.Join(r.dir, jobFile)
	if err := writeJSON(path, spec); err != nil {
		return err
	}
	a, err := NewArtifact(JobArtifactName(s.Docker), types.ArtifactTypeJob)
	if err != nil {
		return err
	}
	a.Metadata["image"] = s.Docker
	if err := a.AddFile(path); err != nil {
		return err
	}
	if _, err := r.logArtifactLocked(ctx, a); err != nil {
		return fmt.Errorf("log job artifact: %w", err)
	}
	r.record.Job = &types.JobInfo{Source: types.JobSourceImage, Image: s.Docker, Artifact: a.Name}
	return nil
}

// inputTypes describes the config keys a job accepts by the JSON type of
// their current value.
func inputTypes(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = jsonTypeName(v)
	}
	return out
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
