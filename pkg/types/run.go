package types

type RunRecord struct {
	SchemaVersion string            `json:"schema_version"`
	RunID         string            `json:"run_id"`
	Project       string            `json:"project"`
	Entity        string            `json:"entity,omitempty"`
	Name          string            `json:"name,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Group         string            `json:"group,omitempty"`
	JobType       string            `json:"job_type,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	State         string            `json:"state"`
	Mode          string            `json:"mode"`
	StartedAt     string            `json:"started_at"`
	FinishedAt    string            `json:"finished_at,omitempty"`
	RuntimeSecs   float64           `json:"runtime_seconds,omitempty"`
	ConfigDigest  string            `json:"config_digest,omitempty"`
	Generator     Generator         `json:"generator"`
	Job           *JobInfo          `json:"job,omitempty"`
	Summary       map[string]any    `json:"summary,omitempty"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

type Generator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// JobInfo describes how the run can be relaunched. Only image-sourced jobs
// are recorded today.
type JobInfo struct {
	Source   string `json:"source"`
	Image    string `json:"image,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

const (
	RunStateRunning  = "running"
	RunStateFinished = "finished"
	RunStateFailed   = "failed"
)

const (
	ModeOnline   = "online"
	ModeOffline  = "offline"
	ModeDisabled = "disabled"
)

const (
	JobSourceImage    = "image"
	JobSourceRepo     = "repo"
	JobSourceArtifact = "artifact"
)

const SchemaVersion = "1.0.0"

func IsTerminalState(state string) bool {
	return state == RunStateFinished || state == RunStateFailed
}
