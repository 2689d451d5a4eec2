package types

type ArtifactEntry struct {
	Path      string `json:"path"`
	Digest    string `json:"digest"`
	SizeBytes int64  `json:"size_bytes"`
}

type ArtifactManifest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Digest   string          `json:"digest"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Entries  []ArtifactEntry `json:"entries"`
}

// ArtifactRecord is one line of a run's artifacts.json.
type ArtifactRecord struct {
	Manifest  ArtifactManifest `json:"manifest"`
	LocalPath string           `json:"local_path"`
	RemoteRef string           `json:"remote_ref,omitempty"`
	LoggedAt  string           `json:"logged_at"`
}

const (
	ArtifactTypeFile   = "file"
	ArtifactTypeResult = "result"
	ArtifactTypeJob    = "job"
)
