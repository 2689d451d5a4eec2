package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	StatusPolling = "POLLING"
	StatusRunning = "RUNNING"
	StatusKilled  = "KILLED"
)

// Status is the persisted state of an agent, written to <dir>/agents/<id>.json.
type Status struct {
	AgentID   string   `json:"agent_id"`
	Entity    string   `json:"entity,omitempty"`
	Project   string   `json:"project"`
	Queues    []string `json:"queues"`
	State     string   `json:"state"`
	JobIDs    []string `json:"job_ids"`
	Ticks     int      `json:"ticks"`
	UpdatedAt string   `json:"updated_at"`
}

func statusPath(dir, id string) string {
	return filepath.Join(dir, "agents", id+".json")
}

func writeStatus(dir string, s Status) error {
	path := statusPath(dir, s.AgentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write agent status: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadStatus loads the persisted status of agent id.
func ReadStatus(dir, id string) (Status, error) {
	var s Status
	raw, err := os.ReadFile(statusPath(dir, id))
	if err != nil {
		return s, fmt.Errorf("read agent status: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decode agent status: %w", err)
	}
	return s, nil
}
