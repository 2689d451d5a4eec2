package verify

const (
	ExitPass           = 0
	ExitMissing        = 10
	ExitDigestMismatch = 12
	ExitSchemaFail     = 14
)

type CheckResult struct {
	Run     string `json:"run"`
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

type RunSummary struct {
	RunID       string `json:"run_id"`
	Project     string `json:"project"`
	State       string `json:"state"`
	Artifacts   int    `json:"artifacts"`
	HistoryRows int    `json:"history_rows"`
	JobImage    string `json:"job_image,omitempty"`
}

type Report struct {
	Passed     bool          `json:"passed"`
	ExitCode   int           `json:"exit_code"`
	RunCount   int           `json:"run_count"`
	Checks     []CheckResult `json:"checks"`
	Violations []string      `json:"violations"`
	Runs       []RunSummary  `json:"runs"`
}
