package tracking

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

// ReadRunRecord loads run.json from a run directory.
func ReadRunRecord(runDir string) (types.RunRecord, error) {
	var rec types.RunRecord
	raw, err := os.ReadFile(filepath.Join(runDir, RunFile))
	if err != nil {
		return rec, fmt.Errorf("read run record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode run record %s: %w", runDir, err)
	}
	return rec, nil
}

// ReadHistory decodes every row of history.jsonl. A run without history
// returns no rows.
func ReadHistory(runDir string) ([]map[string]any, error) {
	f, err := os.Open(filepath.Join(runDir, HistoryFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	rows := make([]map[string]any, 0)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("history line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return rows, nil
}

func ReadArtifacts(runDir string) ([]types.ArtifactRecord, error) {
	raw, err := os.ReadFile(filepath.Join(runDir, ArtifactsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifacts: %w", err)
	}
	var recs []types.ArtifactRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return recs, nil
}

// RunDirs lists run directories under <dir>/runs in name order.
func RunDirs(dir string) ([]string, error) {
	root := filepath.Join(dir, "runs")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListRuns returns all run records under dir, oldest first.
func ListRuns(dir string) ([]types.RunRecord, error) {
	dirs, err := RunDirs(dir)
	if err != nil {
		return nil, err
	}
	recs := make([]types.RunRecord, 0, len(dirs))
	for _, d := range dirs {
		rec, err := ReadRunRecord(d)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return startedAt(recs[i]).Before(startedAt(recs[j])) })
	return recs, nil
}

func startedAt(rec types.RunRecord) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, rec.StartedAt)
	return t
}
