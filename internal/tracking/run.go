package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/internal/store"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

var ErrRunFinished = errors.New("run already finished")

var unsafeMediaChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Run is a single tracked execution. Log, LogArtifact and Finish may be called
// from multiple goroutines; Config is not synchronized.
type Run struct {
	client *Client

	mu        sync.Mutex
	record    types.RunRecord
	dir       string
	config    *Config
	summary   map[string]any
	artifacts []types.ArtifactRecord
	step      int64
	started   time.Time
	finished  bool
	disabled  bool
}

func (r *Run) ID() string      { return r.record.RunID }
func (r *Run) Project() string { return r.record.Project }

// Dir is the run directory, empty for disabled runs.
func (r *Run) Dir() string { return r.dir }

func (r *Run) Config() *Config { return r.config }

func (r *Run) Record() types.RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Summary returns the last logged value for each key.
func (r *Run) Summary() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.summary))
	for k, v := range r.summary {
		out[k] = v
	}
	return out
}

// Log appends one history row. Each call advances the step by one.
func (r *Run) Log(ctx context.Context, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	if r.disabled {
		return nil
	}

	for k := range data {
		if k == "" || strings.HasPrefix(k, "_") {
			return fmt.Errorf("%w: metric key %q", ErrInvalidName, k)
		}
	}

	// Images written for this row are removed unless the row is appended.
	var written []string
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, p := range written {
			os.Remove(filepath.Join(r.dir, filepath.FromSlash(p)))
		}
	}()

	row := make(map[string]any, len(data)+3)
	for k, v := range data {
		switch vv := v.(type) {
		case *Image:
			f, err := r.writeImage(k, vv)
			if err != nil {
				return err
			}
			written = append(written, f.Path)
			row[k] = f
		case Image:
			f, err := r.writeImage(k, &vv)
			if err != nil {
				return err
			}
			written = append(written, f.Path)
			row[k] = f
		default:
			row[k] = historyValue(v)
		}
	}
	now := r.client.now().UTC()
	row[types.HistoryStepKey] = r.step
	row[types.HistoryTimestampKey] = float64(now.UnixNano()) / 1e9
	row[types.HistoryRuntimeKey] = now.Sub(r.started).Seconds()

	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode history row: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(r.dir, HistoryFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	committed = true

	for k := range data {
		r.summary[k] = row[k]
	}
	r.step++
	clog.FromContext(ctx).With("run_id", r.record.RunID, "step", r.step-1).Debug("logged history row")
	return nil
}

// historyValue replaces non-finite floats, which JSON cannot carry, with
// the strings "NaN", "Infinity" and "-Infinity".
func historyValue(v any) any {
	switch x := v.(type) {
	case float64:
		return finite(x, v)
	case float32:
		return finite(float64(x), v)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = historyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = historyValue(e)
		}
		return out
	}
	return v
}

func finite(f float64, v any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return v
}

func (r *Run) writeImage(key string, im *Image) (types.ImageFile, error) {
	dir := filepath.Join(r.dir, MediaDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.ImageFile{}, fmt.Errorf("create media dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".image-*.png")
	if err != nil {
		return types.ImageFile{}, fmt.Errorf("create image file: %w", err)
	}
	if err := im.Encode(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return types.ImageFile{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return types.ImageFile{}, fmt.Errorf("close image file: %w", err)
	}
	digest, _, err := hash.DigestFile(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return types.ImageFile{}, err
	}
	name := fmt.Sprintf("%s_%d_%s.png", unsafeMediaChars.ReplaceAllString(key, "_"), r.step, hash.Short(digest, 8))
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return types.ImageFile{}, fmt.Errorf("store image: %w", err)
	}
	return types.ImageFile{
		Type:   types.ImageFileType,
		Path:   filepath.ToSlash(filepath.Join(MediaDir, "images", name)),
		Digest: digest,
		Width:  im.Width(),
		Height: im.Height(),
		Format: "png",
	}, nil
}

// LogArtifact stores a copy of the artifact in the run directory and, in
// online mode, uploads it to the remote store. The artifact cannot be
// modified afterwards.
func (r *Run) LogArtifact(ctx context.Context, a *Artifact) (types.ArtifactRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logArtifactLocked(ctx, a)
}

func (r *Run) logArtifactLocked(ctx context.Context, a *Artifact) (types.ArtifactRecord, error) {
	if r.finished {
		return types.ArtifactRecord{}, ErrRunFinished
	}
	if a == nil {
		return types.ArtifactRecord{}, fmt.Errorf("artifact is nil")
	}
	if a.Len() == 0 {
		return types.ArtifactRecord{}, fmt.Errorf("artifact %s has no files", a.Name)
	}
	manifest := a.Manifest()
	rec := types.ArtifactRecord{Manifest: manifest, LoggedAt: r.client.now().UTC().Format(time.RFC3339Nano)}
	if r.disabled {
		a.finalized = true
		return rec, nil
	}

	upload := store.Upload{RunID: r.record.RunID, Manifest: manifest, Sources: a.sourcesCopy()}
	local, err := store.NewLocalStore(filepath.Join(r.dir, ArtifactsDir)).Put(ctx, upload)
	if err != nil {
		return types.ArtifactRecord{}, fmt.Errorf("log artifact %s: %w", a.Name, err)
	}
	rel, err := filepath.Rel(r.dir, local)
	if err != nil {
		rel = local
	}
	rec.LocalPath = filepath.ToSlash(rel)

	if r.client.remote != nil {
		ref, err := r.client.remote.Put(ctx, upload)
		if err != nil {
			return types.ArtifactRecord{}, fmt.Errorf("upload artifact %s: %w", a.Name, err)
		}
		rec.RemoteRef = ref
	}

	r.artifacts = append(r.artifacts, rec)
	if err := writeJSON(filepath.Join(r.dir, ArtifactsFile), r.artifacts); err != nil {
		return types.ArtifactRecord{}, err
	}
	a.finalized = true
	clog.FromContext(ctx).With(
		"run_id", r.record.RunID,
		"artifact", manifest.Name,
		"type", manifest.Type,
		"digest", manifest.Digest,
		"remote", rec.RemoteRef,
	).Info("logged artifact")
	return rec, nil
}

// SyncConfig persists the current config to config.yaml.
func (r *Run) SyncConfig() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled {
		return nil
	}
	return r.config.writeYAML(filepath.Join(r.dir, ConfigFile))
}

// Finish records the final state of the run. Image-sourced runs also get a
// job artifact so they can be relaunched from their container image.
func (r *Run) Finish(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	log := clog.FromContext(ctx).With("run_id", r.record.RunID)
	if r.disabled {
		r.finished = true
		return nil
	}

	if err := r.logJobLocked(ctx); err != nil {
		return err
	}
	if err := r.config.writeYAML(filepath.Join(r.dir, ConfigFile)); err != nil {
		return err
	}
	digest, err := hash.DigestConfig(r.config.Snapshot())
	if err != nil {
		return fmt.Errorf("digest config: %w", err)
	}

	finished := r.client.now().UTC()
	r.record.State = types.RunStateFinished
	r.record.FinishedAt = finished.Format(time.RFC3339Nano)
	r.record.RuntimeSecs = finished.Sub(r.started).Seconds()
	r.record.ConfigDigest = digest
	if len(r.summary) > 0 {
		r.record.Summary = r.summary
	}
	if err := r.writeRecord(); err != nil {
		return err
	}
	r.finished = true
	log.With("steps", r.step, "artifacts", len(r.artifacts)).Info("run finished")
	return nil
}

func (r *Run) writeRecord() error {
	return writeJSON(filepath.Join(r.dir, RunFile), r.record)
}
