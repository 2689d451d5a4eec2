// Package tracking records runs on the local filesystem: configuration,
// metric history, images and artifacts, with optional remote artifact upload.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/ogulcanaydogan/runtrack/internal/store"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

const (
	RunFile       = "run.json"
	ConfigFile    = "config.yaml"
	HistoryFile   = "history.jsonl"
	ArtifactsFile = "artifacts.json"
	MediaDir      = "media"
	ArtifactsDir  = "artifacts"

	generatorName    = "runtrack"
	generatorVersion = "0.1.0"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// InitOptions describe a new run. Zero values fall back to the client settings.
type InitOptions struct {
	Project  string
	Entity   string
	Name     string
	Notes    string
	Group    string
	JobType  string
	Tags     []string
	Config   map[string]any
	ID       string
	Settings *Settings
}

type Client struct {
	settings Settings
	remote   store.Store
	now      func() time.Time
}

type ClientOption func(*Client)

// WithRemoteStore replaces the remote artifact store built from settings.
func WithRemoteStore(s store.Store) ClientOption {
	return func(c *Client) { c.remote = s }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(s Settings, opts ...ClientOption) (*Client, error) {
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := &Client{settings: s, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.remote == nil && s.Mode == types.ModeOnline {
		remote, err := remoteStore(s)
		if err != nil {
			return nil, err
		}
		c.remote = remote
	}
	return c, nil
}

func remoteStore(s Settings) (store.Store, error) {
	switch s.ArtifactStore {
	case StoreOCI:
		return store.NewOCIStore(s.OCIRepository), nil
	case StoreS3:
		return store.NewS3Store(store.S3Config{
			Endpoint:  s.S3.Endpoint,
			Region:    s.S3.Region,
			AccessKey: s.S3.AccessKey,
			SecretKey: s.S3.SecretKey,
			Bucket:    s.S3.Bucket,
			UseSSL:    s.S3.UseSSL,
		})
	default:
		return nil, nil
	}
}

func (c *Client) Settings() Settings { return c.settings }

// Init starts a new run. Each call creates exactly one run directory under
// <dir>/runs/<id>; reusing an existing id is an error.
func (c *Client) Init(ctx context.Context, opts InitOptions) (*Run, error) {
	if opts.Settings != nil {
		settings := *opts.Settings
		settings.applyDefaults()
		derived, err := NewClient(settings, WithClock(c.now))
		if err != nil {
			return nil, err
		}
		if derived.remote == nil && settings.Mode == types.ModeOnline {
			derived.remote = c.remote
		}
		opts.Settings = nil
		return derived.Init(ctx, opts)
	}

	s := c.settings
	id := firstNonEmpty(opts.ID, s.RunID, uuid.NewString())
	if !runIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: run id %q", ErrInvalidName, id)
	}
	started := c.now().UTC()
	record := types.RunRecord{
		SchemaVersion: types.SchemaVersion,
		RunID:         id,
		Project:       firstNonEmpty(opts.Project, s.Project),
		Entity:        firstNonEmpty(opts.Entity, s.Entity),
		Name:          opts.Name,
		Notes:         opts.Notes,
		Group:         opts.Group,
		JobType:       opts.JobType,
		Tags:          opts.Tags,
		State:         types.RunStateRunning,
		Mode:          s.Mode,
		StartedAt:     started.Format(time.RFC3339Nano),
		Generator: types.Generator{
			Name:    generatorName,
			Version: generatorVersion,
			GitSHA:  readGitSHA(),
		},
	}
	run := &Run{
		client:  c,
		record:  record,
		config:  NewConfig(opts.Config),
		summary: map[string]any{},
		started: started,
	}

	log := clog.FromContext(ctx).With("run_id", id, "project", record.Project)
	if s.Mode == types.ModeDisabled {
		run.disabled = true
		log.Debug("tracking disabled, run is a no-op")
		return run, nil
	}

	run.dir = filepath.Join(s.Dir, "runs", id)
	if _, err := os.Stat(run.dir); err == nil {
		return nil, fmt.Errorf("run %s already exists in %s", id, s.Dir)
	}
	if err := os.MkdirAll(run.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := run.config.writeYAML(filepath.Join(run.dir, ConfigFile)); err != nil {
		return nil, err
	}
	if err := run.writeRecord(); err != nil {
		return nil, err
	}
	log.With("dir", run.dir).Info("run started")
	return run, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readGitSHA() string {
	if v := os.Getenv("GITHUB_SHA"); v != "" {
		return v
	}
	return "local"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
