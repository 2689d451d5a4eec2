package tracking

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

const (
	DefaultDir     = ".runtrack"
	DefaultProject = "uncategorized"

	StoreLocal = "local"
	StoreOCI   = "oci"
	StoreS3    = "s3"
)

// Settings control where and how runs are recorded. Values come from the
// environment, then runtrack.yaml for anything still unset, then defaults.
type Settings struct {
	Dir           string     `env:"RUNTRACK_DIR" yaml:"dir"`
	Project       string     `env:"RUNTRACK_PROJECT" yaml:"project"`
	Entity        string     `env:"RUNTRACK_ENTITY" yaml:"entity"`
	Mode          string     `env:"RUNTRACK_MODE" yaml:"mode"`
	Docker        string     `env:"RUNTRACK_DOCKER" yaml:"docker"`
	JobSource     string     `env:"RUNTRACK_JOB_SOURCE" yaml:"job_source"`
	RunID         string     `env:"RUNTRACK_RUN_ID" yaml:"-"`
	ArtifactStore string     `env:"RUNTRACK_ARTIFACT_STORE" yaml:"artifact_store"`
	OCIRepository string     `env:"RUNTRACK_OCI_REPOSITORY" yaml:"oci_repository"`
	S3            S3Settings `env:", prefix=RUNTRACK_S3_" yaml:"s3"`
}

type S3Settings struct {
	Endpoint  string `env:"ENDPOINT" yaml:"endpoint"`
	Region    string `env:"REGION" yaml:"region"`
	Bucket    string `env:"BUCKET" yaml:"bucket"`
	AccessKey string `env:"ACCESS_KEY" yaml:"-"`
	SecretKey string `env:"SECRET_KEY" yaml:"-"`
	UseSSL    bool   `env:"USE_SSL" yaml:"use_ssl"`
}

// ProjectFile is the runtrack.yaml written by `runtrack init`.
type ProjectFile struct {
	Settings Settings `yaml:"settings"`
}

// LoadSettings reads settings from the process environment and, when it
// exists, the project file at projectPath.
func LoadSettings(ctx context.Context, projectPath string) (Settings, error) {
	return LoadSettingsFrom(ctx, envconfig.OsLookuper(), projectPath)
}

func LoadSettingsFrom(ctx context.Context, lookuper envconfig.Lookuper, projectPath string) (Settings, error) {
	var s Settings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &s, Lookuper: lookuper}); err != nil {
		return Settings{}, fmt.Errorf("process settings env: %w", err)
	}
	if projectPath != "" {
		if _, err := os.Stat(projectPath); err == nil {
			var pf ProjectFile
			if err := LoadYAML(projectPath, &pf); err != nil {
				return Settings{}, err
			}
			s.fillFrom(pf.Settings)
		}
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DefaultSettings returns settings with defaults only, ignoring the environment.
func DefaultSettings() Settings {
	var s Settings
	s.applyDefaults()
	return s
}

func (s *Settings) fillFrom(o Settings) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.Dir, o.Dir)
	fill(&s.Project, o.Project)
	fill(&s.Entity, o.Entity)
	fill(&s.Mode, o.Mode)
	fill(&s.Docker, o.Docker)
	fill(&s.JobSource, o.JobSource)
	fill(&s.ArtifactStore, o.ArtifactStore)
	fill(&s.OCIRepository, o.OCIRepository)
	fill(&s.S3.Endpoint, o.S3.Endpoint)
	fill(&s.S3.Region, o.S3.Region)
	fill(&s.S3.Bucket, o.S3.Bucket)
	if !s.S3.UseSSL {
		s.S3.UseSSL = o.S3.UseSSL
	}
}

func (s *Settings) applyDefaults() {
	if s.Dir == "" {
		s.Dir = DefaultDir
	}
	if s.Project == "" {
		s.Project = DefaultProject
	}
	if s.Mode == "" {
		s.Mode = types.ModeOffline
	}
	if s.ArtifactStore == "" {
		s.ArtifactStore = StoreLocal
	}
}

// Update overrides individual settings by their snake_case key.
func (s *Settings) Update(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(values[k])
		switch k {
		case "dir":
			s.Dir = v
		case "project":
			s.Project = v
		case "entity":
			s.Entity = v
		case "mode":
			s.Mode = v
		case "docker":
			s.Docker = v
		case "job_source":
			s.JobSource = v
		case "run_id":
			s.RunID = v
		case "artifact_store":
			s.ArtifactStore = v
		case "oci_repository":
			s.OCIRepository = v
		default:
			return fmt.Errorf("unknown setting %q", k)
		}
	}
	return s.Validate()
}

func (s Settings) Validate() error {
	switch s.Mode {
	case types.ModeOnline, types.ModeOffline, types.ModeDisabled:
	default:
		return fmt.Errorf("unsupported mode %q", s.Mode)
	}
	switch s.JobSource {
	case "", types.JobSourceImage, types.JobSourceRepo, types.JobSourceArtifact:
	default:
		return fmt.Errorf("unsupported job_source %q", s.JobSource)
	}
	switch s.ArtifactStore {
	case StoreLocal:
	case StoreOCI:
		if s.OCIRepository == "" {
			return fmt.Errorf("artifact_store oci requires oci_repository")
		}
	case StoreS3:
		if s.S3.Bucket == "" {
			return fmt.Errorf("artifact_store s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported artifact_store %q", s.ArtifactStore)
	}
	return nil
}

// LoadYAML decodes the YAML file at path into out.
func LoadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// WriteProjectFile writes s as a runtrack.yaml project file.
func WriteProjectFile(path string, s Settings) error {
	raw, err := yaml.Marshal(ProjectFile{Settings: s})
	if err != nil {
		return fmt.Errorf("marshal project file: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
