package tracking

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/runtrack/internal/hash"
	"github.com/ogulcanaydogan/runtrack/pkg/types"
)

var (
	ErrInvalidName       = errors.New("invalid name")
	ErrArtifactFinalized = errors.New("artifact already logged")
)

var artifactNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Artifact is a named, typed bundle of files. File contents are digested
// when they are attached.
type Artifact struct {
	Name        string
	Type        string
	Description string
	Metadata    map[string]any

	entries   map[string]types.ArtifactEntry
	sources   map[string]string
	finalized bool
}

func NewArtifact(name, artifactType string) (*Artifact, error) {
	if !artifactNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: artifact name %q may only contain letters, digits, '-', '_' and '.'", ErrInvalidName, name)
	}
	if strings.TrimSpace(artifactType) == "" {
		return nil, fmt.Errorf("artifact %s: type is required", name)
	}
	return &Artifact{
		Name:     name,
		Type:     artifactType,
		Metadata: map[string]any{},
		entries:  map[string]types.ArtifactEntry{},
		sources:  map[string]string{},
	}, nil
}

// AddFile attaches the file at localPath under its base name.
func (a *Artifact) AddFile(localPath string) error {
	return a.AddFileAs(localPath, filepath.Base(localPath))
}

func (a *Artifact) AddFileAs(localPath, name string) error {
	if a.finalized {
		return ErrArtifactFinalized
	}
	name = path.Clean(filepath.ToSlash(name))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
		return fmt.Errorf("%w: entry %q", ErrInvalidName, name)
	}
	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("add file to artifact %s: %w", a.Name, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("add file to artifact %s: %s is a directory", a.Name, localPath)
	}
	digest, size, err := hash.DigestFile(localPath)
	if err != nil {
		return fmt.Errorf("add file to artifact %s: %w", a.Name, err)
	}
	if prev, ok := a.entries[name]; ok && prev.Digest != digest {
		return fmt.Errorf("artifact %s already has a different file at %s", a.Name, name)
	}
	a.entries[name] = types.ArtifactEntry{Path: name, Digest: digest, SizeBytes: size}
	a.sources[name] = localPath
	return nil
}

// AddDir attaches every file under root, placed below prefix.
func (a *Artifact) AddDir(root, prefix string) error {
	_, entries, err := hash.DigestTree(root)
	if err != nil {
		return fmt.Errorf("add dir to artifact %s: %w", a.Name, err)
	}
	for _, e := range entries {
		if err := a.AddFileAs(filepath.Join(root, filepath.FromSlash(e.Path)), path.Join(prefix, e.Path)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Artifact) Len() int { return len(a.entries) }

// Manifest returns the entries sorted by path together with their combined digest.
func (a *Artifact) Manifest() types.ArtifactManifest {
	entries := make([]types.ArtifactEntry, 0, len(a.entries))
	for _, e := range a.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	var meta map[string]any
	if len(a.Metadata) > 0 {
		meta = a.Metadata
	}
	return types.ArtifactManifest{
		Name:     a.Name,
		Type:     a.Type,
		Digest:   hash.DigestEntries(entries),
		Metadata: meta,
		Entries:  entries,
	}
}

func (a *Artifact) sourcesCopy() map[string]string {
	out := make(map[string]string, len(a.sources))
	for k, v := range a.sources {
		out[k] = v
	}
	return out
}
