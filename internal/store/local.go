package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore copies artifact files under Dir/<name>-<digest12>/.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

func (s *LocalStore) Put(_ context.Context, u Upload) (string, error) {
	if err := u.validate(); err != nil {
		return "", err
	}
	dst := filepath.Join(s.Dir, VersionTag(u.Manifest.Name, u.Manifest.Digest))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	for _, e := range u.Manifest.Entries {
		target := filepath.Join(dst, filepath.FromSlash(e.Path))
		if err := copyFile(u.Sources[e.Path], target); err != nil {
			return "", fmt.Errorf("store %s/%s: %w", u.Manifest.Name, e.Path, err)
		}
	}
	return dst, nil
}

func copyFile(srcPath, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
