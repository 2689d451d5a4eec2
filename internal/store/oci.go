package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"

	rtypes "github.com/ogulcanaydogan/runtrack/pkg/types"
)

const (
	manifestMediaType = types.MediaType("application/vnd.runtrack.artifact.manifest.v1+json")
	fileMediaType     = types.MediaType("application/vnd.runtrack.artifact.file.v1")
	titleAnnotation   = "org.opencontainers.image.title"
	runAnnotation     = "dev.runtrack.run-id"
)

// OCIStore pushes each artifact version as an OCI image: one manifest layer
// followed by one layer per file, titled with the entry path.
type OCIStore struct {
	Repository string
	Keychain   authn.Keychain
}

func NewOCIStore(repository string) *OCIStore {
	return &OCIStore{Repository: repository, Keychain: authn.DefaultKeychain}
}

func (s *OCIStore) Put(ctx context.Context, u Upload) (string, error) {
	if err := u.validate(); err != nil {
		return "", err
	}
	ociRef := fmt.Sprintf("%s:%s", strings.TrimSuffix(s.Repository, "/"), VersionTag(u.Manifest.Name, u.Manifest.Digest))
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry("ghcr.io"))
	if err != nil {
		return "", fmt.Errorf("parse oci ref: %w", err)
	}

	rawManifest, err := json.Marshal(u.Manifest)
	if err != nil {
		return "", fmt.Errorf("marshal artifact manifest: %w", err)
	}
	adds := []mutate.Addendum{{
		Layer:       static.NewLayer(rawManifest, manifestMediaType),
		Annotations: map[string]string{titleAnnotation: "manifest.json"},
	}}
	for _, e := range u.Manifest.Entries {
		raw, err := os.ReadFile(u.Sources[e.Path])
		if err != nil {
			return "", fmt.Errorf("read artifact file %s: %w", e.Path, err)
		}
		adds = append(adds, mutate.Addendum{
			Layer:       static.NewLayer(raw, fileMediaType),
			Annotations: map[string]string{titleAnnotation: e.Path},
		})
	}
	img, err := mutate.Append(empty.Image, adds...)
	if err != nil {
		return "", fmt.Errorf("append layers: %w", err)
	}
	img = mutate.MediaType(img, types.OCIManifestSchema1)
	if u.RunID != "" {
		img = mutate.Annotations(img, map[string]string{runAnnotation: u.RunID}).(v1.Image)
	}

	if err := remote.Write(ref, img, s.remoteOptions(ctx)...); err != nil {
		return "", fmt.Errorf("push oci artifact: %w", err)
	}
	d, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("compute image digest: %w", err)
	}
	return ref.Context().Digest(d.String()).String(), nil
}

func (s *OCIStore) remoteOptions(ctx context.Context) []remote.Option {
	kc := s.Keychain
	if kc == nil {
		kc = authn.DefaultKeychain
	}
	return []remote.Option{remote.WithContext(ctx), remote.WithAuthFromKeychain(kc)}
}

// PullOCI downloads an artifact pushed by OCIStore into outDir and returns its
// manifest. Entry paths are restored relative to outDir.
func PullOCI(ctx context.Context, ociRef, outDir string) (rtypes.ArtifactManifest, error) {
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry("ghcr.io"))
	if err != nil {
		return rtypes.ArtifactManifest{}, fmt.Errorf("parse oci ref: %w", err)
	}
	img, err := remote.Image(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return rtypes.ArtifactManifest{}, fmt.Errorf("pull oci artifact: %w", err)
	}
	m, err := img.Manifest()
	if err != nil {
		return rtypes.ArtifactManifest{}, fmt.Errorf("read image manifest: %w", err)
	}
	if len(m.Layers) == 0 || m.Layers[0].MediaType != manifestMediaType {
		return rtypes.ArtifactManifest{}, fmt.Errorf("oci artifact %s is not a runtrack artifact", ociRef)
	}

	var manifest rtypes.ArtifactManifest
	for i, desc := range m.Layers {
		raw, err := readLayer(img, desc.Digest)
		if err != nil {
			return rtypes.ArtifactManifest{}, err
		}
		if i == 0 {
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return rtypes.ArtifactManifest{}, fmt.Errorf("decode artifact manifest: %w", err)
			}
			continue
		}
		title := desc.Annotations[titleAnnotation]
		if err := checkEntryPath(title); err != nil {
			return rtypes.ArtifactManifest{}, fmt.Errorf("layer %d: %w", i, err)
		}
		target := filepath.Join(outDir, filepath.FromSlash(title))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return rtypes.ArtifactManifest{}, fmt.Errorf("create output dir: %w", err)
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return rtypes.ArtifactManifest{}, fmt.Errorf("write pulled file: %w", err)
		}
	}
	return manifest, nil
}

func readLayer(img v1.Image, digest v1.Hash) ([]byte, error) {
	layer, err := img.LayerByDigest(digest)
	if err != nil {
		return nil, fmt.Errorf("read layer %s: %w", digest, err)
	}
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("read layer payload: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read layer bytes: %w", err)
	}
	return raw, nil
}
