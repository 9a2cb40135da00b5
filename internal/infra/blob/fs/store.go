// Package fs stores blobs as files under a root directory. Each blob has a
// JSON sidecar (key + core.SidecarSuffix) holding its content type, user
// metadata and sha256 etag. A blob is visible once its sidecar exists.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"docrepo/internal/blob/core"
)

const (
	defaultRoot = "./blobdata"
	tempPrefix  = ".tmp-"
)

// Store is a core.Store rooted at a directory.
type Store struct {
	root string
}

// New returns a store rooted at root (./blobdata when empty), creating the
// directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory blobs live under.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	Created     time.Time         `json:"created"`
}

func (c sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         c.Size,
		ContentType:  c.ContentType,
		ETag:         c.ETag,
		Metadata:     c.Metadata,
		LastModified: c.Created,
	}
}

func (s *Store) path(key string) (string, error) {
	if err := core.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put copies r into a temp file next to the target and hard-links it into
// place, so two writers racing on one key cannot both succeed.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	path, err := s.path(key)
	if err != nil {
		return core.Info{}, fmt.Errorf("put: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Link(tmp.Name(), path); errors.Is(err, iofs.ErrExist) {
		return core.Info{}, fmt.Errorf("put %s: %w", key, core.ErrExists)
	} else if err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}

	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		Created:     time.Now().UTC(),
	}
	if err := writeSidecar(path+core.SidecarSuffix, meta); err != nil {
		_ = os.Remove(path)
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	return meta.info(key), nil
}

// Get implements core.Store.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("get: %w", err)
	}
	meta, err := readSidecar(path + core.SidecarSuffix)
	if err != nil {
		return core.Info{}, nil, notFound("get", key, err)
	}
	f, err := os.Open(path) // #nosec G304 -- key validated above
	if err != nil {
		return core.Info{}, nil, notFound("get", key, err)
	}
	return meta.info(key), f, nil
}

// Head implements core.Store.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	path, err := s.path(key)
	if err != nil {
		return core.Info{}, fmt.Errorf("head: %w", err)
	}
	meta, err := readSidecar(path + core.SidecarSuffix)
	if err != nil {
		return core.Info{}, notFound("head", key, err)
	}
	return meta.info(key), nil
}

// Delete removes the sidecar first so the blob disappears from List before
// its body goes.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	if err := os.Remove(path + core.SidecarSuffix); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	err = os.Remove(path)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return true, nil
}

// List walks the root for sidecars whose key starts with prefix and returns
// them ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := iofs.WalkDir(os.DirFS(s.root), ".", func(name string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) || !strings.HasSuffix(name, core.SidecarSuffix) {
			return nil
		}
		key := strings.TrimSuffix(name, core.SidecarSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readSidecar(filepath.Join(s.root, filepath.FromSlash(name)))
		if err != nil {
			return err
		}
		infos = append(infos, meta.info(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// writeSidecar writes through a temp file so readers never see a partial
// sidecar.
func writeSidecar(path string, meta sidecar) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), tempPrefix+filepath.Base(path))
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readSidecar(path string) (sidecar, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path derived from a validated key
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(b, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return meta, nil
}

func notFound(op, key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, key, core.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
