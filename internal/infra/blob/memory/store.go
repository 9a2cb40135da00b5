// Package memory keeps blobs in process memory. Archives written here vanish
// with the process, which makes it the driver of choice in tests.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"docrepo/internal/blob/core"
)

// object bodies are never modified after Put, so readers share them.
type object struct {
	info core.Info
	body []byte
}

// Store is a core.Store over a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty store.
func New() *Store { return &Store{objects: make(map[string]object)} }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put implements core.Store.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateKey(key); err != nil {
		return core.Info{}, fmt.Errorf("put: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(body)
	info := core.Info{
		Key:          key,
		Size:         int64(len(body)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.objects[key]; taken {
		return core.Info{}, fmt.Errorf("put %s: %w", key, core.ErrExists)
	}
	s.objects[key] = object{info: info, body: body}
	return snapshot(info), nil
}

// Get implements core.Store.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup("get", key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return snapshot(obj.info), io.NopCloser(bytes.NewReader(obj.body)), nil
}

// Head implements core.Store.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup("head", key)
	if err != nil {
		return core.Info{}, err
	}
	return snapshot(obj.info), nil
}

// Delete implements core.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	if err := core.ValidateKey(key); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.objects[key]
	delete(s.objects, key)
	return existed, nil
}

// List implements core.Store; results are ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []core.Info
	for _, key := range slices.Sorted(maps.Keys(s.objects)) {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, snapshot(s.objects[key].info))
		}
	}
	return infos, nil
}

func (s *Store) lookup(op, key string) (object, error) {
	if err := core.ValidateKey(key); err != nil {
		return object{}, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return object{}, fmt.Errorf("%s %s: %w", op, key, core.ErrNotFound)
	}
	return obj, nil
}

// snapshot detaches the metadata map from the stored copy.
func snapshot(info core.Info) core.Info {
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
