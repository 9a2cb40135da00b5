// Package core defines the object storage archives are written to. Keys are
// slash separated relative paths and Put never overwrites an existing blob.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Driver names a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3" // AWS S3 or any compatible endpoint such as MinIO
	DriverMemory     Driver = "memory"
)

// SidecarSuffix is reserved for the filesystem driver's metadata files, so no
// key may end with it on any driver.
const SidecarSuffix = ".meta"

// PutOptions carries what is stored alongside the blob body.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob. ETag is backend specific and only comparable
// within one driver.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is implemented by every blob driver. Get returns a body the caller
// must close. Delete reports whether the key existed.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	ErrExists     = errors.New("blob already exists")
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// ValidateKey applies the key rules shared by all drivers: non-empty,
// relative, forward slashes only, no empty, "." or ".." segments, and not
// ending in SidecarSuffix.
func ValidateKey(key string) error {
	reason := ""
	switch {
	case strings.TrimSpace(key) == "":
		reason = "empty"
	case strings.HasPrefix(key, "/"):
		reason = "absolute"
	case strings.Contains(key, `\`):
		reason = "backslash"
	case strings.HasSuffix(key, SidecarSuffix):
		reason = "reserved suffix " + SidecarSuffix
	default:
		for _, seg := range strings.Split(key, "/") {
			if seg == "" || seg == "." || seg == ".." {
				reason = fmt.Sprintf("segment %q", seg)
				break
			}
		}
	}
	if reason != "" {
		return fmt.Errorf("%w %q: %s", ErrInvalidKey, key, reason)
	}
	return nil
}
