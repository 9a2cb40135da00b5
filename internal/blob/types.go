// Package blob is the entry point to archive storage. It re-exports the core
// abstractions and is the only package allowed to import the infra backends.
package blob

import (
	"docrepo/internal/blob/core"
)

// Aliases so callers never import blob/core directly.
type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists     = core.ErrExists
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey

	// ValidateKey reports whether key is usable on every driver.
	ValidateKey = core.ValidateKey
)
