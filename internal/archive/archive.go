// Package archive stores run artifacts (normalized transfer lists, worklists
// and device command logs) behind a single immutable Store interface.
// Only this package imports the infra drivers.
package archive

import (
	"bytes"
	"context"
	"dispensecore/internal/archive/core"
	infraFS "dispensecore/internal/infra/archive/fs"
	infraMemory "dispensecore/internal/infra/archive/memory"
	infraS3 "dispensecore/internal/infra/archive/s3"
	"fmt"
	"io"
	"path"
	"strings"
)

type (
	// Driver identifies an archive backend driver.
	Driver = core.Driver
	// PutOptions configures an artifact write.
	PutOptions = core.PutOptions
	// Info describes stored artifact metadata.
	Info = core.Info
	// Store is the interface for archive backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned when writing a key that is already archived.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when reading a missing key.
	ErrNotFound = core.ErrNotFound
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Config selects and parameterises a backend.
type Config struct {
	Driver string
	Root   string // fs root directory
	S3     S3Config
}

// Open returns the Store described by cfg. An empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return infraFS.New(cfg.Root)
	case DriverMemory:
		return infraMemory.New(), nil
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store { return infraMemory.New() }

// NewMockS3ForTests exposes the S3 driver over an in-memory HTTP transport
// for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests(0) }

// RunKey builds the key of a run artifact: runs/<id>/<name>.
func RunKey(runID, name string) string {
	return path.Join("runs", runID, name)
}

// PutBytes archives data under key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string, md map[string]string) (Info, error) {
	return s.Put(ctx, key, bytes.NewReader(data), PutOptions{ContentType: contentType, Metadata: md})
}

// ReadAll fetches the full content of key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, Info, error) {
	info, rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, Info{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, Info{}, fmt.Errorf("read %s: %w", key, err)
	}
	return data, info, nil
}
