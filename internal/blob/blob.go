// Package blob stores published records and run archives in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Driver identifies a blob storage backend
type Driver string

const (
	DriverS3         Driver = "s3"
	DriverFilesystem Driver = "fs"
	DriverMemory     Driver = "memory"
)

// ErrNotFound is returned by Get for a missing object
var ErrNotFound = errors.New("blob: not found")

// Store is a minimal multi-bucket object store
type Store interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Driver() Driver
}

// Open creates the store selected by cfg.Driver
func Open(ctx context.Context, cfg model.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverS3, "":
		return NewS3Store(ctx, cfg)
	case DriverFilesystem:
		return NewFSStore(cfg.Root)
	case DriverMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}
