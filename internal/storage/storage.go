package storage

import (
	"context"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

const (
	BackendFile = "file"
	BackendS3   = "s3"
)

type Config struct {
	Backend string
	File    FileConfig
	S3      S3Config
}

// New returns the backend named by c.Backend.
func New(ctx context.Context, c Config) (Storage, error) {
	switch c.Backend {
	case BackendFile, "":
		return NewFileStorage(ctx, c.File)
	case BackendS3:
		return NewS3Storage(ctx, c.S3)
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
}
