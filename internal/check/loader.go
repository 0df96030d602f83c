package check

import (
	"bytes"
	"context"
	"raster-check/internal/raster"
	"raster-check/internal/storage"

	"golang.org/x/xerrors"
)

// Loader reads rasters from local paths, or from storage for s3:// URLs.
// s3:// URLs are only accepted when Backend is storage.BackendS3.
type Loader struct {
	Storage storage.Storage
	Backend string
}

func (l *Loader) Load(ctx context.Context, path string) (*raster.Image, error) {
	if !storage.IsS3URL(path) {
		return raster.Open(path)
	}

	if l.Backend != storage.BackendS3 || l.Storage == nil {
		backend := l.Backend
		if backend == "" {
			backend = storage.BackendFile
		}
		return nil, &raster.IOError{Path: path, Err: xerrors.Errorf("s3 backend not configured (storage backend is %q)", backend)}
	}
	data, err := l.Storage.Get(ctx, path)
	if err != nil {
		return nil, &raster.IOError{Path: path, Err: err}
	}
	return raster.Decode(bytes.NewReader(data), path)
}
