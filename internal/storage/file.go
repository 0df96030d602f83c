package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

const fileScheme = "file://"

type FileConfig struct {
	// Directory is the root for keys passed to Put. Defaults to the working
	// directory.
	Directory string
}

type fileStorage struct {
	directory string
}

func NewFileStorage(ctx context.Context, f FileConfig) (Storage, error) {
	directory := f.Directory
	if directory == "" {
		directory = "."
	}

	return &fileStorage{
		directory: filepath.Clean(directory),
	}, nil
}

// Put writes data under the storage directory and returns the file path.
// Keys may contain slashes but must stay inside the directory.
func (f *fileStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", xerrors.Errorf("key %q escapes storage directory %s", key, f.directory)
	}
	path := filepath.Join(f.directory, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", xerrors.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", xerrors.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

// Get reads url as a local path, with or without a file:// prefix. Relative
// paths resolve against the working directory, so Get accepts what Put
// returned.
func (f *fileStorage) Get(ctx context.Context, url string) ([]byte, error) {
	path := strings.TrimPrefix(url, fileScheme)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	return data, nil
}
