package logstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// FileStore keeps artifacts as <dir>/<run id>.log
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) path(runID string) (string, error) {
	name, err := artifactName(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.Dir, name), nil
}

func (f *FileStore) Read(_ context.Context, runID string) (string, error) {
	path, err := f.path(runID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *FileStore) Writer(_ context.Context, runID string) (io.WriteCloser, error) {
	path, err := f.path(runID)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
