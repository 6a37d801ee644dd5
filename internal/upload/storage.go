package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
)

// Storage receives finished uploads. Store consumes r (size bytes) under key
// and returns the location recorded on the produced item.
type Storage interface {
	Store(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

// objectKey builds "<kind>/<scopeId>/<sessionId><ext>".
func objectKey(s Session) string {
	return path.Join(string(s.Kind), s.ScopeID, string(s.ID)+filepath.Ext(s.FileName))
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ErrUnsafeKey is returned by FileStorage for keys that would resolve outside
// its base directory.
var ErrUnsafeKey = errors.New("object key escapes storage directory")

// FileStorage writes objects below a base directory.
type FileStorage struct {
	dir string
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

// Store implements Storage.Store. The object appears under its final name
// only once fully written.
func (f *FileStorage) Store(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	dst := filepath.Join(f.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if size > 0 && n != size {
		return "", fmt.Errorf("write object: wrote %d of %d bytes", n, size)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("publish object: %w", err)
	}
	return dst, nil
}
