package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage persists produced audio. The pipeline addresses objects by
// relative path only; it never depends on a particular backend beyond
// upload/delete/read.
type Storage interface {
	// Upload writes content at path and returns a public reference.
	Upload(ctx context.Context, path string, content []byte) (string, error)
	// Delete removes the object at path. Deleting a missing object is
	// not an error; cleanup must be idempotent.
	Delete(ctx context.Context, path string) error
	// Read returns the object at path.
	Read(ctx context.Context, path string) ([]byte, error)
}

// Local stores objects on the local filesystem under a root directory and
// serves them through the HTTP audio handler.
type Local struct {
	root    string
	baseURL string
}

func NewLocal(root, baseURL string) *Local {
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *Local) Upload(ctx context.Context, path string, content []byte) (string, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage dir: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return l.baseURL + "/" + path, nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	full, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// fullPath refuses paths that would escape the storage root.
func (l *Local) fullPath(path string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid storage path: %s", path)
	}
	return full, nil
}
