// Package storage stages local media files at publicly reachable URLs for
// providers whose APIs take URLs instead of bytes.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store is the temporary-media storage capability the media resolver needs.
type Store interface {
	// PutFileAs copies a local file into storage under dir/name with the
	// given visibility and returns the stored object key.
	PutFileAs(ctx context.Context, dir, localPath, name, visibility string) (string, error)

	// URL returns the address of a stored object. It may be relative; the
	// caller absolutizes against the configured public base URL.
	URL(key string) (string, error)

	// Delete removes a stored object.
	Delete(ctx context.Context, key string) error
}

// Local stores objects under a base directory and serves them from a public
// base URL. Suited to single-host deployments and tests.
type Local struct {
	BaseDir string
	BaseURL string
}

// NewLocal returns a Local store rooted at baseDir.
func NewLocal(baseDir, baseURL string) *Local {
	return &Local{BaseDir: baseDir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (l *Local) PutFileAs(_ context.Context, dir, localPath, name, _ string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	key := path.Join(dir, name)
	destPath := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("copy to storage: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("close %s: %w", destPath, err)
	}
	return key, nil
}

func (l *Local) URL(key string) (string, error) {
	escaped := (&url.URL{Path: "/" + strings.TrimLeft(key, "/")}).EscapedPath()
	if l.BaseURL == "" {
		return escaped, nil
	}
	return l.BaseURL + escaped, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	destPath := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", destPath, err)
	}
	return nil
}
