// Package bucket is a filesystem-backed object store façade. The
// updater reads the arriving recall CSV from an inbox bucket and
// archives the processed file into an assets bucket; both are plain
// directories so the deployment can mount whatever durable volume it
// likes underneath.
//
// Keys may contain forward slashes ("documents/recalls.csv"); they are
// mapped to subdirectories. Keys attempting to escape the bucket root
// are rejected.
package bucket

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Bucket stores objects under a root directory.
type Bucket struct{ root string }

// New returns a Bucket rooted at dir. The directory is created on first
// write, not here, so read-only consumers can point at paths they do
// not own.
func New(dir string) *Bucket { return &Bucket{root: dir} }

// path resolves key inside the bucket root, rejecting traversal.
func (b *Bucket) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("bucket: empty key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("bucket: key %q escapes bucket root", key)
	}
	return filepath.Join(b.root, clean), nil
}

// Get reads the object stored under key. A missing object surfaces as
// an error wrapping os.ErrNotExist.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("bucket: get %s: %w", key, err)
	}
	return data, nil
}

// Put writes data under key, creating parent directories as needed.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("bucket: put %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("bucket: put %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is stored under key.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("bucket: stat %s: %w", key, err)
	}
	return true, nil
}
