package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// objectsDir holds single-segment keys.
	objectsDir = "objects"
	tmpPrefix  = ".tmp-"
)

// Filesystem implements Backend using one file per key under a root
// directory. Key segments separated by ':' become path segments, so
// "chunk:<digest>:3" is stored at chunk/<digest>/3 and a bare digest at
// objects/<digest>. Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a new filesystem backend rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (f *Filesystem) Root() string {
	return f.root
}

// Get reads the file stored for key.
func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Put stores value at key using an atomic write.
func (f *Filesystem) Put(_ context.Context, key string, value []byte) error {
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Delete removes the file stored for key.
func (f *Filesystem) Delete(_ context.Context, key string) error {
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (f *Filesystem) Has(_ context.Context, key string) (bool, error) {
	path, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// List returns all keys with the given prefix in ascending order.
func (f *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key, ok := pathToKey(filepath.ToSlash(rel))
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// keyToPath converts a key to a filesystem path.
func (f *Filesystem) keyToPath(key string) (string, error) {
	segments := strings.Split(key, ":")
	for _, s := range segments {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.HasPrefix(s, tmpPrefix) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if len(segments) == 1 {
		segments = []string{objectsDir, key}
	} else if segments[0] == objectsDir {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(append([]string{f.root}, segments...)...), nil
}

// pathToKey is the inverse of keyToPath for a slash-separated relative path.
func pathToKey(rel string) (string, bool) {
	parts := strings.Split(rel, "/")
	if parts[0] == objectsDir {
		if len(parts) != 2 {
			return "", false
		}
		return parts[1], true
	}
	if len(parts) < 2 {
		return "", false
	}
	return strings.Join(parts, ":"), true
}

// Compile-time interface checks
var (
	_ Backend = (*Filesystem)(nil)
	_ Lister  = (*Filesystem)(nil)
)
