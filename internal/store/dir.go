package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultNamespace is used when a caller does not name one.
	DefaultNamespace = "default"

	fileExt = ".bbolt"
)

// ErrInvalidNamespace is returned for namespaces that cannot be used as a file name.
var ErrInvalidNamespace = errors.New("store: invalid namespace")

// ResolveDir returns directory when its parent exists, otherwise the
// deterministic fallback for namespace under the platform temp directory.
func ResolveDir(namespace, directory string) string {
	if directory != "" {
		if _, err := os.Stat(filepath.Dir(filepath.Clean(directory))); err == nil {
			return directory
		}
	}
	return DefaultDir(namespace)
}

// DefaultDir is <tmp>/cache/<namespace>.
func DefaultDir(namespace string) string {
	return filepath.Join(os.TempDir(), "cache", namespace)
}

// FilePath returns the bolt file backing namespace inside directory.
func FilePath(namespace, directory string) string {
	p := filepath.Join(directory, namespace+fileExt)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func validateNamespace(namespace string) error {
	if namespace == "" || namespace == "." || namespace == ".." ||
		strings.ContainsAny(namespace, `/\`) || strings.ContainsRune(namespace, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return nil
}

// ClearNamespace deletes the persisted state of one namespace. A handle that
// is currently loaded is destroyed in place so its holders see an empty store.
func ClearNamespace(namespace, directory string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	path := FilePath(namespace, directory)

	registryMu.Lock()
	s := registry[path]
	registryMu.Unlock()
	if s != nil {
		// A Close racing with the lookup leaves a closed handle; the file
		// is then removed directly.
		if err := s.Destroy(); !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return removeFile(path)
}

// ClearAll deletes every namespace persisted in directory.
func ClearAll(directory string) error {
	matches, err := filepath.Glob(filepath.Join(directory, "*"+fileExt))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		namespace := strings.TrimSuffix(filepath.Base(m), fileExt)
		if err := ClearNamespace(namespace, directory); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}
