// Package fileutil provides the filesystem primitives used by wallet storage:
// crash-safe replacement of small state files and private directories.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PrivateFileMode is used for every file holding wallet state.
	PrivateFileMode os.FileMode = 0o600

	// PrivateDirMode is used for wallet directories.
	PrivateDirMode os.FileMode = 0o700
)

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// WriteAtomic replaces path with data. The bytes land in a temp file next to
// path, are fsynced, then renamed over the target, so readers observe either
// the old or the new content.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return ErrEmptyPath
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil { //nolint:gosec // G703: path is built by callers from validated names
		_ = os.Remove(tmpPath)
		committed = true
		return fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// EnsurePrivateDir creates dir (and parents) with PrivateDirMode.
func EnsurePrivateDir(dir string) error {
	if dir == "" {
		return ErrEmptyPath
	}
	if err := os.MkdirAll(dir, PrivateDirMode); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// RemoveIfExists deletes path, treating a missing path as success.
// Directories are removed recursively.
func RemoveIfExists(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// syncDir makes a completed rename durable. Best effort.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil { //nolint:gosec // G304: dir is derived from a validated path
		_ = d.Sync()
		_ = d.Close()
	}
}
