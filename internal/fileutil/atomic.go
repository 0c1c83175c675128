// Package fileutil provides filesystem helpers for durable state files.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DirPermissions is the mode used for directories holding state files.
const DirPermissions = 0o750

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// WriteAtomic writes data to path by writing a temp file in the same
// directory, fsyncing it and renaming it over path. Missing parent
// directories are created.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return ErrEmptyPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmpFile.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmpFile.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpPath, path); err != nil { //nolint:gosec // G703: path comes from config
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// Best effort directory sync for rename durability.
	if dirFile, err := os.Open(dir); err == nil { //nolint:gosec // G304: dir is derived from path
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}
	return nil
}

// ReadIfExists returns the file contents, or ok=false when path does not exist.
func ReadIfExists(path string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}

// Quarantine moves an unreadable file aside to <path>.corrupt.<nanos> so a
// fresh one can be written, and returns the new location.
func Quarantine(path string, now time.Time) (string, error) {
	corruptPath := fmt.Sprintf("%s.corrupt.%d", path, now.UTC().UnixNano())
	if err := os.Rename(path, corruptPath); err != nil {
		return "", fmt.Errorf("moving %s aside: %w", path, err)
	}
	return corruptPath, nil
}
