// Package atomicfile replaces files so that readers and a rebooted process
// see either the old content or the new content, never a partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes data to a temporary file next to path, fsyncs it, renames
// it into place and fsyncs the parent directory. The parent directory must
// already exist.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming file into place: %w", err)
	}

	return SyncDir(filepath.Dir(path))
}

// SyncDir fsyncs a directory so a preceding rename survives power loss.
// Platforms that cannot open directories are ignored.
func SyncDir(dir string) error {
	parentDirectory, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer parentDirectory.Close()
	parentDirectory.Sync()
	return nil
}
