// Package backup captures and restores pristine baseline copies of files
// inside a single SDK instance directory. The baseline of a file is its
// content as originally shipped by the SDK; it is captured once and never
// overwritten by later mutations, so every pipeline run can start from a
// known-good state.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// shadowSuffix derives the backup path for a file. The shadow copy lives
// next to its target so restoration works even without any state database.
const shadowSuffix = ".original"

// BackupError reports an I/O failure or missing baseline while capturing or
// restoring a file. Backup errors abort the current stage.
type BackupError struct {
	Op   string // "ensure" or "restore"
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// Store manages baselines for one SDK instance directory.
type Store struct {
	root string
}

// NewStore creates a store scoped to the given SDK instance directory.
func NewStore(instanceRoot string) *Store {
	return &Store{root: instanceRoot}
}

// Root returns the SDK instance directory this store is scoped to.
func (s *Store) Root() string { return s.root }

// Resolve joins a path relative to the SDK instance root. Absolute paths
// pass through unchanged.
func (s *Store) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

// ShadowPath returns the backup location for the given file.
func (s *Store) ShadowPath(path string) string {
	return s.Resolve(path) + shadowSuffix
}

// HasBaseline reports whether a baseline has been captured for path.
func (s *Store) HasBaseline(path string) bool {
	_, err := os.Stat(s.ShadowPath(path))
	return err == nil
}

// EnsureBaseline captures the current content of path as its baseline. It is
// idempotent: once an entry exists it is never overwritten, even if the live
// file has since been modified by a patch.
func (s *Store) EnsureBaseline(path string) error {
	live := s.Resolve(path)
	shadow := s.ShadowPath(path)

	if _, err := os.Stat(shadow); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return &BackupError{Op: "ensure", Path: path, Err: err}
	}

	if err := copyFile(live, shadow); err != nil {
		return &BackupError{Op: "ensure", Path: path, Err: err}
	}
	return nil
}

// Restore overwrites the live file with its baseline content. It fails when
// no baseline exists yet; callers must EnsureBaseline first.
func (s *Store) Restore(path string) error {
	live := s.Resolve(path)
	shadow := s.ShadowPath(path)

	if _, err := os.Stat(shadow); err != nil {
		if os.IsNotExist(err) {
			return &BackupError{Op: "restore", Path: path, Err: fmt.Errorf("no baseline captured")}
		}
		return &BackupError{Op: "restore", Path: path, Err: err}
	}

	if err := copyFile(shadow, live); err != nil {
		return &BackupError{Op: "restore", Path: path, Err: err}
	}
	return nil
}

// copyFile copies src to dst byte-exactly, preserving the source mode. The
// write goes through a temporary file and rename so a crash cannot leave a
// truncated copy behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
