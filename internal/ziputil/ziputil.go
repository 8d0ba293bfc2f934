// Package ziputil rewrites members of an existing zip archive in place.
// The archive/zip format cannot update entries, so replacement rebuilds the
// archive into a temporary file and renames it over the original only after
// every member has been written.
package ziputil

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadMember returns the content of a single archive member.
func ReadMember(zipPath, name string) ([]byte, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("member %s not found in %s", name, zipPath)
}

// ListMembers returns the names of all archive members.
func ListMembers(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// CommonPrefix returns the longest common leading string of the member
// names, which for packaged artifacts is the top-level directory.
func CommonPrefix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	prefix := names[0]
	for _, name := range names[1:] {
		for !strings.HasPrefix(name, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// ReplaceMembers rebuilds the archive with the given members replaced by new
// content. Unlisted members are copied through unchanged. The original file
// is swapped atomically once the rebuild completes.
func ReplaceMembers(zipPath string, replacements map[string][]byte) error {
	if len(replacements) == 0 {
		return nil
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(zipPath), ".rebuild-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath) // no-op after successful rename
	}()

	w := zip.NewWriter(tmp)
	for _, f := range r.File {
		if err := copyOrReplace(w, f, replacements); err != nil {
			_ = w.Close()
			_ = tmp.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}

	return os.Rename(tmpPath, zipPath)
}

func copyOrReplace(w *zip.Writer, f *zip.File, replacements map[string][]byte) error {
	header := f.FileHeader
	fw, err := w.CreateHeader(&header)
	if err != nil {
		return fmt.Errorf("write header %s: %w", f.Name, err)
	}

	if data, ok := replacements[f.Name]; ok {
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write member %s: %w", f.Name, err)
		}
		return nil
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("copy member %s: %w", f.Name, err)
	}
	return nil
}
