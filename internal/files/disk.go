package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStorage keeps uploads as flat files under a single directory.
// Handles are bare filenames; path traversal in the input name is stripped.
type DiskStorage struct {
	dir string
}

// NewDiskStorage creates the uploads directory if needed.
func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

// Dir returns the uploads directory.
func (d *DiskStorage) Dir() string {
	return d.dir
}

// Store writes content under the sanitized base name and returns it as the handle.
// Storing the same name again overwrites the previous content.
func (d *DiskStorage) Store(filename string, content []byte) (string, error) {
	name := sanitize(filename)
	if name == "" {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}
	if err := os.WriteFile(filepath.Join(d.dir, name), content, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return name, nil
}

// Read returns the stored bytes for handle.
func (d *DiskStorage) Read(handle string) ([]byte, error) {
	name := sanitize(handle)
	if name == "" {
		return nil, fmt.Errorf("invalid handle: %q", handle)
	}
	return os.ReadFile(filepath.Join(d.dir, name))
}

// Delete removes the stored file. Deleting a missing handle is a no-op.
func (d *DiskStorage) Delete(handle string) error {
	name := sanitize(handle)
	if name == "" {
		return fmt.Errorf("invalid handle: %q", handle)
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// sanitize reduces a client-supplied name to a safe flat filename.
func sanitize(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	if strings.HasPrefix(name, ".") {
		name = strings.TrimLeft(name, ".")
	}
	return name
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
