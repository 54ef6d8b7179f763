// Package fsstore stores files on the local disk for the primary process.
package fsstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Disk reads and writes whole files. Writes go to a temporary file in the same
// directory that is renamed over the target, so readers never see a partial
// file.
type Disk struct {
	DirPerm  os.FileMode
	FilePerm os.FileMode
}

// New returns a Disk with private permissions.
func New() *Disk {
	return &Disk{DirPerm: 0o700, FilePerm: 0o600}
}

func (d *Disk) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *Disk) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (d *Disk) MkdirAll(dir string) error {
	return os.MkdirAll(dir, d.DirPerm)
}

func (d *Disk) Write(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(d.FilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
