// Package osutil provides the small filesystem helpers shared by the
// engine, config and federation storage layers: directory creation and
// plain vs. atomic file writes.
package osutil

import "os"

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
)

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

// WriteFile writes data to filename directly (non-atomic); used for
// config files and other outputs where a torn write just means a rerun.
func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// WriteFileAtomic writes data to a temporary file in the same directory as
// filename and renames it into place, so readers never observe a partial
// write. Used for state.dat and other files whose corruption would be fatal
// on restore.
func WriteFileAtomic(filename string, data []byte) error {
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePerm); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}
