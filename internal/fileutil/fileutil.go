package fileutil

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Exists reports whether path exists as a regular file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of the file at path, or 0 when it does not exist.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// EnsureDir creates every missing segment of dir. Segments that already exist
// are tolerated; only a genuine failure (permissions, file in the way) errors.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FreeSpace returns the number of bytes available to unprivileged processes on
// the filesystem containing path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
