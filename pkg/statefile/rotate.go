package statefile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Rotate atomically replaces the file at path with the output of
// write. The new content goes to path+".new" first; the previous file
// is linked aside to path+".old" before the rename, so a failure at
// any step leaves the previous file intact and a corrupted overlay
// always has a one-generation backup.
func Rotate(path string, write func(io.Writer) error) error {
	newPath := path + ".new"
	oldPath := path + ".old"

	f, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", newPath, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(newPath)
		return fmt.Errorf("write %s: %w", newPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(newPath)
		return fmt.Errorf("sync %s: %w", newPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(newPath)
		return fmt.Errorf("close %s: %w", newPath, err)
	}

	if err := os.Remove(oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", oldPath, err)
	}
	if err := os.Link(path, oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("back up %s: %w", path, err)
	}
	if err := os.Rename(newPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", newPath, err)
	}
	return nil
}

// ErrLocked reports that another process holds the overlay lock.
var ErrLocked = errors.New("lock held by another process")

// Lock is a cooperative exclusive lock asserted by creating a lock
// file. It does not detect stale locks; a crashed holder leaves the
// file behind for the operator to remove.
type Lock struct {
	path string
}

// Acquire takes the lock at path, failing with ErrLocked when the
// file already exists.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release drops the lock. Releasing a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
