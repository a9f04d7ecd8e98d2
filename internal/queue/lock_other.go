//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

// dirLock only creates the lock file on platforms without flock.
type dirLock struct {
	file *os.File
}

func acquireLock(dir string) (*dirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // G302: lock file holds no data
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return &dirLock{file: f}, nil
}

func (l *dirLock) release() error {
	return l.file.Close()
}
