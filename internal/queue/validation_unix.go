//go:build linux || darwin || freebsd || dragonfly

package queue

import (
	"golang.org/x/sys/unix"
)

// availableBytes returns the space available to unprivileged users.
func availableBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:gosec,unconvert // field widths differ per platform
}
