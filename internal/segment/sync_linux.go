//go:build linux

package segment

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// datasync flushes file data without forcing a metadata-only inode update.
func datasync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd())) //nolint:gosec // G115: fd fits in int
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
