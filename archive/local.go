package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalArchiver copies segment files under Dir, keyed by Object.Key.
type LocalArchiver struct {
	Dir string
}

// NewLocalArchiver creates a LocalArchiver rooted at dir.
func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{Dir: dir}
}

// Archive copies the segment to Dir/<queue id>/<segment file>.
// The copy is written to a temporary file, fsynced and renamed into place.
func (a *LocalArchiver) Archive(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(a.Dir, filepath.FromSlash(obj.Key()))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src, err := obj.Open()
	if err != nil {
		return fmt.Errorf("failed to open segment %d: %w", obj.SegmentID, err)
	}
	defer func() { _ = src.Close() }()

	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G304: Path is user-provided archive location
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy segment %d: %w", obj.SegmentID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename archive file: %w", err)
	}
	return nil
}
