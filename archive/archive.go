// Package archive hands fully consumed segment files to long-term storage
// before the queue deletes them.
//
// An Archiver receives one Object per reclaimed segment. The queue only
// deletes the segment file after Archive returns nil; an error keeps the
// segment on disk and aborts that reclamation pass.
//
// Implementations:
//   - LocalArchiver copies segments into another directory
//   - minio.Archiver uploads to MinIO or any S3-compatible store
//   - s3.Archiver uploads to Amazon S3 with multipart uploads
//
// Throttle wraps any Archiver with a byte-rate limit.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
)

// Object describes one segment file handed to an Archiver.
type Object struct {
	// QueueID is the identity of the queue that owns the segment
	QueueID string

	// SegmentID is the id of the segment
	SegmentID uint64

	// BaseSequence is the sequence of the first record in the segment
	BaseSequence uint64

	// Records is the number of records in the segment
	Records uint64

	// Path is the local path of the segment file
	Path string

	// Size is the size of the segment file in bytes
	Size int64

	open func() (io.ReadCloser, error)
}

// Key returns the object key "<queue id>/<segment file name>".
func (o Object) Key() string {
	return path.Join(o.QueueID, fmt.Sprintf("%020d.seg", o.SegmentID))
}

// Open returns a reader over the segment file contents.
func (o Object) Open() (io.ReadCloser, error) {
	if o.open != nil {
		return o.open()
	}
	return os.Open(o.Path) //nolint:gosec // G304: Path is user-provided for queue data
}

// WithOpener returns a copy of o whose Open calls fn.
func (o Object) WithOpener(fn func() (io.ReadCloser, error)) Object {
	o.open = fn
	return o
}

// Archiver stores a segment file before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, obj Object) error
}

// Func adapts an ordinary function to the Archiver interface.
type Func func(ctx context.Context, obj Object) error

// Archive implements Archiver.
func (f Func) Archive(ctx context.Context, obj Object) error {
	return f(ctx, obj)
}
