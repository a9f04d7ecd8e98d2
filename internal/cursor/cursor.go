// Package cursor tracks the consume side of a queue.
//
// A Cursor holds two positions: the read position (next record to deliver)
// and the committed position (first record not yet acknowledged). Only the
// committed position is durable; it lives in the queue metadata file and is
// replaced atomically on every commit. The read position runs ahead of it by
// the records delivered but not yet acknowledged, and falls back to it on
// Rewind or after a restart.
package cursor

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// ErrNotDelivered is returned by Commit for a sequence that was never read.
var ErrNotDelivered = errors.New("sequence not delivered")

// Options configures a Cursor.
type Options struct {
	// Directory is the queue directory holding the metadata file
	Directory string

	// QueueID is written into every metadata update
	QueueID string

	// Logger for commit persistence failures
	Logger logging.Logger
}

// Cursor is the read and committed position of one queue.
type Cursor struct {
	mgr      *segment.Manager
	metaPath string
	queueID  string
	logger   logging.Logger

	mu        sync.Mutex
	read      format.Position
	committed format.Position

	// peeked is the record at read, cached until Advance or Rewind.
	peeked *delivery
}

type delivery struct {
	rec  *format.Record
	next format.Position
}

// New creates a cursor reading from committed, as rebuilt by recovery.
func New(mgr *segment.Manager, opts Options, committed format.Position) *Cursor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoopLogger{}
	}
	return &Cursor{
		mgr:       mgr,
		metaPath:  filepath.Join(opts.Directory, format.MetadataFileName),
		queueID:   opts.QueueID,
		logger:    logger,
		read:      committed,
		committed: committed,
	}
}

// Peek returns the record at the read position without consuming it, or nil
// when every written record has been read. Repeated calls return the same
// record until Advance or Rewind.
func (c *Cursor) Peek() (*format.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.peekLocked()
	if err != nil || d == nil {
		return nil, err
	}
	return d.rec, nil
}

// Must be called with c.mu held.
func (c *Cursor) peekLocked() (*delivery, error) {
	if c.peeked != nil {
		return c.peeked, nil
	}

	for {
		seg, err := c.mgr.Lookup(c.read.SegmentID)
		if err != nil {
			return nil, fmt.Errorf("read position %s: %w", c.read, err)
		}

		// Sealed is checked before reading: EOF on a segment that was already
		// sealed means it is exhausted, EOF on the active one means empty.
		sealed := seg.IsSealed()

		rec, n, err := seg.ReadRecord(c.read.Offset)
		if errors.Is(err, io.EOF) {
			if !sealed {
				return nil, nil
			}
			next, err := c.mgr.After(seg.ID())
			if err != nil {
				// The manager seals the active segment on close.
				return nil, nil
			}
			if next.BaseSequence() != c.read.Sequence {
				return nil, &segment.CorruptionError{SegmentID: next.ID(), Offset: 0,
					Err: fmt.Errorf("%w: segment starts at sequence %d, want %d", format.ErrIntegrity, next.BaseSequence(), c.read.Sequence)}
			}
			c.read = format.Position{SegmentID: next.ID(), Offset: format.SegmentHeaderSize, Sequence: c.read.Sequence}
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Sequence != c.read.Sequence {
			return nil, &segment.CorruptionError{SegmentID: seg.ID(), Offset: c.read.Offset,
				Err: fmt.Errorf("%w: record carries sequence %d, want %d", format.ErrIntegrity, rec.Sequence, c.read.Sequence)}
		}

		c.peeked = &delivery{
			rec: rec,
			next: format.Position{
				SegmentID: seg.ID(),
				Offset:    c.read.Offset + uint64(n), //nolint:gosec // G115: n is a record size
				Sequence:  c.read.Sequence + 1,
			},
		}
		return c.peeked, nil
	}
}

// Advance moves the read position past the record Peek returns.
// It is a no-op when there is nothing to read.
func (c *Cursor) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.nextLocked()
	return err
}

// Next returns the record at the read position and advances past it.
// Returns nil when there is nothing to read.
func (c *Cursor) Next() (*format.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nextLocked()
}

func (c *Cursor) nextLocked() (*format.Record, error) {
	d, err := c.peekLocked()
	if err != nil || d == nil {
		return nil, err
	}
	c.read = d.next
	c.peeked = nil
	return d.rec, nil
}

// Commit acknowledges every record up to and including seq and persists the
// new committed position. Sequences already committed are ignored; a
// sequence that was never read returns ErrNotDelivered.
//
// Commit reports whether the committed position moved.
func (c *Cursor) Commit(seq uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.committed.Sequence {
		return false, nil
	}
	if seq >= c.read.Sequence {
		return false, fmt.Errorf("%w: sequence %d, next unread %d", ErrNotDelivered, seq, c.read.Sequence)
	}

	after, err := c.positionAfter(seq)
	if err != nil {
		return false, err
	}
	pos := c.normalize(after)
	if err := c.persist(pos); err != nil {
		return false, err
	}

	c.setCommitted(pos)
	return true, nil
}

// positionAfter returns the position of the record following seq, which
// must lie in [committed, read). Record offsets are not kept per delivery:
// the segment holding seq is walked header by header, starting at the
// committed position when it is in the same segment, so acknowledging in
// order reads each header once and memory stays constant however far the
// read position runs ahead.
// Must be called with c.mu held.
func (c *Cursor) positionAfter(seq uint64) (format.Position, error) {
	if seq+1 == c.read.Sequence {
		return c.read, nil
	}

	seg, err := c.mgr.Resolve(seq)
	if err != nil {
		return format.Position{}, fmt.Errorf("locate sequence %d: %w", seq, err)
	}

	pos := format.Position{SegmentID: seg.ID(), Offset: format.SegmentHeaderSize, Sequence: seg.BaseSequence()}
	if c.committed.SegmentID == seg.ID() {
		pos = c.committed
	}
	for pos.Sequence <= seq {
		n, err := seg.RecordSizeAt(pos.Offset)
		if err != nil {
			return format.Position{}, fmt.Errorf("locate sequence %d: %w", seq, err)
		}
		pos.Offset += uint64(n) //nolint:gosec // G115: n is a record size
		pos.Sequence++
	}
	return pos, nil
}

// Rewind moves the read position back to the committed position, so records
// delivered but not acknowledged are read again.
// Returns the number of records that become readable again.
func (c *Cursor) Rewind() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.read.Sequence - c.committed.Sequence
	c.read = c.committed
	c.peeked = nil
	return n
}

// Flush rewrites the metadata file with the current committed position.
func (c *Cursor) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.normalize(c.committed)
	if err := c.persist(pos); err != nil {
		return err
	}
	c.setCommitted(pos)
	return nil
}

// setCommitted installs a persisted committed position. A read position at
// the same sequence follows it off the consumed segment.
func (c *Cursor) setCommitted(pos format.Position) {
	c.committed = pos
	if c.read.Sequence == pos.Sequence {
		c.read = pos
	}
}

// Committed returns the committed position.
func (c *Cursor) Committed() format.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.committed
}

// Read returns the read position.
func (c *Cursor) Read() format.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.read
}

// Unacked returns the number of records delivered but not committed.
func (c *Cursor) Unacked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.read.Sequence - c.committed.Sequence
}

// normalize moves a position sitting at the end of a sealed segment to the
// start of the following one, so the consumed segment becomes reclaimable.
func (c *Cursor) normalize(pos format.Position) format.Position {
	seg, err := c.mgr.Lookup(pos.SegmentID)
	if err != nil || !seg.IsSealed() || pos.Offset < seg.WriteOffset() {
		return pos
	}
	next, err := c.mgr.After(seg.ID())
	if err != nil || next.BaseSequence() != pos.Sequence {
		return pos
	}
	return format.Position{SegmentID: next.ID(), Offset: format.SegmentHeaderSize, Sequence: pos.Sequence}
}

func (c *Cursor) persist(pos format.Position) error {
	meta := format.NewQueueMetadata(c.queueID)
	meta.NextSegmentID = c.mgr.NextID()
	meta.Committed = pos
	meta.UpdatedAt = time.Now().UnixNano()

	if err := format.WriteMetadata(c.metaPath, meta); err != nil {
		c.logger.Error("failed to persist committed position",
			logging.F("committed", pos.String()),
			logging.F("error", err),
		)
		return fmt.Errorf("failed to persist committed position: %w", err)
	}
	return nil
}
