package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/filequeue/internal/format"
)

// State is the lifecycle state of a segment.
type State int32

const (
	// StateActive is the single segment accepting appends
	StateActive State = iota

	// StateSealed segments are immutable and readable
	StateSealed

	// StateReclaimable segments are fully consumed and being archived or removed
	StateReclaimable

	// StateDeleted segments have been removed from disk
	StateDeleted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSealed:
		return "sealed"
	case StateReclaimable:
		return "reclaimable"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Segment is one append-only segment file.
//
// Appends are serialized by an internal mutex. Reads never take it: the
// write offset is published atomically after the bytes are written, and
// ReadAt never looks past it.
type Segment struct {
	id       uint64
	path     string
	baseSeq  uint64
	capacity uint64
	created  time.Time

	file *os.File

	mu           sync.Mutex
	writeOffset  atomic.Uint64
	syncedOffset atomic.Uint64
	count        atomic.Uint64
	state        atomic.Int32
	sealedAt     atomic.Int64
	closed       bool
}

// Create creates a new segment file with the given id, base sequence and capacity.
// The header is written and fsynced, and so is the directory entry.
func Create(dir string, id, baseSeq, capacity uint64) (*Segment, error) {
	if capacity < format.SegmentHeaderSize+format.RecordHeaderSize {
		return nil, fmt.Errorf("segment capacity %d too small", capacity)
	}

	path := filepath.Join(dir, FormatSegmentName(id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644) //nolint:gosec // G304: Path is user-provided for queue data
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	now := time.Now()
	header := format.NewSegmentHeader(id, baseSeq, capacity, now.UnixNano())
	if _, err := f.WriteAt(header.Marshal(), 0); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to sync segment header: %w", err)
	}
	if err := format.SyncDir(dir); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to sync directory: %w", err)
	}

	s := &Segment{
		id:       id,
		path:     path,
		baseSeq:  baseSeq,
		capacity: capacity,
		created:  now,
		file:     f,
	}
	s.writeOffset.Store(format.SegmentHeaderSize)
	s.syncedOffset.Store(format.SegmentHeaderSize)
	s.state.Store(int32(StateActive))

	return s, nil
}

// Open opens an existing segment file and validates its header.
//
// The returned segment is Active and considered empty until Restore is
// called with the result of a Scan. A header that was never completely
// written is reported as format.ErrIntegrity.
func Open(path string) (*Segment, error) {
	id, err := ParseSegmentName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644) //nolint:gosec // G304: Path is user-provided for queue data
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file: %w", err)
	}

	header, err := format.UnmarshalSegmentHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("segment %d: %w", id, err)
	}
	if err := header.Validate(); err != nil {
		_ = f.Close()
		return nil, &CorruptionError{SegmentID: id, Offset: 0, Err: err}
	}
	if header.SegmentID != id {
		_ = f.Close()
		return nil, &CorruptionError{SegmentID: id, Offset: 0,
			Err: fmt.Errorf("header names segment %d", header.SegmentID)}
	}

	s := &Segment{
		id:       id,
		path:     path,
		baseSeq:  header.BaseSequence,
		capacity: header.Capacity,
		created:  time.Unix(0, header.CreatedAt),
		file:     f,
	}
	s.writeOffset.Store(format.SegmentHeaderSize)
	s.syncedOffset.Store(format.SegmentHeaderSize)
	s.state.Store(int32(StateActive))

	if info, err := f.Stat(); err == nil {
		s.sealedAt.Store(info.ModTime().UnixNano())
	}

	return s, nil
}

// Append writes one encoded record at the write offset and publishes the new
// offset. Returns ErrSegmentFull when the record does not fit in the remaining
// capacity and ErrSealed once the segment is sealed.
func (s *Segment) Append(rec []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}
	if State(s.state.Load()) != StateActive {
		return 0, ErrSealed
	}

	off := s.writeOffset.Load()
	end := off + uint64(len(rec))
	if end > s.capacity {
		return 0, ErrSegmentFull
	}

	// A failed or partial write leaves the offset unpublished; the next append overwrites it.
	if _, err := s.file.WriteAt(rec, int64(off)); err != nil { //nolint:gosec // G115: offset bounded by capacity
		return 0, fmt.Errorf("failed to write record: %w", err)
	}

	s.writeOffset.Store(end)
	s.count.Add(1)
	return end, nil
}

// Fits reports whether a record of n bytes fits in the remaining capacity.
func (s *Segment) Fits(n int) bool {
	return s.writeOffset.Load()+uint64(n) <= s.capacity
}

// Sync makes every published byte durable. It is a no-op when nothing was
// appended since the last sync.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncLocked()
}

func (s *Segment) syncLocked() error {
	if s.closed {
		return os.ErrClosed
	}

	off := s.writeOffset.Load()
	if off == s.syncedOffset.Load() {
		return nil
	}
	if err := datasync(s.file); err != nil {
		return fmt.Errorf("failed to sync segment %d: %w", s.id, err)
	}
	s.syncedOffset.Store(off)
	return nil
}

// Seal fsyncs the segment and refuses further appends. Sealing twice is a no-op.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) != StateActive {
		return nil
	}
	if err := s.syncLocked(); err != nil {
		return err
	}
	s.state.Store(int32(StateSealed))
	s.sealedAt.Store(time.Now().UnixNano())
	return nil
}

// SealRecovered marks a segment reopened by recovery as sealed. The file
// modification time stays its seal time, so age-based retention still
// counts from the original seal.
func (s *Segment) SealRecovered() {
	s.state.CompareAndSwap(int32(StateActive), int32(StateSealed))
}

// Restore installs the recovered extent of the segment: the offset just past
// its last intact record and the number of records it holds.
func (s *Segment) Restore(end, records uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeOffset.Store(end)
	s.syncedOffset.Store(end)
	s.count.Store(records)
}

// Truncate physically cuts the file at offset. Only recovery calls it, before
// the segment is shared.
func (s *Segment) Truncate(offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < format.SegmentHeaderSize {
		return fmt.Errorf("truncate offset %d inside segment header", offset)
	}
	if err := s.file.Truncate(int64(offset)); err != nil { //nolint:gosec // G115: offset bounded by file size
		return fmt.Errorf("failed to truncate segment %d: %w", s.id, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %d: %w", s.id, err)
	}
	if s.writeOffset.Load() > offset {
		s.writeOffset.Store(offset)
	}
	s.syncedOffset.Store(s.writeOffset.Load())
	return nil
}

// MarkReclaimable flags a sealed segment as fully consumed.
func (s *Segment) MarkReclaimable() {
	s.state.CompareAndSwap(int32(StateSealed), int32(StateReclaimable))
}

// Close releases the file handle. Closing twice is a no-op.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Remove closes the segment and deletes its file.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove segment %d: %w", s.id, err)
	}
	s.state.Store(int32(StateDeleted))
	return nil
}

// ID returns the segment id.
func (s *Segment) ID() uint64 { return s.id }

// Path returns the segment file path.
func (s *Segment) Path() string { return s.path }

// BaseSequence returns the sequence of the first record in the segment.
func (s *Segment) BaseSequence() uint64 { return s.baseSeq }

// Capacity returns the maximum file size, header included.
func (s *Segment) Capacity() uint64 { return s.capacity }

// CreatedAt returns the time the segment was created.
func (s *Segment) CreatedAt() time.Time { return s.created }

// SealedAt returns when the segment was sealed, or the file's last
// modification time for segments reopened by recovery.
func (s *Segment) SealedAt() time.Time { return time.Unix(0, s.sealedAt.Load()) }

// WriteOffset returns the published end of the segment.
func (s *Segment) WriteOffset() uint64 { return s.writeOffset.Load() }

// SyncedOffset returns the end of the durable prefix of the segment.
func (s *Segment) SyncedOffset() uint64 { return s.syncedOffset.Load() }

// Count returns the number of records in the segment.
func (s *Segment) Count() uint64 { return s.count.Load() }

// NextSequence returns the sequence the next appended record will carry.
func (s *Segment) NextSequence() uint64 { return s.baseSeq + s.count.Load() }

// Empty reports whether the segment holds no records.
func (s *Segment) Empty() bool { return s.count.Load() == 0 }

// State returns the lifecycle state.
func (s *Segment) State() State { return State(s.state.Load()) }

// IsSealed reports whether the segment refuses appends.
func (s *Segment) IsSealed() bool { return s.State() != StateActive }

// Contains reports whether seq is stored in this segment.
func (s *Segment) Contains(seq uint64) bool {
	return seq >= s.baseSeq && seq < s.NextSequence()
}
