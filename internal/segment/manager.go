package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnykmshr/filequeue/archive"
	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
)

// RetentionPolicy controls which fully consumed segments Reclaim deletes.
type RetentionPolicy struct {
	// KeepSegments is the number of newest consumed segments kept on disk
	KeepSegments int

	// KeepFor keeps consumed segments sealed less than this long ago. With
	// AutoReclaim, the first Ack after a segment ages out reclaims it.
	KeepFor time.Duration

	// Archiver, if set, receives each segment before it is deleted
	Archiver archive.Archiver
}

// ManagerOptions configures segment manager behavior.
type ManagerOptions struct {
	// Directory where segments are stored
	Directory string

	// QueueID identifies the queue in archive keys
	QueueID string

	// SegmentCapacity is the maximum size in bytes of new segment files
	SegmentCapacity uint64

	// Retention applies to Reclaim
	Retention RetentionPolicy

	// Logger for rotation and reclamation events
	Logger logging.Logger

	// Tracer for reclamation spans
	Tracer trace.Tracer
}

// DefaultManagerOptions returns sensible defaults for segment management.
func DefaultManagerOptions(dir string) *ManagerOptions {
	return &ManagerOptions{
		Directory:       dir,
		SegmentCapacity: 64 * 1024 * 1024, // 64MB
		Logger:          logging.NoopLogger{},
		Tracer:          noop.NewTracerProvider().Tracer("filequeue/segment"),
	}
}

// Manager owns the ordered set of segments of one queue.
//
// Segments are kept ordered by id, which is also base sequence order. The
// last segment is the only Active one. Appends and reads take the shared
// lock; rotation and reclamation take it exclusively.
type Manager struct {
	opts *ManagerOptions

	mu       sync.RWMutex
	segments []*Segment
	nextID   uint64
	closed   bool

	// reclaimMu serializes Reclaim passes so archiving can run without mu.
	reclaimMu sync.Mutex
}

// NewManager takes ownership of recovered segments, ordered by id.
// If segments is empty, a first segment with id nextID and base sequence
// nextSeq is created.
func NewManager(opts *ManagerOptions, segments []*Segment, nextID, nextSeq uint64) (*Manager, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("filequeue/segment")
	}

	for i := 1; i < len(segments); i++ {
		if segments[i].ID() <= segments[i-1].ID() {
			return nil, fmt.Errorf("segments out of order: %d after %d", segments[i].ID(), segments[i-1].ID())
		}
	}

	m := &Manager{
		opts:     opts,
		segments: append([]*Segment(nil), segments...),
		nextID:   nextID,
	}
	if n := len(segments); n > 0 && segments[n-1].ID() >= m.nextID {
		m.nextID = segments[n-1].ID() + 1
	}

	if len(m.segments) == 0 {
		seg, err := Create(opts.Directory, m.nextID, nextSeq, opts.SegmentCapacity)
		if err != nil {
			return nil, fmt.Errorf("failed to create initial segment: %w", err)
		}
		m.segments = append(m.segments, seg)
		m.nextID++
	}

	return m, nil
}

// Active returns the segment accepting appends.
func (m *Manager) Active() *Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.segments[len(m.segments)-1]
}

// Rotate seals the active segment and starts a new one whose first record
// will carry baseSeq.
func (m *Manager) Rotate(baseSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	return m.rotateLocked(baseSeq)
}

// rotateLocked makes the old segment's tail durable before the next
// segment file exists on disk. Recovery only truncates the newest segment,
// so an older segment must never lose records to a crash. The old segment
// is sealed after the create succeeds, so a failed create leaves it active
// and usable.
// Must be called with lock held.
func (m *Manager) rotateLocked(baseSeq uint64) error {
	old := m.segments[len(m.segments)-1]
	if old.NextSequence() != baseSeq {
		return fmt.Errorf("rotate at sequence %d but active segment ends at %d", baseSeq, old.NextSequence())
	}

	if err := old.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %d before rotation: %w", old.ID(), err)
	}

	seg, err := Create(m.opts.Directory, m.nextID, baseSeq, m.opts.SegmentCapacity)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}

	if err := old.Seal(); err != nil {
		_ = seg.Remove()
		return fmt.Errorf("failed to seal segment %d: %w", old.ID(), err)
	}

	m.segments = append(m.segments, seg)
	m.nextID++

	m.opts.Logger.Info("rotated segment",
		logging.F("sealed_segment", old.ID()),
		logging.F("sealed_bytes", old.WriteOffset()),
		logging.F("sealed_records", old.Count()),
		logging.F("active_segment", seg.ID()),
		logging.F("base_sequence", baseSeq),
	)
	return nil
}

// AppendResult locates an appended record.
type AppendResult struct {
	SegmentID uint64
	Offset    uint64
	Rotated   bool
}

// Append writes the encoded record rec carrying sequence seq to the active
// segment, rotating first if it does not fit. A record that cannot fit an
// empty segment returns ErrRecordTooLarge.
//
// Appends must be serialized by the caller.
func (m *Manager) Append(seq uint64, rec []byte) (AppendResult, error) {
	if uint64(len(rec)) > format.RecordHeaderSize+format.MaxRecordPayload {
		return AppendResult{}, fmt.Errorf("%w: %d bytes exceeds the record format limit", ErrRecordTooLarge, len(rec))
	}
	if uint64(len(rec)) > m.opts.SegmentCapacity-format.SegmentHeaderSize {
		return AppendResult{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrRecordTooLarge, len(rec), m.opts.SegmentCapacity)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return AppendResult{}, ErrManagerClosed
	}
	active := m.segments[len(m.segments)-1]
	end, err := active.Append(rec)
	m.mu.RUnlock()

	if err == nil {
		return AppendResult{SegmentID: active.ID(), Offset: end - uint64(len(rec))}, nil
	}
	if !errors.Is(err, ErrSegmentFull) {
		return AppendResult{}, err
	}
	if active.Empty() {
		return AppendResult{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrRecordTooLarge, len(rec), active.Capacity())
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return AppendResult{}, ErrManagerClosed
	}
	if m.segments[len(m.segments)-1] == active {
		if err := m.rotateLocked(seq); err != nil {
			m.mu.Unlock()
			return AppendResult{}, err
		}
	}
	active = m.segments[len(m.segments)-1]
	m.mu.Unlock()

	end, err = active.Append(rec)
	if errors.Is(err, ErrSegmentFull) {
		return AppendResult{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrRecordTooLarge, len(rec), active.Capacity())
	}
	if err != nil {
		return AppendResult{}, err
	}
	return AppendResult{SegmentID: active.ID(), Offset: end - uint64(len(rec)), Rotated: true}, nil
}

// Resolve returns the segment holding seq.
// Returns ErrNotFound for reclaimed or not yet written sequences.
func (m *Manager) Resolve(seq uint64) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].BaseSequence() > seq
	}) - 1
	if i < 0 || !m.segments[i].Contains(seq) {
		return nil, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	return m.segments[i], nil
}

// Lookup returns the segment with the given id.
func (m *Manager) Lookup(id uint64) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].ID() >= id
	})
	if i == len(m.segments) || m.segments[i].ID() != id {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return m.segments[i], nil
}

// After returns the first segment with an id greater than id.
func (m *Manager) After(id uint64) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].ID() > id
	})
	if i == len(m.segments) {
		return nil, fmt.Errorf("%w: after id %d", ErrNotFound, id)
	}
	return m.segments[i], nil
}

// Segments returns a snapshot of the retained segments, oldest first.
func (m *Manager) Segments() []*Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*Segment(nil), m.segments...)
}

// Oldest returns the oldest retained segment.
func (m *Manager) Oldest() *Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.segments[0]
}

// NextID returns the id the next created segment will take.
func (m *Manager) NextID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.nextID
}

// NextSequence returns the sequence the next appended record will carry.
func (m *Manager) NextSequence() uint64 {
	return m.Active().NextSequence()
}

// TotalBytes returns the combined size of all retained segment files.
func (m *Manager) TotalBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, s := range m.segments {
		total += s.WriteOffset()
	}
	return total
}

// Sync makes the active segment durable.
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrManagerClosed
	}
	return m.segments[len(m.segments)-1].Sync()
}

// ReclaimResult summarizes one Reclaim pass.
type ReclaimResult struct {
	Segments int
	Records  uint64
	Bytes    uint64
}

// Reclaim deletes sealed segments whose every record lies before the
// committed segment, subject to the retention policy. Segments are removed
// oldest first; the first segment the policy keeps ends the pass.
//
// With an Archiver configured each segment is archived before deletion.
// An archive failure keeps that segment and every newer one, and is
// returned together with what was reclaimed before it.
func (m *Manager) Reclaim(ctx context.Context, committedSegmentID uint64) (ReclaimResult, error) {
	m.reclaimMu.Lock()
	defer m.reclaimMu.Unlock()

	ctx, span := m.opts.Tracer.Start(ctx, "segment.Reclaim",
		trace.WithAttributes(attribute.Int64("filequeue.committed_segment", int64(committedSegmentID)))) //nolint:gosec // G115: ids stay far below MaxInt64
	defer span.End()

	candidates, err := m.reclaimCandidates(committedSegmentID)
	if err != nil {
		return ReclaimResult{}, err
	}

	var (
		res      ReclaimResult
		archived []*Segment
		archErr  error
	)
	for _, seg := range candidates {
		seg.MarkReclaimable()
		if a := m.opts.Retention.Archiver; a != nil {
			if archErr = m.archive(ctx, a, seg); archErr != nil {
				break
			}
		}
		archived = append(archived, seg)
	}

	if len(archived) > 0 {
		if err := m.remove(archived, &res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
	}

	span.SetAttributes(
		attribute.Int("filequeue.reclaimed_segments", res.Segments),
		attribute.Int64("filequeue.reclaimed_bytes", int64(res.Bytes)), //nolint:gosec // G115: byte counts fit in int64
	)

	if archErr != nil {
		span.RecordError(archErr)
		span.SetStatus(codes.Error, archErr.Error())
		return res, archErr
	}
	return res, nil
}

// Reclaimable reports whether a Reclaim pass with committedSegmentID would
// remove at least one segment.
func (m *Manager) Reclaimable(committedSegmentID uint64) bool {
	candidates, err := m.reclaimCandidates(committedSegmentID)
	return err == nil && len(candidates) > 0
}

// reclaimCandidates picks the consumed sealed segments the retention policy
// lets go, oldest first.
func (m *Manager) reclaimCandidates(committedSegmentID uint64) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	var consumed []*Segment
	for _, s := range m.segments[:len(m.segments)-1] {
		if s.ID() >= committedSegmentID || !s.IsSealed() {
			break
		}
		consumed = append(consumed, s)
	}

	if keep := m.opts.Retention.KeepSegments; keep > 0 {
		if keep >= len(consumed) {
			return nil, nil
		}
		consumed = consumed[:len(consumed)-keep]
	}

	if keepFor := m.opts.Retention.KeepFor; keepFor > 0 {
		cutoff := time.Now().Add(-keepFor)
		for i, s := range consumed {
			if s.SealedAt().After(cutoff) {
				consumed = consumed[:i]
				break
			}
		}
	}

	return consumed, nil
}

func (m *Manager) archive(ctx context.Context, a archive.Archiver, seg *Segment) error {
	ctx, span := m.opts.Tracer.Start(ctx, "segment.Archive",
		trace.WithAttributes(attribute.Int64("filequeue.segment", int64(seg.ID())))) //nolint:gosec // G115: ids stay far below MaxInt64
	defer span.End()

	start := time.Now()
	obj := archive.Object{
		QueueID:      m.opts.QueueID,
		SegmentID:    seg.ID(),
		BaseSequence: seg.BaseSequence(),
		Records:      seg.Count(),
		Path:         seg.Path(),
		Size:         int64(seg.WriteOffset()), //nolint:gosec // G115: bounded by capacity
	}
	if err := a.Archive(ctx, obj); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.opts.Logger.Error("failed to archive segment",
			logging.F("segment", seg.ID()),
			logging.F("error", err),
		)
		return fmt.Errorf("failed to archive segment %d: %w", seg.ID(), err)
	}

	m.opts.Logger.Info("archived segment",
		logging.F("segment", seg.ID()),
		logging.F("key", obj.Key()),
		logging.F("bytes", obj.Size),
		logging.F("duration", time.Since(start)),
	)
	return nil
}

// remove drops segments from the manager and deletes their files.
func (m *Manager) remove(segs []*Segment, res *ReclaimResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	for _, seg := range segs {
		if m.segments[0] != seg {
			return fmt.Errorf("segment %d is no longer the oldest", seg.ID())
		}
		if err := seg.Remove(); err != nil {
			return err
		}
		m.segments = m.segments[1:]

		res.Segments++
		res.Records += seg.Count()
		res.Bytes += seg.WriteOffset()

		m.opts.Logger.Info("reclaimed segment",
			logging.F("segment", seg.ID()),
			logging.F("base_sequence", seg.BaseSequence()),
			logging.F("records", seg.Count()),
			logging.F("bytes", seg.WriteOffset()),
		)
	}

	if err := format.SyncDir(m.opts.Directory); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// Close seals the active segment and closes every segment file.
// Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if err := m.segments[len(m.segments)-1].Seal(); err != nil {
		errs = append(errs, err)
	}
	for _, s := range m.segments {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close segment %d: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Abandon closes every file handle without sealing or syncing anything,
// leaving the directory as a crash would.
func (m *Manager) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, s := range m.segments {
		_ = s.Close()
	}
}
