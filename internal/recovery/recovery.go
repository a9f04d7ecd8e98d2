// Package recovery rebuilds queue state from a queue directory at open time.
//
// Recovery opens every segment file in id order and checks it record by
// record:
//   - Sealed segments (all but the newest) must be intact; any integrity
//     failure is a *segment.CorruptionError and the queue refuses to open
//   - The newest segment is cut at its first bad record, which is the torn
//     tail of an append that never became durable
//   - Consecutive segments must chain: each base sequence follows the
//     previous segment's last record
//
// The committed position comes from the metadata file. When that file is
// missing, unreadable, or points somewhere that is not a record boundary of
// a retained segment, the committed position falls back to the oldest
// retained record and the records are delivered again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// Options configures recovery.
type Options struct {
	// Directory is the queue directory
	Directory string

	// Concurrency bounds how many sealed segments are verified at once
	Concurrency int

	// Logger for truncation and metadata reset events
	Logger logging.Logger

	// Tracer for the recovery span
	Tracer trace.Tracer
}

// State is the queue state rebuilt from disk.
type State struct {
	// Segments are the retained segments, oldest first. All but the last
	// are sealed. Empty for a queue with no segment files yet.
	Segments []*segment.Segment

	// Committed is the first record not yet acknowledged
	Committed format.Position

	// NextSequence is the sequence the next enqueued record will carry
	NextSequence uint64

	// NextSegmentID is the id the next created segment will take
	NextSegmentID uint64

	// QueueID is the persistent identity of the queue
	QueueID string

	// RecoveredBytes is the total size of the intact segment data
	RecoveredBytes uint64

	// TruncatedBytes is the size of the torn tail cut from the newest segment
	TruncatedBytes uint64

	// MetadataReset is set when the committed position had to fall back to
	// the oldest retained record
	MetadataReset bool

	// Dirty is set when the metadata file must be rewritten
	Dirty bool
}

// Close closes every segment in the state.
func (s *State) Close() {
	for _, seg := range s.Segments {
		_ = seg.Close()
	}
}

// Recover opens the segments and metadata found in opts.Directory.
func Recover(ctx context.Context, opts Options) (st *State, err error) {
	if opts.Logger == nil {
		opts.Logger = logging.NoopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("filequeue/recovery")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	ctx, span := opts.Tracer.Start(ctx, "recovery.Recover",
		trace.WithAttributes(attribute.String("filequeue.dir", opts.Directory)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	r := &recoverer{opts: opts, st: &State{}}
	defer func() {
		if err != nil {
			r.st.Close()
		}
	}()

	if err := r.removeStaleTemp(); err != nil {
		return nil, err
	}
	if err := r.openSegments(); err != nil {
		return nil, err
	}
	if err := r.scanSegments(ctx); err != nil {
		return nil, err
	}
	if err := r.checkChain(); err != nil {
		return nil, err
	}
	r.loadCommitted()

	span.SetAttributes(
		attribute.Int("filequeue.segments", len(r.st.Segments)),
		attribute.Int64("filequeue.next_sequence", int64(r.st.NextSequence)), //nolint:gosec // G115: sequences stay far below MaxInt64
		attribute.Int64("filequeue.truncated_bytes", int64(r.st.TruncatedBytes)), //nolint:gosec // G115: bounded by segment capacity
		attribute.Bool("filequeue.metadata_reset", r.st.MetadataReset),
	)
	opts.Logger.Info("recovered queue",
		logging.F("dir", opts.Directory),
		logging.F("queue_id", r.st.QueueID),
		logging.F("segments", len(r.st.Segments)),
		logging.F("next_sequence", r.st.NextSequence),
		logging.F("committed", r.st.Committed.String()),
		logging.F("duration", time.Since(start)),
	)
	return r.st, nil
}

type recoverer struct {
	opts  Options
	st    *State
	scans []segment.ScanResult
}

// removeStaleTemp deletes a metadata temp file left by a crash mid-write.
func (r *recoverer) removeStaleTemp() error {
	tmp := filepath.Join(r.opts.Directory, format.MetadataFileName+".tmp")
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale metadata temp file: %w", err)
	}
	return nil
}

func (r *recoverer) openSegments() error {
	infos, err := segment.DiscoverSegments(r.opts.Directory)
	if err != nil {
		return err
	}

	for i, info := range infos {
		seg, err := segment.Open(info.Path)
		if err == nil {
			r.st.Segments = append(r.st.Segments, seg)
			continue
		}

		// A crash while creating the newest segment leaves a file with a
		// torn header and no records. Nothing was acknowledged from it.
		last := i == len(infos)-1
		if last && info.Size <= format.SegmentHeaderSize &&
			errors.Is(err, format.ErrIntegrity) && !errors.Is(err, segment.ErrCorruption) {
			r.opts.Logger.Warn("discarding segment with torn header",
				logging.F("segment", info.ID),
				logging.F("size", info.Size),
			)
			if err := os.Remove(info.Path); err != nil {
				return fmt.Errorf("failed to remove torn segment %d: %w", info.ID, err)
			}
			if err := format.SyncDir(r.opts.Directory); err != nil {
				return fmt.Errorf("failed to sync directory: %w", err)
			}
			continue
		}

		if errors.Is(err, format.ErrIntegrity) && !errors.Is(err, segment.ErrCorruption) {
			return &segment.CorruptionError{SegmentID: info.ID, Offset: 0, Err: err}
		}
		return err
	}
	return nil
}

// scanSegments verifies sealed segments concurrently and cuts the torn tail
// of the newest one.
func (r *recoverer) scanSegments(ctx context.Context) error {
	segs := r.st.Segments
	if len(segs) == 0 {
		return nil
	}
	r.scans = make([]segment.ScanResult, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, seg := range segs[:len(segs)-1] {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := seg.Scan(nil)
			if err != nil {
				return err
			}
			if res.Torn() {
				return &segment.CorruptionError{SegmentID: seg.ID(), Offset: res.End, Err: res.Err}
			}
			r.scans[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	last := segs[len(segs)-1]
	res, err := last.Scan(nil)
	if err != nil {
		return err
	}
	r.scans[len(segs)-1] = res

	for i, seg := range segs {
		seg.Restore(r.scans[i].End, r.scans[i].Records)
		r.st.RecoveredBytes += r.scans[i].End
		if i < len(segs)-1 {
			seg.SealRecovered()
		}
	}

	if res.Torn() {
		r.st.TruncatedBytes = res.FileSize - res.End
		r.opts.Logger.Warn("truncating torn tail",
			logging.F("segment", last.ID()),
			logging.F("offset", res.End),
			logging.F("bytes", r.st.TruncatedBytes),
			logging.F("records", res.Records),
			logging.F("reason", res.Err),
		)
		if err := last.Truncate(res.End); err != nil {
			return err
		}
	}
	return nil
}

func (r *recoverer) checkChain() error {
	segs := r.st.Segments
	for i := 1; i < len(segs); i++ {
		if want := segs[i-1].NextSequence(); segs[i].BaseSequence() != want {
			return &segment.CorruptionError{SegmentID: segs[i].ID(), Offset: 0,
				Err: fmt.Errorf("%w: base sequence %d, previous segment ends before %d", format.ErrIntegrity, segs[i].BaseSequence(), want)}
		}
	}
	return nil
}

// loadCommitted reads the metadata file and settles the committed position
// against the recovered segments.
func (r *recoverer) loadCommitted() {
	st := r.st
	metaPath := filepath.Join(r.opts.Directory, format.MetadataFileName)

	meta, err := format.ReadMetadata(metaPath)
	missing := errors.Is(err, fs.ErrNotExist)
	if err != nil && !missing {
		r.opts.Logger.Warn("ignoring unreadable metadata",
			logging.F("path", metaPath),
			logging.F("error", err),
		)
	}
	if err != nil {
		meta = nil
	}

	if meta != nil {
		st.QueueID = meta.QueueID
		st.NextSegmentID = meta.NextSegmentID
	} else {
		st.QueueID = uuid.NewString()
		st.Dirty = true
	}

	if len(st.Segments) == 0 {
		// Fresh queue, or every segment was reclaimed before a crash:
		// the first segment will be created at the committed position.
		if meta != nil {
			st.NextSequence = meta.Committed.Sequence
		}
		st.Committed = format.Position{SegmentID: st.NextSegmentID, Offset: format.SegmentHeaderSize, Sequence: st.NextSequence}
		if meta != nil && meta.Committed != st.Committed {
			st.Dirty = true
		}
		st.MetadataReset = err != nil && !missing
		return
	}

	last := st.Segments[len(st.Segments)-1]
	st.NextSequence = last.NextSequence()
	if st.NextSegmentID <= last.ID() {
		st.NextSegmentID = last.ID() + 1
		st.Dirty = true
	}

	if meta == nil {
		r.reset("metadata missing or unreadable", format.Position{})
		return
	}

	pos, reason := r.settle(meta.Committed)
	switch {
	case reason == "":
		st.Committed = pos
	case pos != (format.Position{}):
		r.opts.Logger.Warn("clamping committed position to tail",
			logging.F("committed", meta.Committed.String()),
			logging.F("tail", pos.String()),
			logging.F("reason", reason),
		)
		st.Committed = pos
		st.Dirty = true
	default:
		r.reset(reason, meta.Committed)
	}
}

// settle checks a committed position against the recovered segments. It
// returns the position and an empty reason when it is valid, a clamped
// position and a reason when it lies beyond the tail, or a zero position and
// a reason when it cannot be trusted.
func (r *recoverer) settle(c format.Position) (format.Position, string) {
	segs := r.st.Segments
	oldest, last := segs[0], segs[len(segs)-1]
	tail := format.Position{SegmentID: last.ID(), Offset: last.WriteOffset(), Sequence: last.NextSequence()}

	if c.Offset == 0 {
		c.Offset = format.SegmentHeaderSize
	}

	switch {
	case c.SegmentID < oldest.ID():
		return format.Position{}, "committed segment no longer retained"
	case c.SegmentID > last.ID():
		return tail, "committed segment beyond newest segment"
	}

	var seg *segment.Segment
	for _, s := range segs {
		if s.ID() == c.SegmentID {
			seg = s
			break
		}
	}
	if seg == nil {
		return format.Position{}, "committed segment missing"
	}

	end := seg.WriteOffset()
	switch {
	case c.Offset > end && seg == last:
		return tail, "committed offset beyond recovered tail"
	case c.Offset > end:
		return format.Position{}, "committed offset beyond segment end"
	case c.Offset == end:
		if c.Sequence != seg.NextSequence() {
			return format.Position{}, "committed sequence does not match segment end"
		}
		return c, ""
	}

	rec, _, err := seg.ReadRecord(c.Offset)
	if err != nil || rec.Sequence != c.Sequence {
		return format.Position{}, "committed offset is not a record boundary"
	}
	return c, ""
}

// reset moves the committed position back to the oldest retained record.
func (r *recoverer) reset(reason string, was format.Position) {
	oldest := r.st.Segments[0]
	r.st.Committed = format.Position{SegmentID: oldest.ID(), Offset: format.SegmentHeaderSize, Sequence: oldest.BaseSequence()}
	r.st.MetadataReset = true
	r.st.Dirty = true

	r.opts.Logger.Warn("resetting committed position to oldest record",
		logging.F("reason", reason),
		logging.F("was", was.String()),
		logging.F("committed", r.st.Committed.String()),
	)
}
