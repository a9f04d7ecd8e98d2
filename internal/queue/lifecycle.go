package queue

import (
	"context"
	"time"

	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/metrics"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// Sync makes every appended record durable.
func (q *Queue) Sync() error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	if err := q.segments.Sync(); err != nil {
		return err
	}
	q.lastSync = time.Now()
	return nil
}

// Reclaim deletes sealed segments whose records are all acknowledged,
// subject to the retention policy. With an Archiver configured each segment
// is archived first; an archive failure stops the pass and keeps the
// remaining segments.
func (q *Queue) Reclaim(ctx context.Context) (segment.ReclaimResult, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return segment.ReclaimResult{}, ErrClosed
	}

	res, err := q.reclaimContext(ctx)
	q.updateMetrics()
	return res, err
}

// reclaim runs a pass in the background of another operation.
// Must be called with q.mu held.
func (q *Queue) reclaim() (segment.ReclaimResult, error) {
	return q.reclaimContext(context.Background())
}

// Must be called with q.mu held.
func (q *Queue) reclaimContext(ctx context.Context) (segment.ReclaimResult, error) {
	start := time.Now()
	committed := q.cursor.Committed()

	res, err := q.segments.Reclaim(ctx, committed.SegmentID)
	if res.Segments > 0 {
		q.opts.MetricsCollector.RecordReclaim(res.Segments, res.Bytes, time.Since(start))
		q.opts.Logger.Info("reclaimed segments",
			logging.F("segments", res.Segments),
			logging.F("records", res.Records),
			logging.F("bytes_freed", res.Bytes),
		)
	}
	if err != nil {
		q.opts.MetricsCollector.RecordReclaimError()
		q.opts.Logger.Error("reclamation failed",
			logging.F("committed_segment", committed.SegmentID),
			logging.F("error", err.Error()),
		)
	}
	return res, err
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	// QueueID is the persistent identity of the queue
	QueueID string

	// NextSequence is the sequence the next enqueued record will carry
	NextSequence uint64

	// ReadSequence is the sequence the next Dequeue will return
	ReadSequence uint64

	// CommittedSequence is the first sequence not yet acknowledged
	CommittedSequence uint64

	// OldestSequence is the first sequence still on disk
	OldestSequence uint64

	// Pending is the number of records not yet acknowledged
	Pending uint64

	// Unread is the number of records not yet dequeued
	Unread uint64

	// Unacked is the number of records dequeued but not yet acknowledged
	Unacked uint64

	// SegmentCount is the number of segment files on disk
	SegmentCount int

	// ActiveSegmentID is the id of the segment accepting appends
	ActiveSegmentID uint64

	// TotalBytes is the combined size of all segment files
	TotalBytes uint64
}

// Stats returns current queue statistics.
// Stats remains callable after Close and reports the final state.
func (q *Queue) Stats() *Stats {
	// Positions are loaded before the tail so that read <= next always holds
	committed := q.cursor.Committed()
	read := q.cursor.Read()
	next := q.segments.NextSequence()

	return &Stats{
		QueueID:           q.queueID,
		NextSequence:      next,
		ReadSequence:      read.Sequence,
		CommittedSequence: committed.Sequence,
		OldestSequence:    q.segments.Oldest().BaseSequence(),
		Pending:           next - committed.Sequence,
		Unread:            next - read.Sequence,
		Unacked:           read.Sequence - committed.Sequence,
		SegmentCount:      len(q.segments.Segments()),
		ActiveSegmentID:   q.segments.Active().ID(),
		TotalBytes:        q.segments.TotalBytes(),
	}
}

// Len returns the number of records Dequeue would still return.
func (q *Queue) Len() uint64 {
	read := q.cursor.Read()
	return q.segments.NextSequence() - read.Sequence
}

// Empty reports whether Dequeue would return nil.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// TotalBytes returns the combined size of all segment files.
func (q *Queue) TotalBytes() uint64 {
	return q.segments.TotalBytes()
}

// updateMetrics publishes the queue state gauges.
func (q *Queue) updateMetrics() {
	s := q.Stats()
	q.opts.MetricsCollector.UpdateQueueState(metrics.QueueState{
		Pending:           s.Pending,
		Unread:            s.Unread,
		Segments:          uint64(s.SegmentCount), //nolint:gosec // G115: count is non-negative
		TotalBytes:        s.TotalBytes,
		NextSequence:      s.NextSequence,
		CommittedSequence: s.CommittedSequence,
	})
}
