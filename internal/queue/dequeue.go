package queue

import (
	"time"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
)

// Dequeue returns the oldest unread record and moves the read position past
// it, or returns nil when every record has been read.
//
// The record stays on disk until it is acknowledged with Ack. Records
// dequeued but not acknowledged are delivered again after Rewind or after
// the queue is reopened.
//
// A record whose payload cannot be decompressed is returned as a
// *DecodeError and the read position still moves past it.
func (q *Queue) Dequeue() (*Record, error) {
	return q.read(true)
}

// Peek returns the oldest unread record without moving the read position,
// or nil when every record has been read. Repeated calls return the same
// record until Dequeue or Rewind.
func (q *Queue) Peek() (*Record, error) {
	return q.read(false)
}

func (q *Queue) read(advance bool) (*Record, error) {
	start := time.Now()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.readMu.Lock()
	defer q.readMu.Unlock()

	rec, err := q.cursor.Peek()
	if err != nil {
		q.opts.MetricsCollector.RecordDequeueError()
		q.opts.Logger.Error("failed to read record",
			logging.F("read_position", q.cursor.Read().String()),
			logging.F("error", err.Error()),
		)
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	out, err := toRecord(rec)
	if err != nil {
		q.opts.MetricsCollector.RecordDequeueError()
		if advance {
			if aerr := q.cursor.Advance(); aerr != nil {
				return nil, aerr
			}
		}
		q.opts.Logger.Error("undecodable record",
			logging.F("sequence", rec.Sequence),
			logging.F("skipped", advance),
			logging.F("error", err),
		)
		return nil, err
	}

	if !advance {
		return out, nil
	}

	if err := q.cursor.Advance(); err != nil {
		q.opts.MetricsCollector.RecordDequeueError()
		return nil, err
	}

	q.opts.MetricsCollector.RecordDequeue(len(out.Payload), time.Since(start))
	q.opts.Logger.Debug("record dequeued",
		logging.F("sequence", out.Sequence),
		logging.F("payload_size", len(out.Payload)),
	)
	return out, nil
}

func toRecord(rec *format.Record) (*Record, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, &DecodeError{Sequence: rec.Sequence, Err: err}
	}
	return &Record{
		Sequence:  rec.Sequence,
		Timestamp: rec.Timestamp,
		Payload:   payload,
	}, nil
}

// Ack acknowledges every dequeued record up to and including seq and
// persists the new committed position. Acknowledged records are never
// delivered again.
//
// Acknowledging an already acknowledged sequence is a no-op. A sequence that
// has not been dequeued yet returns ErrNotDelivered.
//
// With AutoReclaim enabled, an Ack that moves the committed position into a
// newer segment runs a reclamation pass. With Retention.KeepFor set, any Ack
// also runs one once a consumed segment has aged past KeepFor. A failed pass
// is logged and does not fail the Ack.
func (q *Queue) Ack(seq uint64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	q.readMu.Lock()
	before := q.cursor.Committed()
	moved, err := q.cursor.Commit(seq)
	after := q.cursor.Committed()
	q.readMu.Unlock()

	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	q.opts.MetricsCollector.RecordAck(after.Sequence - before.Sequence)
	q.opts.Logger.Debug("records acknowledged",
		logging.F("through", seq),
		logging.F("committed", after.String()),
	)

	if q.opts.AutoReclaim && q.shouldReclaim(before, after) {
		// The error is already logged and counted
		_, _ = q.reclaim()
	}
	q.updateMetrics()
	return nil
}

// shouldReclaim reports whether an Ack that moved the committed position
// from before to after should run a reclamation pass.
func (q *Queue) shouldReclaim(before, after format.Position) bool {
	if after.SegmentID != before.SegmentID {
		return true
	}
	return q.opts.SegmentOptions.Retention.KeepFor > 0 && q.segments.Reclaimable(after.SegmentID)
}

// Rewind moves the read position back to the committed position, so every
// record dequeued but not acknowledged is delivered again.
// Returns the number of records that become readable again.
func (q *Queue) Rewind() (uint64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrClosed
	}

	q.readMu.Lock()
	n := q.cursor.Rewind()
	q.readMu.Unlock()

	q.opts.MetricsCollector.RecordRewind()
	q.opts.Logger.Debug("rewound to committed position",
		logging.F("redelivered", n),
	)
	return n, nil
}
