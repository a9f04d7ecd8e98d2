package queue

import (
	"fmt"
	"time"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
)

// Enqueue appends a payload to the queue and returns its sequence number.
//
// Under SyncEveryWrite the record is durable when Enqueue returns. Under
// the other policies a crash may lose it, but never a record that was
// already durable and never the order of what survives.
func (q *Queue) Enqueue(payload []byte) (uint64, error) {
	start := time.Now()

	if err := validatePayloadSize(int64(len(payload)), q.opts.MaxRecordSize); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return 0, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.opts.MetricsCollector.RecordEnqueueError()
		return 0, ErrClosed
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	seq, err := q.appendLocked(payload, start.UnixNano())
	if err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		q.opts.Logger.Error("failed to enqueue record",
			logging.F("payload_size", len(payload)),
			logging.F("error", err.Error()),
		)
		return 0, err
	}

	if err := q.syncAfterWriteLocked(); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return seq, fmt.Errorf("record %d appended but not synced: %w", seq, err)
	}

	q.opts.MetricsCollector.RecordEnqueue(len(payload), time.Since(start))
	q.opts.Logger.Debug("record enqueued",
		logging.F("sequence", seq),
		logging.F("payload_size", len(payload)),
	)
	return seq, nil
}

// EnqueueBatch appends multiple payloads in order with a single sync.
// Returns the sequence numbers assigned, in order.
//
// If an append fails, the sequences of the payloads appended before it are
// returned with the error; the remaining payloads are not enqueued.
func (q *Queue) EnqueueBatch(payloads [][]byte) ([]uint64, error) {
	start := time.Now()

	if len(payloads) == 0 {
		return nil, ErrEmptyBatch
	}

	totalSize := 0
	for i, payload := range payloads {
		if err := validatePayloadSize(int64(len(payload)), q.opts.MaxRecordSize); err != nil {
			q.opts.MetricsCollector.RecordEnqueueError()
			return nil, fmt.Errorf("payload at index %d: %w", i, err)
		}
		totalSize += len(payload)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.opts.MetricsCollector.RecordEnqueueError()
		return nil, ErrClosed
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	ts := start.UnixNano()
	seqs := make([]uint64, 0, len(payloads))
	for i, payload := range payloads {
		seq, err := q.appendLocked(payload, ts)
		if err != nil {
			q.opts.MetricsCollector.RecordEnqueueError()
			q.opts.Logger.Error("batch enqueue failed",
				logging.F("index", i),
				logging.F("appended", len(seqs)),
				logging.F("error", err.Error()),
			)
			if syncErr := q.syncAfterWriteLocked(); syncErr != nil {
				err = fmt.Errorf("%w (sync: %v)", err, syncErr)
			}
			return seqs, fmt.Errorf("payload at index %d: %w", i, err)
		}
		seqs = append(seqs, seq)
	}

	if err := q.syncAfterWriteLocked(); err != nil {
		q.opts.MetricsCollector.RecordEnqueueError()
		return seqs, fmt.Errorf("batch appended but not synced: %w", err)
	}

	q.opts.MetricsCollector.RecordEnqueueBatch(len(payloads), totalSize, time.Since(start))
	q.opts.Logger.Debug("batch enqueued",
		logging.F("count", len(payloads)),
		logging.F("first_sequence", seqs[0]),
		logging.F("total_size", totalSize),
	)
	return seqs, nil
}

// appendLocked encodes payload as the next record and appends it.
// Must be called with q.writeMu held.
func (q *Queue) appendLocked(payload []byte, ts int64) (uint64, error) {
	stored, codec, err := q.storedPayload(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to compress payload: %w", err)
	}

	seq := q.segments.NextSequence()
	rec := &format.Record{
		Sequence:    seq,
		Timestamp:   ts,
		Compression: codec,
		Payload:     stored,
	}
	buf := rec.Marshal()

	if !q.segments.Active().Fits(len(buf)) {
		if err := checkDiskSpace(q.dir, q.opts.MinFreeDiskSpace); err != nil {
			return 0, err
		}
	}

	res, err := q.segments.Append(seq, buf)
	if err != nil {
		return 0, err
	}

	if res.Rotated {
		q.opts.MetricsCollector.RecordRotation()
		q.updateMetrics()
	}
	return seq, nil
}

// syncAfterWriteLocked applies the sync policy after an append.
// Must be called with q.writeMu held.
func (q *Queue) syncAfterWriteLocked() error {
	switch q.opts.SyncPolicy {
	case SyncEveryWrite:
	case SyncIntervalPolicy:
		if time.Since(q.lastSync) < q.opts.SyncInterval {
			return nil
		}
	default:
		return nil
	}

	if err := q.segments.Sync(); err != nil {
		return err
	}
	q.lastSync = time.Now()
	return nil
}
