// Package queue provides a persistent FIFO queue of byte payloads.
//
// Queue provides a durable, disk-backed queue with:
//   - Append-only segment files with automatic rotation
//   - Strict FIFO delivery with gap-free sequence numbers
//   - At-least-once delivery through explicit acknowledgement
//   - Crash recovery that truncates torn tails and refuses corrupt history
//   - Reclamation of fully consumed segments
//
// Basic usage:
//
//	q, err := queue.Open("/path/to/queue", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	seq, err := q.Enqueue([]byte("hello"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := q.Dequeue()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if rec != nil {
//	    // process rec.Payload, then
//	    _ = q.Ack(rec.Sequence)
//	}
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnykmshr/filequeue/internal/cursor"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/metrics"
	"github.com/vnykmshr/filequeue/internal/recovery"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// LockFileName is the name of the lock file in the queue directory.
const LockFileName = "LOCK"

// Record is a dequeued entry.
type Record struct {
	// Sequence identifies the record; pass it to Ack
	Sequence uint64

	// Timestamp is the Unix time in nanoseconds when the record was enqueued
	Timestamp int64

	// Payload is the caller's payload, decompressed
	Payload []byte
}

// Queue is a persistent, disk-backed FIFO queue.
//
// A Queue is safe for concurrent use. Appends are serialized with each
// other and consumer operations are serialized with each other; the two
// sides do not block one another except during segment rotation.
// A Queue starts no goroutines: syncing and reclamation run inside the
// calls that trigger them.
type Queue struct {
	opts    *Options
	dir     string
	queueID string
	lock    *dirLock

	// mu guards closed; operations hold it shared, Close exclusively.
	mu     sync.RWMutex
	closed bool

	// writeMu serializes appenders.
	writeMu  sync.Mutex
	lastSync time.Time

	// readMu serializes consumers so peek, decode and advance are atomic.
	readMu sync.Mutex

	segments *segment.Manager
	cursor   *cursor.Cursor
}

// Open opens or creates a queue at the specified directory.
// Creates the directory if it doesn't exist.
//
// Open takes an exclusive lock on the directory and returns ErrLocked if
// another handle holds it. Existing segments are recovered: a torn tail of
// the newest segment is truncated, and corruption anywhere else fails Open
// with an error matching ErrCorruption.
func Open(dir string, opts *Options) (*Queue, error) {
	if opts == nil {
		opts = DefaultOptions(dir)
	}

	// Work on copies so the caller's options are never mutated
	o := *opts
	if o.SegmentOptions == nil {
		o.SegmentOptions = segment.DefaultManagerOptions(dir)
	}
	segOpts := *o.SegmentOptions
	segOpts.Directory = dir
	o.SegmentOptions = &segOpts

	if o.Logger == nil {
		o.Logger = logging.NoopLogger{}
	}
	if o.MetricsCollector == nil {
		o.MetricsCollector = metrics.NoopCollector{}
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("filequeue")
	}
	if o.StreamPollInterval == 0 {
		o.StreamPollInterval = 100 * time.Millisecond
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	q, err := open(dir, &o, lock)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	return q, nil
}

func open(dir string, opts *Options, lock *dirLock) (*Queue, error) {
	start := time.Now()
	st, err := recovery.Recover(context.Background(), recovery.Options{
		Directory:   dir,
		Concurrency: opts.RecoveryConcurrency,
		Logger:      opts.Logger,
		Tracer:      opts.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recover queue: %w", err)
	}

	segOpts := opts.SegmentOptions
	segOpts.QueueID = st.QueueID
	segOpts.Logger = opts.Logger
	segOpts.Tracer = opts.Tracer

	segments, err := segment.NewManager(segOpts, st.Segments, st.NextSegmentID, st.NextSequence)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create segment manager: %w", err)
	}

	q := &Queue{
		opts:     opts,
		dir:      dir,
		queueID:  st.QueueID,
		lock:     lock,
		lastSync: time.Now(),
		segments: segments,
		cursor: cursor.New(segments, cursor.Options{
			Directory: dir,
			QueueID:   st.QueueID,
			Logger:    opts.Logger,
		}, st.Committed),
	}

	if st.Dirty {
		if err := q.cursor.Flush(); err != nil {
			_ = segments.Close()
			return nil, err
		}
	}

	opts.MetricsCollector.RecordRecovery(st.RecoveredBytes, st.TruncatedBytes, st.MetadataReset, time.Since(start))
	q.updateMetrics()

	opts.Logger.Info("queue opened",
		logging.F("dir", dir),
		logging.F("queue_id", q.queueID),
		logging.F("next_sequence", segments.NextSequence()),
		logging.F("committed_sequence", q.cursor.Committed().Sequence),
		logging.F("sync_policy", opts.SyncPolicy.String()),
	)
	return q, nil
}

// ID returns the persistent identity of the queue.
func (q *Queue) ID() string {
	return q.queueID
}

// Dir returns the queue directory.
func (q *Queue) Dir() string {
	return q.dir
}

// Close flushes the committed position, seals the active segment and
// releases the directory lock. Closing twice is a no-op.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	if err := q.segments.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close segments: %w", err))
	}
	if err := q.cursor.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := q.lock.release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release lock: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		q.opts.Logger.Error("queue close failed",
			logging.F("dir", q.dir),
			logging.F("error", err.Error()),
		)
	} else {
		q.opts.Logger.Info("queue closed", logging.F("dir", q.dir))
	}
	return err
}

// IsClosed reports whether Close has been called.
func (q *Queue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.closed
}
