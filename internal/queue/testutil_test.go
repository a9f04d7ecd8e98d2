package queue

import (
	"fmt"
	"os"
	"testing"

	"github.com/vnykmshr/filequeue/internal/format"
)

// testOptions returns options for a queue in dir with the disk space check
// disabled and every write synced.
func testOptions(dir string) *Options {
	opts := DefaultOptions(dir)
	opts.MinFreeDiskSpace = 0
	opts.SyncPolicy = SyncEveryWrite
	return opts
}

// setupQueue creates a test queue in a fresh directory.
// mutate adjusts the options before Open.
// The queue is automatically closed when the test completes.
func setupQueue(t *testing.T, mutate ...func(*Options)) *Queue {
	t.Helper()
	return openQueue(t, t.TempDir(), mutate...)
}

// openQueue opens the queue in dir with test options.
func openQueue(t *testing.T, dir string, mutate ...func(*Options)) *Queue {
	t.Helper()

	opts := testOptions(dir)
	for _, fn := range mutate {
		fn(opts)
	}

	q, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}

	t.Cleanup(func() { _ = q.Close() })

	return q
}

// withCapacity sets the segment capacity.
func withCapacity(capacity uint64) func(*Options) {
	return func(o *Options) {
		o.SegmentOptions.SegmentCapacity = capacity
	}
}

// capacityFor returns a segment capacity holding exactly n records whose
// payloads are payloadLen bytes.
func capacityFor(n, payloadLen int) uint64 {
	return uint64(format.SegmentHeaderSize + n*format.RecordSize(payloadLen))
}

// msg returns the payload enqueueN uses for index i.
func msg(i int) string {
	return fmt.Sprintf("msg-%04d", i)
}

// enqueueN enqueues n records "msg-0000", "msg-0001", ... and returns their sequences.
func enqueueN(t *testing.T, q *Queue, n int) []uint64 {
	t.Helper()

	seqs := make([]uint64, n)
	for i := 0; i < n; i++ {
		seq, err := q.Enqueue([]byte(msg(i)))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		seqs[i] = seq
	}

	return seqs
}

// enqueueMessages enqueues specific payloads and returns their sequences.
func enqueueMessages(t *testing.T, q *Queue, messages []string) []uint64 {
	t.Helper()

	seqs := make([]uint64, len(messages))
	for i, m := range messages {
		seq, err := q.Enqueue([]byte(m))
		if err != nil {
			t.Fatalf("enqueue message %d (%s) failed: %v", i, m, err)
		}
		seqs[i] = seq
	}

	return seqs
}

// dequeueN dequeues n records and returns them.
// Fails the test if fewer records are available.
func dequeueN(t *testing.T, q *Queue, n int) []*Record {
	t.Helper()

	recs := make([]*Record, n)
	for i := 0; i < n; i++ {
		rec, err := q.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d failed: %v", i, err)
		}
		if rec == nil {
			t.Fatalf("dequeue %d returned nil, queue drained early", i)
		}
		recs[i] = rec
	}

	return recs
}

// assertDequeue dequeues one record and checks its sequence and payload.
func assertDequeue(t *testing.T, q *Queue, wantSeq uint64, wantPayload string) {
	t.Helper()

	rec, err := q.Dequeue()
	assertNoError(t, err)
	if rec == nil {
		t.Fatalf("Dequeue() = nil, want sequence %d", wantSeq)
	}
	if rec.Sequence != wantSeq {
		t.Errorf("Sequence = %d, want %d", rec.Sequence, wantSeq)
	}
	if string(rec.Payload) != wantPayload {
		t.Errorf("Payload = %q, want %q", rec.Payload, wantPayload)
	}
}

// assertEmpty checks that Dequeue returns no record.
func assertEmpty(t *testing.T, q *Queue) {
	t.Helper()

	rec, err := q.Dequeue()
	assertNoError(t, err)
	if rec != nil {
		t.Fatalf("Dequeue() = record %d, want nil", rec.Sequence)
	}
}

// assertStats validates the pending and unread counts.
func assertStats(t *testing.T, q *Queue, wantPending, wantUnread uint64) {
	t.Helper()

	stats := q.Stats()
	if stats.Pending != wantPending {
		t.Errorf("Pending = %d, want %d", stats.Pending, wantPending)
	}
	if stats.Unread != wantUnread {
		t.Errorf("Unread = %d, want %d", stats.Unread, wantUnread)
	}
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// crash drops the queue without closing it and cuts every segment file
// back to its last fsync, as losing the page cache in a power failure
// would. The directory lock is released so the queue can be reopened.
func crash(t *testing.T, q *Queue) {
	t.Helper()

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	type cut struct {
		path string
		size uint64
	}
	var cuts []cut
	for _, s := range q.segments.Segments() {
		cuts = append(cuts, cut{path: s.Path(), size: s.SyncedOffset()})
	}

	q.segments.Abandon()
	for _, c := range cuts {
		if err := os.Truncate(c.path, int64(c.size)); err != nil { //nolint:gosec // G115: test values
			t.Fatalf("failed to truncate %s: %v", c.path, err)
		}
	}
	assertNoError(t, q.lock.release())
}

// appendBytes writes raw bytes to the end of a file.
func appendBytes(t *testing.T, path string, data []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // G304: test path
	assertNoError(t, err)
	_, err = f.Write(data)
	assertNoError(t, err)
	assertNoError(t, f.Close())
}
